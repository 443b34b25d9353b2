package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/careindex/configs"
	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the careindex configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/careindex/config.yaml)
  3. Project config (.careindex.yaml)
  4. .env in the project directory
  5. Environment variables (CAREINDEX_*)`,
		Example: `  # Create the project config and an example trusted-sites file
  careindex config init --project --sites

  # Show effective configuration
  careindex config show

  # Print user config file path
  careindex config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project, sites bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write the commented default configuration to the user config path, or
with --project to .careindex.yaml in the project directory.

With --sites an example trusted-sites file is written to the configured
sites_file path as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, project, sites)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&project, "project", false, "Write .careindex.yaml in the project directory")
	cmd.Flags().BoolVar(&sites, "sites", false, "Also write an example trusted-sites file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Show the configuration after merging all sources, with paths resolved.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolvedDir())
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force, project, sites bool) error {
	out := output.New(cmd.OutOrStdout())

	path := config.GetUserConfigPath()
	if project {
		path = filepath.Join(resolvedDir(), config.ProjectConfigName)
	}
	if err := writeTemplate(out, path, configs.ConfigTemplate, force); err != nil {
		return err
	}

	if sites {
		sitesPath := config.NewConfig().Paths.SitesFile
		if cfg, err := config.Load(resolvedDir()); err == nil {
			sitesPath = cfg.Paths.SitesFile
		} else {
			sitesPath = filepath.Join(resolvedDir(), sitesPath)
		}
		if err := writeTemplate(out, sitesPath, configs.SitesTemplate, force); err != nil {
			return err
		}
	}

	out.Newline()
	out.Line("Next steps:")
	out.Line("  1. Edit the files to point at your fiches and trusted sites")
	out.Line("  2. Run 'careindex config show' to verify")
	out.Line("  3. Run 'careindex run' to build the index")
	return nil
}

// writeTemplate writes content to path unless the file exists and force is
// unset, in which case it only warns.
func writeTemplate(out *output.Writer, path, content string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("%s already exists (use --force to overwrite)", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	out.Successf("Created %s", path)
	return nil
}
