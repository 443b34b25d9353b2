// Package cmd provides the CLI commands for careindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/config"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/logging"
	"github.com/Aman-CERP/careindex/internal/profiling"
	"github.com/Aman-CERP/careindex/pkg/version"
)

// annotationConsoleLogs marks commands whose log records are mirrored to
// stderr. Other commands log to the file only, so their stdout stays clean.
const annotationConsoleLogs = "careindex/console-logs"

// Global flags
var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
	profile        profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the careindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "careindex",
		Short: "Document index and retrieval for the caregiver assistant",
		Long: `careindex keeps a vector index of the care team's fiches (.docx) and of
trusted web pages in sync with their sources, and serves passage retrieval
to the caregiver chatbot over MCP.

The index is rebuilt only when sources change. While a rebuild is in
flight, retrieval refuses to answer instead of serving a partial index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("careindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .careindex.yaml")

	cmd.PersistentFlags().StringVar(&profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profile.Heap, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := startLogging(cmd, args); err != nil {
			return err
		}
		return startProfiling()
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		err := stopProfiling()
		_ = stopLogging(cmd, args)
		return err
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure for the operator.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	// A failed command skips the post-run hook.
	if perr := stopProfiling(); err == nil {
		err = perr
	}
	if err != nil {
		fmt.Fprint(root.ErrOrStderr(), cerrors.FormatForCLI(err))
	}
	return err
}

// startLogging configures the default logger from the project config. A
// config that fails to load still gets file logging with defaults; the
// command itself reports the config error.
func startLogging(cmd *cobra.Command, _ []string) error {
	// A failed command skips the post-run hook.
	_ = stopLogging(cmd, nil)

	lc := logging.DefaultConfig()
	lc.Stderr = nil
	if cfg, err := config.Load(resolvedDir()); err == nil {
		lc.Level = cfg.Logging.Level
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
		lc.MaxFiles = cfg.Logging.MaxFiles
		if cfg.Logging.FilePath != "" {
			lc.FilePath = cfg.Logging.FilePath
		}
	}
	if debugMode {
		lc.Level = "debug"
	}
	if cmd.Annotations[annotationConsoleLogs] == "true" {
		lc.Stderr = cmd.ErrOrStderr()
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_started",
		slog.String("command", cmd.Name()),
		slog.String("log_file", lc.FilePath),
		slog.String("version", version.Short()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func startProfiling() error {
	if !profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(profile)
	if err != nil {
		return err
	}
	profileSession = s
	return nil
}

func stopProfiling() error {
	if profileSession == nil {
		return nil
	}
	err := profileSession.Stop()
	profileSession = nil
	return err
}

// resolvedDir returns the absolute project directory.
func resolvedDir() string {
	dir := projectDir
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return dir
}

func consoleLogs() map[string]string {
	return map[string]string{annotationConsoleLogs: "true"}
}
