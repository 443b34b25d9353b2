package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/config"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/output"
	"github.com/Aman-CERP/careindex/internal/preflight"
)

// doctorJSON is the --json shape of the doctor command.
type doctorJSON struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the project can be indexed",
		Long: `Run the project diagnostics:

  - configuration loads and validates
  - data directory is writable and not locked by a stuck process
  - fiches directory contains .docx files
  - trusted sites file is valid
  - embedder is reachable
  - file descriptor limit`,
		Example: `  careindex doctor
  careindex doctor -v
  careindex doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var results []preflight.CheckResult
			cfg, err := config.Load(resolvedDir())
			if err != nil {
				results = []preflight.CheckResult{preflight.ConfigFailure(err)}
			} else {
				results = preflight.New(cfg).RunAll(cmd.Context())
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(doctorJSON{Status: preflight.SummaryStatus(results), Checks: results}); err != nil {
					return err
				}
			} else {
				printChecks(output.New(cmd.OutOrStdout()), results, verbose)
			}

			if preflight.HasCriticalFailures(results) {
				return cerrors.New(cerrors.ErrCodeInvalidInput, "project check failed", nil).
					WithSuggestion("fix the failed checks above and run 'careindex doctor' again")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}

func printChecks(w *output.Writer, results []preflight.CheckResult, verbose bool) {
	for _, r := range results {
		switch {
		case r.Status == preflight.StatusPass:
			w.Successf("%-17s %s", r.Name, r.Message)
		case r.IsCritical():
			w.Errorf("%-17s %s", r.Name, r.Message)
		default:
			w.Warningf("%-17s %s", r.Name, r.Message)
		}
		if verbose && r.Details != "" {
			w.Linef("  %s", r.Details)
		}
	}
	w.Newline()
	switch preflight.SummaryStatus(results) {
	case "ready":
		w.Success("All checks passed")
	case "ready_with_warnings":
		w.Warning("Ready, with warnings")
	default:
		w.Error("Some required checks failed")
	}
}
