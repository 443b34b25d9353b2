package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/daemon"
	"github.com/Aman-CERP/careindex/internal/output"
	"github.com/Aman-CERP/careindex/internal/pipeline"
)

// statusJSON is the --json shape of the status command.
type statusJSON struct {
	*pipeline.StatusReport
	WatcherPID int    `json:"watcher_pid,omitempty"`
	DataDir    string `json:"data_dir"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show readiness, journal and collections",
		Long: `Show whether readers may trust the index, what the journal records, and
what each collection holds. Disagreements between the readiness flag and
the collections are listed as issues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rep, err := a.reporter().Report()
			if err != nil {
				return err
			}
			pid, running := daemon.NewPIDFile(a.cfg.Paths.DataDir).Running()

			if jsonOutput {
				out := statusJSON{StatusReport: rep, DataDir: a.cfg.Paths.DataDir}
				if running {
					out.WatcherPID = pid
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := output.New(cmd.OutOrStdout())
			w.StatusReport(rep)
			if running {
				w.Linef("Watcher running (pid %d)", pid)
			} else {
				w.Line("No watcher running")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
