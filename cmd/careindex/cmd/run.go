package cmd

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/output"
	"github.com/Aman-CERP/careindex/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring the index in line with its sources once",
		Long: `Run one reconciliation: detect changed sources, convert fiches, scrape
the trusted sites when their list changed, rebuild the stale collections
and mark the index ready.

Nothing is rebuilt when the index already matches the sources. When no
collection exists yet, everything is built from scratch.`,
		Example: `  # Reconcile the project in the current directory
  careindex run

  # Reconcile another project and print the result as JSON
  careindex run -C /srv/aidants --json`,
		Args:        cobra.NoArgs,
		Annotations: consoleLogs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			trigger := a.scheduler(nil).Reconcile()
			res, err := runWithProgress(ctx, cmd, a, trigger)
			if err != nil {
				return err
			}
			return printResult(cmd, res, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the run result as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, res *pipeline.Result, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	output.New(cmd.OutOrStdout()).RunResult(res)
	return nil
}

// runWithProgress runs the pipeline, drawing an embedding progress bar on
// stderr when it is a terminal.
func runWithProgress(ctx context.Context, cmd *cobra.Command, a *app, trigger pipeline.Trigger) (*pipeline.Result, error) {
	w := output.New(cmd.ErrOrStderr())
	if !w.Color() {
		return a.runner.Run(ctx, trigger)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		drawn := false
		for {
			select {
			case <-done:
				if drawn {
					w.Newline()
				}
				return
			case <-ticker.C:
				s := a.runner.Progress().Snapshot()
				if s.Running && s.ChunksTotal > 0 && s.ChunksEmbedded < s.ChunksTotal {
					w.Progress(s.ChunksEmbedded, s.ChunksTotal, s.Collection)
					drawn = true
				}
			}
		}
	}()

	res, err := a.runner.Run(ctx, trigger)
	close(done)
	wg.Wait()
	return res, err
}
