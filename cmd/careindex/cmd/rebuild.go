package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/daemon"
	"github.com/Aman-CERP/careindex/internal/output"
	"github.com/Aman-CERP/careindex/internal/pipeline"
)

func newRebuildCmd() *cobra.Command {
	var force bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the collections that disagree with the sources",
		Long: `Mark the index as rebuilding and run the pipeline now.

Without --force only collections whose manifest disagrees with the journal
are rebuilt. With --force every collection is rebuilt and the trusted sites
are scraped again.

When a watcher is running on the same data directory, a full rebuild is
requested and left for it to pick up instead.`,
		Example: `  # Rebuild stale collections
  careindex rebuild

  # Rebuild everything and re-scrape the web sources
  careindex rebuild --force`,
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

			// A running watcher only polls the force marker, so a request
			// handed to it is always a forced one.
			if pid, ok := daemon.NewPIDFile(a.cfg.Paths.DataDir).Running(); ok {
				if err := a.gate.RequestForce("manual rebuild"); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Full rebuild requested; watcher (pid %d) will pick it up", pid)
				return nil
			}

			trigger := pipeline.TriggerManual
			if force {
				trigger = pipeline.TriggerForce
				err = a.gate.RequestForce("manual rebuild")
			} else {
				err = a.gate.RequestRebuild("manual rebuild")
			}
			if err != nil {
				return err
			}

			res, err := runWithProgress(ctx, cmd, a, trigger)
			if err != nil {
				return err
			}
			return printResult(cmd, res, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild every collection and re-scrape the web sources")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the run result as JSON")

	return cmd
}

func newResetCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Request a full rebuild on the next run",
		Long: `Write the force-rebuild marker and mark the index as rebuilding.
Retrieval refuses to answer until the next run completes. A running
watcher picks the marker up within its poll interval; otherwise run
'careindex run'.

With --purge the collections are deleted as well, under the pipeline lock.`,
		Args:        cobra.NoArgs,
		Annotations: consoleLogs(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.gate.RequestForce("operator reset"); err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			if purge {
				lease, err := a.guard.Acquire(cmd.Context())
				if err != nil {
					return err
				}
				err = a.store.Reset()
				if rerr := lease.Release(); err == nil && rerr != nil {
					err = rerr
				}
				if err != nil {
					return err
				}
				out.Success("Collections deleted")
			}

			out.Success("Full rebuild requested")
			if pid, ok := daemon.NewPIDFile(a.cfg.Paths.DataDir).Running(); ok {
				out.Linef("  Watcher (pid %d) will rebuild within %s", pid, a.cfg.Scheduler.PollInterval)
			} else {
				out.Linef("  Run 'careindex run -C %s' to rebuild now", resolvedDir())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the collections")

	return cmd
}
