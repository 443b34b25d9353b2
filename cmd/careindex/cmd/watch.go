package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/daemon"
)

func newWatchCmd() *cobra.Command {
	var forcePolling bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in sync until interrupted",
		Long: `Reconcile the index on startup, then rebuild it after each burst of
changes to the fiches, the web corpus or the trusted-sites file.

Failed runs are retried with a capped backoff. An operator reset
('careindex reset') is picked up within the poll interval. Only one
watcher may run per data directory.`,
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

			return runWatch(ctx, a, forcePolling)
		},
	}

	cmd.Flags().BoolVar(&forcePolling, "poll", false, "Poll the sources instead of using file system notifications")

	return cmd
}

// runWatch claims the PID file and runs the scheduler until ctx is done.
func runWatch(ctx context.Context, a *app, forcePolling bool) error {
	pid := daemon.NewPIDFile(a.cfg.Paths.DataDir)
	if err := pid.Claim(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Release(); err != nil {
			a.logger.Warn("pid_release_failed", slog.String("error", err.Error()))
		}
	}()

	w, err := a.watcher(forcePolling)
	if err != nil {
		return err
	}
	a.logger.Info("watch_started",
		slog.String("data_dir", a.cfg.Paths.DataDir),
		slog.Int("targets", len(w.Targets())))

	return a.scheduler(w).Run(ctx)
}
