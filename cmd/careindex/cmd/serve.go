package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/careindex/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var watch bool
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval to the chatbot over MCP",
		Long: `Start the MCP server on stdio. It exposes two tools:

  retrieve       passages for a caregiver question, tagged DOC-n and WEB-n
  index_status   readiness and collection counts

stdout carries the protocol only; logs go to the log file.

With --watch the same process also keeps the index in sync, as
'careindex watch' would.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, transport, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Also run the watch loop in this process")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string, watch bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	retriever, err := a.retriever()
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer(retriever, a.reporter(), a.embedder, a.cfg)
	if err != nil {
		return err
	}
	srv.SetLogger(a.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client closing stdin ends the session and the watcher with it.
		defer cancel()
		return srv.Serve(gctx, transport)
	})
	if watch {
		// Retrieval keeps being served when the watch loop cannot start,
		// for instance because another watcher owns the data dir.
		g.Go(func() error {
			if err := runWatch(gctx, a, false); err != nil {
				a.logger.Error("watch_failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}
