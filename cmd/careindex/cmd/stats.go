package cmd

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/output"
	"github.com/Aman-CERP/careindex/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
		topTerms   int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Show what was asked and how often a fiche answered it: outcome counts,
latency, most frequent terms and the latest questions no fiche covered.

Recorded by 'query' and 'serve' when telemetry.enabled is true.`,
		Example: `  careindex stats
  careindex stats --days 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolvedDir())
			if err != nil {
				return err
			}

			w := output.New(cmd.OutOrStdout())
			path := filepath.Join(cfg.Paths.DataDir, telemetry.FileName)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				if !cfg.Telemetry.Enabled {
					w.Warning("Telemetry is disabled (set telemetry.enabled: true)")
				} else {
					w.Line("No query recorded yet")
				}
				return nil
			}

			st, err := telemetry.OpenSQLiteStore(cfg.Paths.DataDir, cfg.Telemetry.UnansweredCapacity)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var since string
			if days > 0 {
				since = time.Now().UTC().AddDate(0, 0, -(days - 1)).Format("2006-01-02")
			}
			snap, err := st.Load(cmd.Context(), since, topTerms)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStats(w, snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 0, "Only count the last N days (0: all)")
	cmd.Flags().IntVar(&topTerms, "terms", 10, "Number of frequent terms to show")
	return cmd
}

func printStats(w *output.Writer, s *telemetry.Snapshot) {
	if s.TotalQueries == 0 {
		w.Line("No query recorded yet")
		return
	}
	w.Linef("%d queries since %s, %.0f%% answered by a fiche",
		s.TotalQueries, s.Since.Format("2006-01-02"), s.AnsweredRate()*100)
	for _, o := range []telemetry.Outcome{
		telemetry.OutcomeAnswered, telemetry.OutcomeWebOnly, telemetry.OutcomeEmpty,
		telemetry.OutcomeNotReady, telemetry.OutcomeError,
	} {
		if n := s.Outcomes[o]; n > 0 {
			w.Linef("  %-10s %d", o, n)
		}
	}
	w.Linef("Redundant web passages dropped: %d", s.DroppedWeb)

	w.Newline()
	w.Line("Latency:")
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100,
		telemetry.BucketP500, telemetry.BucketP1000,
	} {
		w.Linef("  %-6s %d", b, s.Latency[b])
	}

	if len(s.TopTerms) > 0 {
		w.Newline()
		w.Line("Frequent terms:")
		for _, tc := range s.TopTerms {
			w.Linef("  %-20s %d", tc.Term, tc.Count)
		}
	}

	if len(s.Unanswered) > 0 {
		w.Newline()
		w.Warningf("%d recent questions without a fiche:", len(s.Unanswered))
		for _, q := range s.Unanswered {
			w.Linef("  %s  %s (%s)", q.Timestamp.Local().Format("2006-01-02 15:04"), q.Query, q.Outcome)
		}
	}
}
