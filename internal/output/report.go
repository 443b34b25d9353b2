package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/retrieval"
)

// StatusReport renders the index status panel.
func (w *Writer) StatusReport(rep *pipeline.StatusReport) {
	var b strings.Builder

	state := string(rep.State)
	switch {
	case rep.State == gate.StateReady && rep.Trusted:
		state = w.styles.Success.Render(state)
	case rep.State == gate.StateReady:
		state = w.styles.Warning.Render(state + " (contradicted)")
	default:
		state = w.styles.Warning.Render(state)
	}
	fmt.Fprintf(&b, "%s %s", w.styles.Header.Render("Index"), state)
	if rep.Reason != "" {
		fmt.Fprintf(&b, " %s", w.styles.Dim.Render("("+rep.Reason+")"))
	}
	b.WriteString("\n")
	if rep.ForceRequested {
		b.WriteString(w.styles.Warning.Render("Full rebuild requested") + "\n")
	}

	b.WriteString("\n")
	for _, c := range rep.Collections {
		sync := w.styles.Success.Render("in sync")
		switch {
		case !c.Exists:
			sync = w.styles.Error.Render("missing")
		case !c.InSync:
			sync = w.styles.Warning.Render("stale")
		}
		fmt.Fprintf(&b, "%-10s %5d chunks %4d docs  %s", c.Name, c.ChunkCount, c.DocumentCount, sync)
		if !c.BuiltAt.IsZero() {
			fmt.Fprintf(&b, "  %s", w.styles.Dim.Render("built "+c.BuiltAt.Local().Format(time.DateTime)))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%s", w.styles.Label.Render("Journal"))
	for _, c := range rep.Collections {
		fmt.Fprintf(&b, "  %s=%d", c.Kind, rep.JournalEntries[c.Kind])
	}
	if !rep.JournalUpdated.IsZero() {
		fmt.Fprintf(&b, "  %s", w.styles.Dim.Render("updated "+rep.JournalUpdated.Local().Format(time.DateTime)))
	}
	b.WriteString("\n")

	if p := rep.Progress; p != nil && p.Running {
		fmt.Fprintf(&b, "\n%s %s %s %d/%d\n", w.styles.Label.Render("Running"), p.Trigger, p.Stage, p.ChunksEmbedded, p.ChunksTotal)
	}
	for _, issue := range rep.Issues {
		fmt.Fprintf(&b, "%s %s\n", w.styles.Warning.Render("!"), issue)
	}

	_, _ = fmt.Fprintln(w.out, w.styles.Panel.Render(strings.TrimRight(b.String(), "\n")))
}

// RunResult summarizes one pipeline run.
func (w *Writer) RunResult(res *pipeline.Result) {
	if res.Skipped {
		w.Successf("Index up to date (%s)", res.Duration.Round(time.Millisecond))
		return
	}
	w.Successf("Run %s: %d added, %d modified, %d deleted in %s",
		res.Trigger, res.Added, res.Modified, res.Deleted, res.Duration.Round(time.Millisecond))
	if res.Scraped {
		w.Line("web sources re-scraped")
	}
	for _, kind := range res.Rebuilt {
		w.Linef("%s rebuilt: %d chunks (%s)", kind.Collection(), res.ChunkCounts[kind], res.Reasons[kind])
	}
	if res.FileErrors > 0 {
		w.Warningf("%d source files could not be read and were left as before", res.FileErrors)
	}
	if res.KeptFiches > 0 {
		w.Warningf("%d fiches reindexed from their previous conversion", res.KeptFiches)
	}
}

// Passages prints a retrieval result the way it is injected in the prompt,
// with tags highlighted.
func (w *Writer) Passages(ctx *retrieval.Context) {
	for _, p := range ctx.Passages() {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Tag.Render("["+p.Tag+"]"), w.styles.Header.Render(p.Title))
		if p.SourceRef != "" {
			_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(p.SourceRef))
		}
		_, _ = fmt.Fprintln(w.out, strings.TrimSpace(p.Text))
		w.Newline()
	}
	if len(ctx.Secondary) == 0 {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Tag.Render("["+retrieval.SecondaryTag+"]"), retrieval.NoSecondaryMarker)
	}
	if ctx.Dropped > 0 {
		_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(fmt.Sprintf("%d web passages dropped as redundant", ctx.Dropped)))
	}
}
