package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/retrieval"
	"github.com/Aman-CERP/careindex/internal/source"
)

func TestWriter_StatusLines(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When
	w.Success("Index complete")
	w.Warningf("%d files skipped", 2)
	w.Error("lock held")

	// Then: a buffer is never a terminal, so no escape codes
	out := buf.String()
	assert.False(t, w.Color())
	assert.Contains(t, out, "✓ Index complete")
	assert.Contains(t, out, "! 2 files skipped")
	assert.Contains(t, out, "✗ lock held")
	assert.NotContains(t, out, "\x1b[")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", progressBar(0.5, 10))
	assert.Equal(t, "██████████", progressBar(2, 10))
	assert.Equal(t, "░░░░░░░░░░", progressBar(-1, 10))
}

func TestWriter_StatusReport(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.StatusReport(&pipeline.StatusReport{
		State:          gate.StateRebuildRequested,
		Reason:         "pipeline run started",
		ForceRequested: true,
		JournalEntries: map[source.Kind]int{source.KindDocx: 3, source.KindWeb: 2},
		Collections: []pipeline.CollectionStatus{
			{Name: "base_docx", Kind: source.KindDocx, Exists: true, ChunkCount: 7, DocumentCount: 3, InSync: true, BuiltAt: time.Now()},
			{Name: "base_web", Kind: source.KindWeb, Mismatch: "collection missing"},
		},
		Issues:   []string{"collection_missing web: collection missing"},
		Progress: &pipeline.ProgressSnapshot{Running: true, Trigger: "watch", Stage: "embedding", ChunksEmbedded: 4, ChunksTotal: 9},
	})

	out := buf.String()
	assert.Contains(t, out, "Index rebuild_requested (pipeline run started)")
	assert.Contains(t, out, "Full rebuild requested")
	assert.Contains(t, out, "base_docx")
	assert.Contains(t, out, "in sync")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "docx=3")
	assert.Contains(t, out, "Running watch embedding 4/9")
	assert.Contains(t, out, "collection_missing web")
}

func TestWriter_RunResult(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		buf := &bytes.Buffer{}
		New(buf).RunResult(&pipeline.Result{Skipped: true})
		assert.Contains(t, buf.String(), "Index up to date")
	})

	t.Run("rebuilt", func(t *testing.T) {
		buf := &bytes.Buffer{}
		New(buf).RunResult(&pipeline.Result{
			Trigger: pipeline.TriggerWatch, Added: 1, Deleted: 2, FileErrors: 1, KeptFiches: 1,
			Rebuilt:     []source.Kind{source.KindDocx},
			Reasons:     map[source.Kind]string{source.KindDocx: "sources changed"},
			ChunkCounts: map[source.Kind]int{source.KindDocx: 12},
		})
		out := buf.String()
		assert.Contains(t, out, "1 added, 0 modified, 2 deleted")
		assert.Contains(t, out, "base_docx rebuilt: 12 chunks (sources changed)")
		assert.Contains(t, out, "1 source files could not be read")
		assert.Contains(t, out, "1 fiches reindexed from their previous conversion")
	})
}

func TestWriter_Passages(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Passages(&retrieval.Context{
		Primary: []retrieval.Passage{{Tag: "DOC-1", Title: "Prévenir les chutes", SourceRef: "chutes.docx", Text: "Fixez les tapis."}},
		Dropped: 1,
	})

	out := buf.String()
	assert.Contains(t, out, "[DOC-1] Prévenir les chutes")
	assert.Contains(t, out, "[WEB] "+retrieval.NoSecondaryMarker)
	assert.Contains(t, out, "1 web passages dropped")
}
