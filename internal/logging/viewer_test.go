package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-02T10:00:00Z","level":"INFO","msg":"scheduler_started","poll_interval":"5s"}
{"time":"2026-03-02T10:00:01Z","level":"INFO","msg":"changes_detected","run_id":"4f1c2a9e-aaaa","added":2}
{"time":"2026-03-02T10:00:02Z","level":"WARN","msg":"docx_unreadable_skipped","run_id":"4f1c2a9e-aaaa","path":"x.docx"}
not json at all
{"time":"2026-03-02T10:00:03Z","level":"ERROR","msg":"pipeline_failed","run_id":"77aa0000-bbbb","code":"ERR_205_LOCK_CONTENDED"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "careindex.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLine(t *testing.T) {
	e := ParseLine(`{"time":"2026-03-02T10:00:01Z","level":"INFO","msg":"changes_detected","run_id":"r1","added":2}`)

	assert.True(t, e.Valid)
	assert.Equal(t, "changes_detected", e.Msg)
	assert.Equal(t, "r1", e.RunID)
	assert.Equal(t, map[string]any{"added": float64(2)}, e.Attrs)

	raw := ParseLine("plain text")
	assert.False(t, raw.Valid)
	assert.Equal(t, "plain text", raw.Raw)
}

func TestViewer_Tail(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{name: "last lines", n: 2, want: []string{"", "pipeline_failed"}},
		{name: "level filter", cfg: ViewerConfig{Level: "warn"}, n: 50, want: []string{"docx_unreadable_skipped", "", "pipeline_failed"}},
		{name: "one run", cfg: ViewerConfig{RunID: "4f1c"}, n: 50, want: []string{"changes_detected", "docx_unreadable_skipped"}},
		{name: "pattern", cfg: ViewerConfig{Pattern: regexp.MustCompile("LOCK")}, n: 50, want: []string{"pipeline_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.NoColor = true
			entries, err := NewViewer(tt.cfg, &bytes.Buffer{}).Tail(path, tt.n)

			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.Msg)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	e := ParseLine(`{"time":"2026-03-02T10:00:02Z","level":"WARN","msg":"docx_unreadable_skipped","run_id":"4f1c2a9e-aaaa","path":"x.docx","error":"zip"}`)

	line := v.Format(e)

	assert.Contains(t, line, "WARN  [4f1c2a9e] docx_unreadable_skipped error=zip path=x.docx")
	assert.Equal(t, "plain", v.Format(ParseLine("plain")))
}

func TestViewer_Follow(t *testing.T) {
	// Given: a log file being followed
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{NoColor: true, Level: "info"}, &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan Entry, 10)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(150 * time.Millisecond)

	// When: a record is appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-03-02T10:01:00Z","level":"INFO","msg":"pipeline_complete"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new record is delivered
	select {
	case e := <-entries:
		assert.Equal(t, "pipeline_complete", e.Msg)
	case <-ctx.Done():
		t.Fatal("no entry followed")
	}
	cancel()
	assert.NoError(t, <-done)
}
