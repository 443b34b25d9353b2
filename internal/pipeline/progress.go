package pipeline

import (
	"sync"
	"time"

	"github.com/Aman-CERP/careindex/internal/source"
)

// Stage is the step a run is executing.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageLocking       Stage = "locking"
	StageDetecting     Stage = "detecting"
	StageMaterializing Stage = "materializing"
	StageEmbedding     Stage = "embedding"
	StageCommitting    Stage = "committing"
)

// ProgressSnapshot is an immutable copy of Progress.
type ProgressSnapshot struct {
	Running        bool      `json:"running"`
	RunID          string    `json:"run_id,omitempty"`
	Trigger        string    `json:"trigger,omitempty"`
	Stage          string    `json:"stage"`
	Collection     string    `json:"collection,omitempty"`
	ChunksTotal    int       `json:"chunks_total"`
	ChunksEmbedded int       `json:"chunks_embedded"`
	ProgressPct    float64   `json:"progress_pct"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	LastRunAt      time.Time `json:"last_run_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Progress tracks the current run for status reporting. It is safe for
// concurrent use.
type Progress struct {
	mu sync.RWMutex

	running     bool
	runID       string
	trigger     Trigger
	stage       Stage
	collection  string
	chunksTotal int
	chunksDone  int
	startTime   time.Time
	lastRunAt   time.Time
	lastError   string
}

// NewProgress returns an idle tracker.
func NewProgress() *Progress {
	return &Progress{stage: StageIdle}
}

func (p *Progress) start(runID string, trigger Trigger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = true
	p.runID = runID
	p.trigger = trigger
	p.stage = StageLocking
	p.collection = ""
	p.chunksTotal, p.chunksDone = 0, 0
	p.startTime = time.Now()
}

func (p *Progress) setStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// OnEmbed records embedding progress; it matches store.Options.OnProgress.
func (p *Progress) OnEmbed(kind source.Kind, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = StageEmbedding
	p.collection = kind.Collection()
	p.chunksDone = done
	p.chunksTotal = total
}

func (p *Progress) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	p.stage = StageIdle
	p.lastRunAt = time.Now()
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.chunksTotal > 0 {
		pct = float64(p.chunksDone) / float64(p.chunksTotal) * 100
	}
	var elapsed int
	if p.running {
		elapsed = int(time.Since(p.startTime).Seconds())
	}
	return ProgressSnapshot{
		Running:        p.running,
		RunID:          p.runID,
		Trigger:        string(p.trigger),
		Stage:          string(p.stage),
		Collection:     p.collection,
		ChunksTotal:    p.chunksTotal,
		ChunksEmbedded: p.chunksDone,
		ProgressPct:    pct,
		ElapsedSeconds: elapsed,
		LastRunAt:      p.lastRunAt,
		LastError:      p.lastError,
	}
}
