// Package telemetry records what callers ask the index and how well it
// answers. Aggregates and the last unanswered questions are kept in the data
// dir; nothing is reported elsewhere.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Outcome classifies a retrieval by what it could return.
type Outcome string

const (
	// OutcomeAnswered: at least one fiche passage.
	OutcomeAnswered Outcome = "answered"
	// OutcomeWebOnly: no fiche passage, only trusted-site passages.
	OutcomeWebOnly Outcome = "web_only"
	// OutcomeEmpty: nothing matched.
	OutcomeEmpty    Outcome = "empty"
	OutcomeNotReady Outcome = "not_ready"
	OutcomeError    Outcome = "error"
)

// Unanswered reports whether no fiche covered the question.
func (o Outcome) Unanswered() bool {
	return o == OutcomeWebOnly || o == OutcomeEmpty
}

// LatencyBucket is one bar of the latency histogram.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket returns the histogram bucket for d.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one Retrieve call.
type QueryEvent struct {
	Query     string
	Outcome   Outcome
	Primary   int
	Secondary int
	// Dropped counts web passages rejected as redundant with the fiches.
	Dropped   int
	Latency   time.Duration
	Timestamp time.Time
}

// ExtractTerms lowercases query and keeps words of three runes or more.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?«»\"'()")
		if utf8.RuneCountInString(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was asked.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// UnansweredQuery is a question no fiche covered.
type UnansweredQuery struct {
	Query     string    `json:"query"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the aggregates.
type Snapshot struct {
	Since        time.Time               `json:"since"`
	TotalQueries int64                   `json:"total_queries"`
	Outcomes     map[Outcome]int64       `json:"outcomes"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	// DroppedWeb totals web passages rejected as redundant.
	DroppedWeb int64             `json:"dropped_web"`
	TopTerms   []TermCount       `json:"top_terms"`
	Unanswered []UnansweredQuery `json:"unanswered"`
}

// AnsweredRate is the share of ready queries that returned a fiche passage.
func (s *Snapshot) AnsweredRate() float64 {
	ready := s.TotalQueries - s.Outcomes[OutcomeNotReady] - s.Outcomes[OutcomeError]
	if ready <= 0 {
		return 0
	}
	return float64(s.Outcomes[OutcomeAnswered]) / float64(ready)
}

// Batch is the delta accumulated since the last flush.
type Batch struct {
	Date       string
	Outcomes   map[Outcome]int64
	Latency    map[LatencyBucket]int64
	DroppedWeb int64
	Terms      map[string]int64
	Unanswered []UnansweredQuery
}

func (b *Batch) empty() bool {
	return len(b.Outcomes) == 0 && len(b.Terms) == 0 && len(b.Unanswered) == 0
}

// Store persists batches.
type Store interface {
	Save(ctx context.Context, b *Batch) error
	Load(ctx context.Context, since string, topTerms int) (*Snapshot, error)
	Close() error
}

// Options configures Metrics.
type Options struct {
	// FlushInterval is how often pending counts go to the store. Zero
	// disables the flush loop; Flush and Close still write.
	FlushInterval time.Duration
	// TermsCapacity bounds the distinct terms held between flushes.
	TermsCapacity int
	// UnansweredCapacity bounds the unanswered questions held in memory.
	UnansweredCapacity int
	Logger             *slog.Logger
}

// DefaultOptions returns the defaults used by the serve command.
func DefaultOptions() Options {
	return Options{
		FlushInterval:      time.Minute,
		TermsCapacity:      500,
		UnansweredCapacity: 100,
	}
}

// Metrics aggregates query events in memory and flushes them to a Store.
// It is safe for concurrent use.
type Metrics struct {
	mu      sync.Mutex
	opts    Options
	store   Store
	logger  *slog.Logger
	started time.Time

	// Totals since start, for Snapshot without a store.
	total      int64
	outcomes   map[Outcome]int64
	latency    map[LatencyBucket]int64
	droppedWeb int64
	unanswered *ring[UnansweredQuery]
	allTerms   *lru.Cache[string, int64]

	pending *Batch
	// pendingTerms is evicted by recency when more distinct terms arrive
	// between flushes than it can hold.
	pendingTerms *lru.Cache[string, int64]

	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// New creates Metrics. A nil store keeps everything in memory.
func New(store Store, opts Options) *Metrics {
	def := DefaultOptions()
	if opts.TermsCapacity <= 0 {
		opts.TermsCapacity = def.TermsCapacity
	}
	if opts.UnansweredCapacity <= 0 {
		opts.UnansweredCapacity = def.UnansweredCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	allTerms, _ := lru.New[string, int64](opts.TermsCapacity)
	pendingTerms, _ := lru.New[string, int64](opts.TermsCapacity)
	m := &Metrics{
		opts:         opts,
		store:        store,
		logger:       opts.Logger,
		started:      time.Now(),
		outcomes:     make(map[Outcome]int64),
		latency:      make(map[LatencyBucket]int64),
		unanswered:   newRing[UnansweredQuery](opts.UnansweredCapacity),
		allTerms:     allTerms,
		pendingTerms: pendingTerms,
		pending:      newBatch(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	if store != nil && opts.FlushInterval > 0 {
		go m.flushLoop()
	} else {
		close(m.done)
	}
	return m
}

func newBatch() *Batch {
	return &Batch{
		Outcomes: make(map[Outcome]int64),
		Latency:  make(map[LatencyBucket]int64),
	}
}

// Record adds one event.
func (m *Metrics) Record(e QueryEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	bucket := LatencyToBucket(e.Latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.outcomes[e.Outcome]++
	m.latency[bucket]++
	m.droppedWeb += int64(e.Dropped)
	m.pending.Outcomes[e.Outcome]++
	m.pending.Latency[bucket]++
	m.pending.DroppedWeb += int64(e.Dropped)

	if e.Outcome == OutcomeNotReady || e.Outcome == OutcomeError {
		return
	}
	for _, term := range ExtractTerms(e.Query) {
		n, _ := m.allTerms.Get(term)
		m.allTerms.Add(term, n+1)
		n, _ = m.pendingTerms.Get(term)
		m.pendingTerms.Add(term, n+1)
	}
	if e.Outcome.Unanswered() {
		q := UnansweredQuery{Query: e.Query, Outcome: e.Outcome, Timestamp: e.Timestamp}
		m.unanswered.add(q)
		m.pending.Unanswered = append(m.pending.Unanswered, q)
		if len(m.pending.Unanswered) > m.opts.UnansweredCapacity {
			m.pending.Unanswered = m.pending.Unanswered[1:]
		}
	}
}

// Snapshot returns the in-memory totals since New, newest unanswered first.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		Since:        m.started,
		TotalQueries: m.total,
		Outcomes:     make(map[Outcome]int64, len(m.outcomes)),
		Latency:      make(map[LatencyBucket]int64, len(m.latency)),
		DroppedWeb:   m.droppedWeb,
		TopTerms:     topTerms(m.allTerms, 10),
	}
	for k, v := range m.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range m.latency {
		s.Latency[k] = v
	}
	items := m.unanswered.items()
	for i := len(items) - 1; i >= 0; i-- {
		s.Unanswered = append(s.Unanswered, items[i])
	}
	return s
}

func topTerms(c *lru.Cache[string, int64], n int) []TermCount {
	var out []TermCount
	for _, k := range c.Keys() {
		v, ok := c.Peek(k)
		if ok {
			out = append(out, TermCount{Term: k, Count: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Flush writes the pending delta to the store. A failed write drops the
// batch.
func (m *Metrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	b := m.pending
	b.Date = time.Now().UTC().Format("2006-01-02")
	b.Terms = make(map[string]int64, m.pendingTerms.Len())
	for _, k := range m.pendingTerms.Keys() {
		if v, ok := m.pendingTerms.Peek(k); ok {
			b.Terms[k] = v
		}
	}
	m.pending = newBatch()
	m.pendingTerms.Purge()
	m.mu.Unlock()

	if b.empty() {
		return nil
	}
	if err := m.store.Save(ctx, b); err != nil {
		m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Close stops the flush loop, writes what is pending and closes the store.
// Events recorded after Close are ignored.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	err := m.Flush(context.Background())
	if m.store != nil {
		if cerr := m.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ring keeps the last n items, oldest first.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{buf: make([]T, n)}
}

func (r *ring[T]) add(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring[T]) items() []T {
	if !r.full {
		return append([]T(nil), r.buf[:r.next]...)
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
