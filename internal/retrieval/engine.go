// Package retrieval selects passages for a question: the nearest fiche
// chunks, then web chunks that add something the fiches do not already say.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/careindex/internal/embed"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// Searcher is the read side of the index store.
type Searcher interface {
	Search(ctx context.Context, kind source.Kind, vec []float32, k int) ([]store.SearchResult, error)
}

// Readiness reports whether the index may be served.
type Readiness interface {
	Ready() bool
}

// Options tunes passage selection.
type Options struct {
	// TopKPrimary and TopKSecondary are used when Retrieve gets k <= 0.
	TopKPrimary   int
	TopKSecondary int
	// CandidateMultiplier sizes the web candidate pool.
	CandidateMultiplier int
	// MinNovelty is the lowest novelty a web passage may have.
	MinNovelty float64
	Logger     *slog.Logger
}

// DefaultOptions returns the defaults used by the config package.
func DefaultOptions() Options {
	return Options{
		TopKPrimary:         4,
		TopKSecondary:       3,
		CandidateMultiplier: 4,
		MinNovelty:          0.3,
	}
}

// Engine answers Retrieve calls. It holds no lock on the index and is safe
// for concurrent use.
type Engine struct {
	embedder embed.Embedder
	searcher Searcher
	ready    Readiness
	analyzer *Analyzer
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(embedder embed.Embedder, searcher Searcher, ready Readiness, opts Options) (*Engine, error) {
	if embedder == nil || searcher == nil || ready == nil {
		return nil, fmt.Errorf("retrieval engine requires an embedder, a searcher and a readiness gate")
	}
	def := DefaultOptions()
	if opts.TopKPrimary <= 0 {
		opts.TopKPrimary = def.TopKPrimary
	}
	if opts.TopKSecondary <= 0 {
		opts.TopKSecondary = def.TopKSecondary
	}
	if opts.CandidateMultiplier < 1 {
		opts.CandidateMultiplier = def.CandidateMultiplier
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a, err := NewAnalyzer()
	if err != nil {
		return nil, err
	}
	return &Engine{
		embedder: embedder,
		searcher: searcher,
		ready:    ready,
		analyzer: a,
		opts:     opts,
		logger:   opts.Logger,
	}, nil
}

// Retrieve returns the passages for query. topKPrimary or topKSecondary
// <= 0 use the configured defaults.
//
// Errors: ERR_503 while the index is not Ready, ERR_402 for a blank query,
// ERR_302 when the query cannot be embedded. An index with no matching
// passage is not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, topKPrimary, topKSecondary int) (*Context, error) {
	start := time.Now()
	if !e.ready.Ready() {
		return nil, cerrors.New(cerrors.ErrCodeIndexNotReady, "index is being rebuilt", nil).
			WithSuggestion("Retry once the rebuild completes, or run 'careindex status'")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if topKPrimary <= 0 {
		topKPrimary = e.opts.TopKPrimary
	}
	if topKSecondary <= 0 {
		topKSecondary = e.opts.TopKSecondary
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if cerrors.HasCode(err, cerrors.ErrCodeEmbeddingFailed) {
			return nil, err
		}
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}

	primary, err := e.searcher.Search(ctx, source.KindDocx, vec, topKPrimary)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", source.KindDocx.Collection(), err)
	}
	pool := topKSecondary * e.opts.CandidateMultiplier
	candidates, err := e.searcher.Search(ctx, source.KindWeb, vec, pool)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", source.KindWeb.Collection(), err)
	}

	out := &Context{Query: query}
	for _, r := range primary {
		out.Primary = append(out.Primary, newPassage(r))
	}
	out.Secondary, out.Dropped = e.selectNovel(out.Primary, candidates, topKSecondary)
	out.assignTags()

	e.logger.Debug("retrieve_complete",
		slog.Int("primary", len(out.Primary)),
		slog.Int("secondary", len(out.Secondary)),
		slog.Int("candidates", len(candidates)),
		slog.Int("dropped", out.Dropped),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// selectNovel walks candidates in similarity order and keeps those whose
// novelty against the primary passages, and the web passages already
// kept, reaches MinNovelty.
func (e *Engine) selectNovel(primary []Passage, candidates []store.SearchResult, k int) ([]Passage, int) {
	ref := make(TermCounts)
	for _, p := range primary {
		ref.Merge(e.analyzer.Terms(p.Text))
	}

	var kept []Passage
	dropped := 0
	for _, c := range candidates {
		if len(kept) == k {
			break
		}
		terms := e.analyzer.Terms(c.Text)
		novelty := 1 - terms.Overlap(ref)
		if novelty < e.opts.MinNovelty {
			dropped++
			e.logger.Debug("secondary_dropped",
				slog.String("chunk", c.ID),
				slog.Float64("novelty", novelty))
			continue
		}
		p := newPassage(c)
		p.Novelty = novelty
		kept = append(kept, p)
		ref.Merge(terms)
	}
	return kept, dropped
}
