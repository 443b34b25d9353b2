package telemetry

import (
	"context"
	"time"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/retrieval"
)

// Retriever is the call being measured.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topKPrimary, topKSecondary int) (*retrieval.Context, error)
}

// TrackedRetriever records every call to the wrapped Retriever.
type TrackedRetriever struct {
	next    Retriever
	metrics *Metrics
}

// Track wraps next so its calls are recorded in m.
func Track(next Retriever, m *Metrics) *TrackedRetriever {
	return &TrackedRetriever{next: next, metrics: m}
}

// Retrieve calls the wrapped Retriever and records the outcome.
func (t *TrackedRetriever) Retrieve(ctx context.Context, query string, topKPrimary, topKSecondary int) (*retrieval.Context, error) {
	start := time.Now()
	res, err := t.next.Retrieve(ctx, query, topKPrimary, topKSecondary)

	e := QueryEvent{Query: query, Latency: time.Since(start), Timestamp: start}
	switch {
	case cerrors.HasCode(err, cerrors.ErrCodeQueryEmpty):
		return res, err
	case cerrors.HasCode(err, cerrors.ErrCodeIndexNotReady):
		e.Outcome = OutcomeNotReady
	case err != nil:
		e.Outcome = OutcomeError
	default:
		e.Primary, e.Secondary, e.Dropped = len(res.Primary), len(res.Secondary), res.Dropped
		e.Outcome = classify(res)
	}
	t.metrics.Record(e)
	return res, err
}

func classify(res *retrieval.Context) Outcome {
	switch {
	case len(res.Primary) > 0:
		return OutcomeAnswered
	case len(res.Secondary) > 0:
		return OutcomeWebOnly
	default:
		return OutcomeEmpty
	}
}
