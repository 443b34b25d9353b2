package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/retrieval"
)

type stubRetriever struct {
	res *retrieval.Context
	err error
}

func (s stubRetriever) Retrieve(context.Context, string, int, int) (*retrieval.Context, error) {
	return s.res, s.err
}

func TestTrackedRetriever_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		stub stubRetriever
		want Outcome
	}{
		{"fiche passage", stubRetriever{res: &retrieval.Context{Primary: []retrieval.Passage{{}}}}, OutcomeAnswered},
		{"web only", stubRetriever{res: &retrieval.Context{Secondary: []retrieval.Passage{{}}, Dropped: 1}}, OutcomeWebOnly},
		{"nothing", stubRetriever{res: &retrieval.Context{}}, OutcomeEmpty},
		{"not ready", stubRetriever{err: cerrors.New(cerrors.ErrCodeIndexNotReady, "rebuilding", nil)}, OutcomeNotReady},
		{"failure", stubRetriever{err: errors.New("boom")}, OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, Options{})
			r := Track(tt.stub, m)

			_, err := r.Retrieve(context.Background(), "aide au repas", 0, 0)

			assert.Equal(t, tt.stub.err, err)
			s := m.Snapshot()
			require.Equal(t, int64(1), s.TotalQueries)
			assert.Equal(t, int64(1), s.Outcomes[tt.want])
		})
	}
}

func TestTrackedRetriever_BlankQueryNotRecorded(t *testing.T) {
	m := New(nil, Options{})
	r := Track(stubRetriever{err: cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil)}, m)

	_, err := r.Retrieve(context.Background(), " ", 0, 0)

	require.Error(t, err)
	assert.Zero(t, m.Snapshot().TotalQueries)
}
