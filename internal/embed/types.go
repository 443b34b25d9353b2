// Package embed turns passage text into dense vectors.
//
// Two providers exist: a static hash embedder that works offline and is
// fully deterministic, and an Ollama client for real embedding models.
// Either can be wrapped in a CachedEmbedder.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request.
	MaxBatchSize = 256

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 30 * time.Second

	// StaticDimensions is the vector size of the static embedder.
	StaticDimensions = 256
)

// Embedder produces vectors for text. Implementations must be safe for
// concurrent use and return vectors of exactly Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector scales v to unit length in place. A zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
