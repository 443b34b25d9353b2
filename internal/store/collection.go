package store

import (
	"context"
	"path/filepath"
	"strconv"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/source"
)

// Collection is an open, read-only handle on one built collection.
type Collection struct {
	Name     string
	Kind     source.Kind
	Manifest *Manifest

	dir     string
	chunks  *ChunkTable
	vectors *VectorIndex
}

func openCollection(dir string) (*Collection, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, cerrors.New(cerrors.ErrCodeCollectionMissing, "no collection at "+dir, nil)
	}

	chunks, err := OpenChunkTable(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, err
	}
	vectors, err := LoadVectorIndex(filepath.Join(dir, VectorsFile), m.Dimensions)
	if err != nil {
		_ = chunks.Close()
		return nil, err
	}
	if vectors.Len() != m.ChunkCount {
		_ = chunks.Close()
		vectors.Close()
		return nil, cerrors.New(cerrors.ErrCodeIndexCorrupt, "vector count does not match manifest in "+dir, nil).
			WithDetail("vectors", strconv.Itoa(vectors.Len())).
			WithDetail("chunks", strconv.Itoa(m.ChunkCount))
	}

	return &Collection{
		Name:     m.Collection,
		Kind:     m.Kind,
		Manifest: m,
		dir:      dir,
		chunks:   chunks,
		vectors:  vectors,
	}, nil
}

// Search returns the k chunks closest to vec, best first.
func (c *Collection) Search(ctx context.Context, vec []float32, k int) ([]SearchResult, error) {
	hits, err := c.vectors.Search(vec, k)
	if err != nil || len(hits) == 0 {
		return nil, err
	}

	keys := make([]uint64, len(hits))
	for i, h := range hits {
		keys[i] = h.Key
	}
	chunks, err := c.chunks.Get(ctx, keys)
	if err != nil {
		return nil, err
	}

	byKey := make(map[uint64]Chunk, len(chunks))
	for _, ch := range chunks {
		byKey[ch.Key] = ch
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		ch, ok := byKey[h.Key]
		if !ok {
			continue
		}
		results = append(results, SearchResult{Chunk: ch, Score: h.Score})
	}
	return results, nil
}

// Count returns the number of chunks.
func (c *Collection) Count(ctx context.Context) (int, error) { return c.chunks.Count(ctx) }

// DocumentIDs returns the ids of indexed documents.
func (c *Collection) DocumentIDs(ctx context.Context) ([]string, error) {
	return c.chunks.DocumentIDs(ctx)
}

// DocumentChunks returns the chunks of one document.
func (c *Collection) DocumentChunks(ctx context.Context, docID string) ([]Chunk, error) {
	return c.chunks.ByDocument(ctx, docID)
}

// Close releases the chunk table and the graph.
func (c *Collection) Close() error {
	c.vectors.Close()
	return c.chunks.Close()
}
