package store

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
)

// HNSW parameters. Collections hold at most a few thousand chunks, so a
// generous search width keeps recall close to exact search.
const (
	hnswM        = 16
	hnswEfSearch = 64
	hnswMl       = 0.25
)

// VectorHit is one nearest neighbour.
type VectorHit struct {
	Key      uint64
	Distance float32
	Score    float32
}

// VectorIndex is an in-memory cosine HNSW graph keyed by chunk row key.
// It is built once per collection and only read afterwards.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	closed bool
}

// NewVectorIndex creates an empty index for vectors of dims components.
func NewVectorIndex(dims int) *VectorIndex {
	return &VectorIndex{graph: newGraph(), dims: dims}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	g.Ml = hnswMl
	return g
}

// Add inserts normalized copies of vectors under keys.
func (v *VectorIndex) Add(keys []uint64, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return cerrors.InternalError(fmt.Sprintf("keys and vectors length mismatch: %d vs %d", len(keys), len(vectors)), nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return cerrors.InternalError("vector index is closed", nil)
	}

	for i, vec := range vectors {
		if len(vec) != v.dims {
			return dimensionMismatch(v.dims, len(vec))
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)
		normalizeInPlace(cp)
		v.graph.Add(hnsw.MakeNode(keys[i], cp))
	}
	return nil
}

// Search returns up to k nearest keys, closest first.
func (v *VectorIndex) Search(query []float32, k int) ([]VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, cerrors.InternalError("vector index is closed", nil)
	}
	if len(query) != v.dims {
		return nil, dimensionMismatch(v.dims, len(query))
	}
	if k <= 0 || v.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := v.graph.Search(q, k)
	hits := make([]VectorHit, 0, len(nodes))
	for _, n := range nodes {
		d := v.graph.Distance(q, n.Value)
		hits = append(hits, VectorHit{Key: n.Key, Distance: d, Score: 1 - d/2})
	}
	return hits, nil
}

// Len returns the number of vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0
	}
	return v.graph.Len()
}

// Dimensions returns the vector size.
func (v *VectorIndex) Dimensions() int { return v.dims }

// Save exports the graph to path through a synced temp file. An empty
// index writes nothing.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return cerrors.InternalError("vector index is closed", nil)
	}
	if v.graph.Len() == 0 {
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return cerrors.StorageError("create "+filepath.Base(path), err)
	}
	w := bufio.NewWriter(f)
	if err := v.graph.Export(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cerrors.StorageError("export vector graph", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cerrors.StorageError("flush vector graph", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cerrors.StorageError("sync vector graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return cerrors.StorageError("close vector graph", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cerrors.StorageError("rename vector graph", err)
	}
	return nil
}

// LoadVectorIndex imports a graph written by Save. A missing file yields
// an empty index.
func LoadVectorIndex(path string, dims int) (*VectorIndex, error) {
	v := NewVectorIndex(dims)
	if !fsutil.Exists(path) {
		return v, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "open "+path, err)
	}
	defer func() { _ = f.Close() }()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeIndexCorrupt, "import vector graph "+path, err)
	}
	return v, nil
}

// Close drops the graph.
func (v *VectorIndex) Close() {
	v.mu.Lock()
	v.closed = true
	v.graph = nil
	v.mu.Unlock()
}

func dimensionMismatch(want, got int) error {
	return cerrors.New(cerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", want, got), nil).
		WithSuggestion("the embedding model changed; run 'careindex rebuild --force'")
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
