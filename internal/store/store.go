package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/careindex/internal/embed"
	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
)

// CollectionsDir is the directory under data_dir holding every collection.
const CollectionsDir = "collections"

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Options tunes IndexStore.
type Options struct {
	// ShortDocumentRunes is the fiche length kept as a single chunk.
	ShortDocumentRunes int
	// EmbedBatchSize is the number of chunks embedded per call.
	EmbedBatchSize int
	// Retry governs retries of failed embedding batches.
	Retry cerrors.RetryConfig
	// OnProgress, when set, is called after each embedded batch.
	OnProgress func(kind source.Kind, done, total int)
	Logger     *slog.Logger
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ShortDocumentRunes: DefaultShortDocumentRunes,
		EmbedBatchSize:     embed.DefaultBatchSize,
		Retry:              cerrors.DefaultRetryConfig(),
	}
}

// BuildInfo is what a rebuild records in the manifest so the collection can
// later be compared with the journal.
type BuildInfo struct {
	// Sources maps document id to the content hash of its source file.
	Sources         map[string]string
	SitesConfigHash string
}

// IndexStore owns the collections. It keeps one open handle per
// collection and reopens it when another process (or a rebuild in this
// one) swaps in a new generation. It is safe for concurrent use; readers
// only ever wait for a handle swap, never for a rebuild.
type IndexStore struct {
	root     string
	embedder embed.Embedder
	opts     Options
	logger   *slog.Logger

	mu      sync.RWMutex
	handles map[source.Kind]*Collection
	closed  bool

	// resolved runs between handle lookup and query; tests use it to swap.
	resolved func(source.Kind)
}

// Open prepares dataDir/collections and repairs any swap interrupted by a
// crash: a trashed collection whose replacement never landed is restored,
// and leftover staging directories are removed.
func Open(dataDir string, embedder embed.Embedder, opts Options) (*IndexStore, error) {
	if opts.ShortDocumentRunes <= 0 {
		opts.ShortDocumentRunes = DefaultShortDocumentRunes
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = embed.DefaultBatchSize
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = cerrors.DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root := filepath.Join(dataDir, CollectionsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, cerrors.StorageError("create "+root, err)
	}

	s := &IndexStore{
		root:     root,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With(slog.String("component", "store")),
		handles:  make(map[source.Kind]*Collection),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *IndexStore) recover() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeFileRead, "list "+s.root, err)
	}

	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.root, name)
		switch {
		case strings.HasPrefix(name, stagingPrefix):
			s.logger.Warn("staging_removed", slog.String("dir", name))
			if err := os.RemoveAll(path); err != nil {
				return cerrors.StorageError("remove "+path, err)
			}
		case strings.HasPrefix(name, trashPrefix):
			collection := trashOwner(name)
			current := filepath.Join(s.root, collection)
			if collection != "" && !fsutil.Exists(current) {
				s.logger.Warn("collection_restored", slog.String("collection", collection))
				if err := os.Rename(path, current); err != nil {
					return cerrors.StorageError("restore "+collection, err)
				}
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				return cerrors.StorageError("remove "+path, err)
			}
		}
	}
	return fsutil.SyncDir(s.root)
}

// trashOwner extracts "<name>" from ".trash-<name>-<uuid>".
func trashOwner(dir string) string {
	rest := strings.TrimPrefix(dir, trashPrefix)
	if len(rest) <= 37 {
		return ""
	}
	return rest[:len(rest)-37]
}

// Dir returns the directory of the collection for kind.
func (s *IndexStore) Dir(kind source.Kind) string {
	return filepath.Join(s.root, kind.Collection())
}

// RebuildCollection replaces the collection for kind with one built from
// docs. The new collection is complete on disk before the old one is
// touched; on any error the previous collection stays queryable.
func (s *IndexStore) RebuildCollection(ctx context.Context, kind source.Kind, docs []source.Document, info BuildInfo) (*Manifest, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return nil, err
		}
		if docs[i].Kind != kind {
			return nil, cerrors.New(cerrors.ErrCodeInvalidDocument,
				fmt.Sprintf("document %s has kind %s, expected %s", docs[i].ID, docs[i].Kind, kind), nil)
		}
	}

	start := time.Now()
	staging := filepath.Join(s.root, stagingPrefix+kind.Collection()+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, cerrors.StorageError("create staging dir", err)
	}

	m, err := s.build(ctx, staging, kind, docs, info)
	if err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}
	if err := s.swap(kind, staging); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}

	s.logger.Info("collection_rebuilt",
		slog.String("collection", m.Collection),
		slog.Int("documents", m.DocumentCount),
		slog.Int("chunks", m.ChunkCount),
		slog.Duration("duration", time.Since(start)))
	return m, nil
}

func (s *IndexStore) build(ctx context.Context, dir string, kind source.Kind, docs []source.Document, info BuildInfo) (*Manifest, error) {
	var chunks []Chunk
	for i := range docs {
		chunks = append(chunks, ChunkDocument(&docs[i], s.opts.ShortDocumentRunes)...)
	}
	for i := range chunks {
		chunks[i].Key = uint64(i + 1)
	}

	vectors, err := s.embedChunks(ctx, kind, chunks)
	if err != nil {
		return nil, err
	}

	dims := s.embedder.Dimensions()
	index := NewVectorIndex(dims)
	defer index.Close()
	keys := make([]uint64, len(chunks))
	for i := range chunks {
		keys[i] = chunks[i].Key
	}
	if err := index.Add(keys, vectors); err != nil {
		return nil, err
	}
	if err := index.Save(filepath.Join(dir, VectorsFile)); err != nil {
		return nil, err
	}

	table, err := OpenChunkTable(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, err
	}
	if err := table.Insert(ctx, chunks); err != nil {
		_ = table.Close()
		return nil, err
	}
	if err := table.Close(); err != nil {
		return nil, cerrors.StorageError("close chunk table", err)
	}

	sources := make(map[string]string, len(info.Sources))
	for id, h := range info.Sources {
		sources[id] = h
	}
	m := &Manifest{
		Collection:    kind.Collection(),
		Kind:          kind,
		Generation:    uuid.NewString(),
		Sources:       sources,
		DocumentCount: len(docs),
		ChunkCount:    len(chunks),
		EmbedModel:    s.embedder.ModelName(),
		Dimensions:    dims,
		BuiltAt:       time.Now().UTC(),
	}
	if kind == source.KindWeb {
		m.SitesConfigHash = info.SitesConfigHash
	}
	if err := m.write(dir); err != nil {
		return nil, err
	}
	if err := fsutil.SyncDir(dir); err != nil {
		return nil, cerrors.StorageError("sync staging dir", err)
	}
	return m, nil
}

func (s *IndexStore) embedChunks(ctx context.Context, kind source.Kind, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	batch := s.opts.EmbedBatchSize

	for start := 0; start < len(chunks); start += batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			texts = append(texts, chunks[i].EmbeddingText())
		}

		vecs, err := cerrors.RetryWithResult(ctx, s.opts.Retry, func() ([][]float32, error) {
			return s.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			if _, coded := cerrors.As(err); !coded && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				err = cerrors.New(cerrors.ErrCodeEmbeddingFailed, "embed "+kind.Collection(), err)
			}
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(texts)), nil)
		}
		vectors = append(vectors, vecs...)

		if s.opts.OnProgress != nil {
			s.opts.OnProgress(kind, end, len(chunks))
		}
	}
	return vectors, nil
}

// swap moves staging into place: current -> trash, staging -> current,
// then drops the trash. Open undoes a crash between the two renames.
func (s *IndexStore) swap(kind source.Kind, staging string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.handles[kind]; h != nil {
		_ = h.Close()
		delete(s.handles, kind)
	}

	current := s.Dir(kind)
	trash := filepath.Join(s.root, trashPrefix+kind.Collection()+"-"+uuid.NewString())
	hadCurrent := fsutil.Exists(current)
	if hadCurrent {
		if err := os.Rename(current, trash); err != nil {
			return cerrors.StorageError("move old collection aside", err)
		}
	}
	if err := os.Rename(staging, current); err != nil {
		if hadCurrent {
			_ = os.Rename(trash, current)
		}
		return cerrors.StorageError("move new collection into place", err)
	}
	if err := fsutil.SyncDir(s.root); err != nil {
		return cerrors.StorageError("sync collections dir", err)
	}
	if hadCurrent {
		if err := os.RemoveAll(trash); err != nil {
			s.logger.Warn("trash_remove_failed", slog.String("dir", trash), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Manifest reads the on-disk manifest for kind; nil when the collection
// does not exist.
func (s *IndexStore) Manifest(kind source.Kind) (*Manifest, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	return ReadManifest(s.Dir(kind))
}

// Mismatch reports why the collection for kind does not reflect j; the
// empty string means it does.
func (s *IndexStore) Mismatch(kind source.Kind, j *journal.Journal) (string, error) {
	m, err := s.Manifest(kind)
	if err != nil {
		if cerrors.HasCode(err, cerrors.ErrCodeIndexCorrupt) {
			return err.Error(), nil
		}
		return "", err
	}
	return m.Mismatch(j, s.embedder.ModelName()), nil
}

// collection returns an open handle for kind, reopening it when the
// generation on disk differs from the cached one.
func (s *IndexStore) collection(kind source.Kind) (*Collection, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	m, err := ReadManifest(s.Dir(kind))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, cerrors.New(cerrors.ErrCodeCollectionMissing, "collection "+kind.Collection()+" does not exist", nil)
	}

	s.mu.RLock()
	h := s.handles[kind]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, cerrors.InternalError("index store is closed", nil)
	}
	if h != nil && h.Manifest.Generation == m.Generation {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.handles[kind]; h != nil {
		if h.Manifest.Generation == m.Generation {
			return h, nil
		}
		_ = h.Close()
		delete(s.handles, kind)
	}
	fresh, err := openCollection(s.Dir(kind))
	if err != nil {
		return nil, err
	}
	s.handles[kind] = fresh
	s.logger.Debug("collection_opened",
		slog.String("collection", fresh.Name),
		slog.String("generation", fresh.Manifest.Generation))
	return fresh, nil
}

// Search returns the k chunks of kind closest to vec. A missing
// collection yields no results.
func (s *IndexStore) Search(ctx context.Context, kind source.Kind, vec []float32, k int) ([]SearchResult, error) {
	var results []SearchResult
	err := s.withCollection(kind, func(c *Collection) error {
		var err error
		results, err = c.Search(ctx, vec, k)
		return err
	})
	return results, err
}

// ChunkCount returns the number of chunks in the collection for kind, 0
// when it does not exist.
func (s *IndexStore) ChunkCount(ctx context.Context, kind source.Kind) (int, error) {
	var n int
	err := s.withCollection(kind, func(c *Collection) error {
		var err error
		n, err = c.Count(ctx)
		return err
	})
	return n, err
}

// DocumentIDs returns the ids of documents with chunks in the collection.
func (s *IndexStore) DocumentIDs(ctx context.Context, kind source.Kind) ([]string, error) {
	var ids []string
	err := s.withCollection(kind, func(c *Collection) error {
		var err error
		ids, err = c.DocumentIDs(ctx)
		return err
	})
	return ids, err
}

// DocumentChunks returns the chunks indexed for one document.
func (s *IndexStore) DocumentChunks(ctx context.Context, kind source.Kind, docID string) ([]Chunk, error) {
	var chunks []Chunk
	err := s.withCollection(kind, func(c *Collection) error {
		var err error
		chunks, err = c.DocumentChunks(ctx, docID)
		return err
	})
	return chunks, err
}

// withCollection runs fn on the current handle for kind under the read lock,
// so a concurrent swap cannot close it mid-query. A handle replaced between
// resolving and locking is resolved once more.
func (s *IndexStore) withCollection(kind source.Kind, fn func(*Collection) error) error {
	for attempt := 0; ; attempt++ {
		c, err := s.collection(kind)
		if cerrors.HasCode(err, cerrors.ErrCodeCollectionMissing) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.resolved != nil {
			s.resolved(kind)
		}

		s.mu.RLock()
		if s.handles[kind] == c {
			err = fn(c)
			s.mu.RUnlock()
			return err
		}
		s.mu.RUnlock()

		if attempt > 0 {
			return cerrors.New(cerrors.ErrCodeCollectionMissing,
				"collection "+kind.Collection()+" kept being replaced during the query", nil)
		}
		s.logger.Debug("collection_replaced_during_query", slog.String("collection", kind.Collection()))
	}
}

// Reset closes every handle and deletes all collections.
func (s *IndexStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, h := range s.handles {
		_ = h.Close()
		delete(s.handles, kind)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeFileRead, "list "+s.root, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return cerrors.StorageError("remove "+e.Name(), err)
		}
	}
	s.logger.Info("collections_reset")
	return fsutil.SyncDir(s.root)
}

// Close releases every open handle.
func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for kind, h := range s.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.handles, kind)
	}
	return errors.Join(errs...)
}
