// Package store owns the vector collections, one per source kind.
//
// A collection lives in data_dir/collections/<name>/ as three files: a
// SQLite chunk table, an HNSW graph keyed by chunk row key, and a JSON
// manifest. Collections are never patched in place: RebuildCollection
// builds a complete replacement in a staging directory and swaps it in with
// renames, so readers see either the old collection or the new one.
package store

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/careindex/internal/source"
)

// File names inside a collection directory.
const (
	ChunksFile   = "chunks.db"
	VectorsFile  = "vectors.hnsw"
	ManifestFile = "manifest.json"
)

// Chunk is one indexable slice of a document plus its citation fields.
// Key is the row key shared by the chunk table and the vector graph.
type Chunk struct {
	Key        uint64      `db:"key"`
	ID         string      `db:"chunk_id"`
	Kind       source.Kind `db:"kind"`
	DocumentID string      `db:"document_id"`
	Index      int         `db:"chunk_index"`
	Title      string      `db:"title"`
	SourceRef  string      `db:"source_ref"`
	Domain     string      `db:"domain"`
	Path       string      `db:"path"`
	Text       string      `db:"text"`
}

// ChunkID formats "<kind>:<docID>#<index>".
func ChunkID(kind source.Kind, docID string, index int) string {
	return fmt.Sprintf("%s:%s#%d", kind, docID, index)
}

// EmbeddingText is what gets embedded: the title gives short sections
// their context.
func (c *Chunk) EmbeddingText() string {
	if c.Title == "" || strings.HasPrefix(c.Text, c.Title) {
		return c.Text
	}
	return c.Title + "\n" + c.Text
}

// SearchResult is a chunk with its similarity to the query (higher is
// closer, 0..1 for cosine).
type SearchResult struct {
	Chunk
	Score float32
}
