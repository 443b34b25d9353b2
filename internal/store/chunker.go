package store

import (
	"unicode/utf8"

	"github.com/Aman-CERP/careindex/internal/source"
)

// DefaultShortDocumentRunes is the body length under which a fiche is kept
// as a single chunk.
const DefaultShortDocumentRunes = 300

// ChunkDocument splits doc into chunks: one per non-empty section. A fiche
// with at most one section, or whose body is shorter than shortRunes, is a
// single chunk. Web pages always split by section. Keys are left zero.
func ChunkDocument(doc *source.Document, shortRunes int) []Chunk {
	sections := doc.NonEmptySections()
	if len(sections) == 0 {
		return nil
	}

	base := Chunk{
		Kind:       doc.Kind,
		DocumentID: doc.ID,
		Title:      doc.Title,
		SourceRef:  doc.SourceRef(),
		Domain:     doc.Metadata.Domain,
		Path:       doc.Metadata.Path,
	}

	whole := len(sections) == 1 ||
		(doc.Kind == source.KindDocx && utf8.RuneCountInString(doc.Body()) < shortRunes)
	if whole {
		c := base
		c.ID = ChunkID(doc.Kind, doc.ID, 0)
		c.Text = doc.Body()
		return []Chunk{c}
	}

	chunks := make([]Chunk, 0, len(sections))
	for i, s := range sections {
		c := base
		c.ID = ChunkID(doc.Kind, doc.ID, i)
		c.Index = i
		c.Text = s.Render()
		chunks = append(chunks, c)
	}
	return chunks
}
