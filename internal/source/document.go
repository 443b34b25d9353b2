// Package source defines the normalized document contract consumed by
// indexing and the two materializers that produce it: office-document
// conversion (docx) and trusted-site scraping (web).
package source

import (
	"fmt"
	"strings"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// Kind identifies a source family. Each kind maps to exactly one collection.
type Kind string

const (
	KindDocx Kind = "docx"
	KindWeb  Kind = "web"
)

// Kinds returns every kind in rebuild order.
func Kinds() []Kind {
	return []Kind{KindDocx, KindWeb}
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate rejects unknown kinds.
func (k Kind) Validate() error {
	switch k {
	case KindDocx, KindWeb:
		return nil
	}
	return cerrors.New(cerrors.ErrCodeInvalidKind, fmt.Sprintf("unknown source kind %q", string(k)), nil)
}

// Collection returns the collection name for the kind.
func (k Kind) Collection() string {
	return "base_" + string(k)
}

func (k Kind) String() string { return string(k) }

// Section is one ordered body block.
type Section struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

// Metadata carries citation back-references.
type Metadata struct {
	SourceURL   string `json:"source_url,omitempty"`
	Path        string `json:"path,omitempty"`
	Domain      string `json:"domain,omitempty"`
	RetrievedAt string `json:"retrieved_at,omitempty"`
}

// Document is one logical unit to index: an office fiche or a scraped page.
// Documents are immutable once materialized; a changed source produces a new
// Document with the same ID.
type Document struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Metadata Metadata  `json:"metadata"`
}

// Validate checks the invariants indexing relies on.
func (d *Document) Validate() error {
	if d.ID == "" {
		return cerrors.New(cerrors.ErrCodeInvalidDocument, "document has no id", nil)
	}
	if err := d.Kind.Validate(); err != nil {
		return err
	}
	return nil
}

// SourceRef is the citation target: URL for web pages, path for fiches.
func (d *Document) SourceRef() string {
	if d.Metadata.SourceURL != "" {
		return d.Metadata.SourceURL
	}
	if d.Metadata.Path != "" {
		return d.Metadata.Path
	}
	return d.ID
}

// Body joins the non-empty sections.
func (d *Document) Body() string {
	parts := make([]string, 0, len(d.Sections))
	for _, s := range d.NonEmptySections() {
		parts = append(parts, s.Render())
	}
	return strings.Join(parts, "\n\n")
}

// NonEmptySections drops sections without text.
func (d *Document) NonEmptySections() []Section {
	out := make([]Section, 0, len(d.Sections))
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Text) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Render returns the heading followed by the text.
func (s Section) Render() string {
	if s.Heading == "" {
		return strings.TrimSpace(s.Text)
	}
	return s.Heading + "\n" + strings.TrimSpace(s.Text)
}
