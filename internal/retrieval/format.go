package retrieval

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// NoSecondaryMarker stands in for the web section when no web passage
// survives the novelty filter.
const NoSecondaryMarker = "Aucune source web complémentaire pertinente."

// Citation tag prefixes.
const (
	PrimaryTag   = "DOC"
	SecondaryTag = "WEB"
)

// Passage is one cited passage.
type Passage struct {
	Tag       string      `json:"tag"`
	Title     string      `json:"title"`
	SourceRef string      `json:"source_ref"`
	Text      string      `json:"text"`
	Kind      source.Kind `json:"kind"`
	ChunkID   string      `json:"chunk_id"`
	Score     float32     `json:"score"`
	Novelty   float64     `json:"novelty,omitempty"`
}

func newPassage(r store.SearchResult) Passage {
	ref := r.SourceRef
	if ref == "" {
		ref = r.Path
	}
	return Passage{
		Title:     r.Title,
		SourceRef: ref,
		Text:      r.Text,
		Kind:      r.Kind,
		ChunkID:   r.ID,
		Score:     r.Score,
	}
}

// Context is the result of one Retrieve call.
type Context struct {
	Query     string    `json:"query"`
	Primary   []Passage `json:"primary"`
	Secondary []Passage `json:"secondary"`
	// Dropped counts web candidates rejected as redundant.
	Dropped int `json:"dropped"`
}

// Passages returns primary then secondary passages in citation order.
func (c *Context) Passages() []Passage {
	out := make([]Passage, 0, len(c.Primary)+len(c.Secondary))
	out = append(out, c.Primary...)
	return append(out, c.Secondary...)
}

// Empty reports whether nothing was found in either collection.
func (c *Context) Empty() bool {
	return len(c.Primary) == 0 && len(c.Secondary) == 0
}

// assignTags numbers passages DOC-1.. and WEB-1.. and suffixes repeated
// titles with " (2)", " (3)" and so on.
func (c *Context) assignTags() {
	seen := make(map[string]int)
	retitle := func(p *Passage) {
		key := strings.TrimSpace(p.Title)
		seen[key]++
		if n := seen[key]; n > 1 {
			p.Title = fmt.Sprintf("%s (%d)", p.Title, n)
		}
	}
	for i := range c.Primary {
		c.Primary[i].Tag = fmt.Sprintf("%s-%d", PrimaryTag, i+1)
		retitle(&c.Primary[i])
	}
	for i := range c.Secondary {
		c.Secondary[i].Tag = fmt.Sprintf("%s-%d", SecondaryTag, i+1)
		retitle(&c.Secondary[i])
	}
}

// Format renders the context block injected into the prompt. The web
// section is always present, holding NoSecondaryMarker when empty.
func (c *Context) Format() string {
	var b strings.Builder
	for _, p := range c.Primary {
		writePassage(&b, p)
	}
	if len(c.Secondary) == 0 {
		fmt.Fprintf(&b, "[%s] %s\n", SecondaryTag, NoSecondaryMarker)
		return b.String()
	}
	for _, p := range c.Secondary {
		writePassage(&b, p)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writePassage(b *strings.Builder, p Passage) {
	fmt.Fprintf(b, "[%s] %s\n", p.Tag, p.Title)
	if p.SourceRef != "" {
		fmt.Fprintf(b, "Source : %s\n", p.SourceRef)
	}
	b.WriteString(strings.TrimSpace(p.Text))
	b.WriteString("\n\n")
}
