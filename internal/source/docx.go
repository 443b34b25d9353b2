package source

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// DocxConverter materializes office fiches: each .docx under SourceDir is
// converted to a JSON document in OutDir. Output carries no timestamps, so
// converting unchanged inputs rewrites nothing.
type DocxConverter struct {
	SourceDir string
	OutDir    string
	Logger    *slog.Logger
}

// NewDocxConverter creates a converter.
func NewDocxConverter(sourceDir, outDir string, logger *slog.Logger) *DocxConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxConverter{SourceDir: sourceDir, OutDir: outDir, Logger: logger}
}

// MaterializeDocx converts paths and returns the resulting documents in input
// order. A file that cannot be parsed is logged and skipped; it is retried
// when its content changes.
func (c *DocxConverter) MaterializeDocx(ctx context.Context, paths []string) ([]Document, error) {
	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := c.convert(path)
		if err != nil {
			c.Logger.Warn("docx_unreadable_skipped",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		changed, err := WriteDocument(c.OutDir, doc)
		if err != nil {
			return nil, err
		}
		if changed {
			c.Logger.Debug("fiche_written", slog.String("id", doc.ID))
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Fiche returns the fiche last written for id.
func (c *DocxConverter) Fiche(id string) (*Document, error) {
	return ReadDocument(c.OutDir, id, KindDocx)
}

// Prune deletes fiches whose source document is gone.
func (c *DocxConverter) Prune(docs []Document) error {
	keep := make(map[string]bool, len(docs))
	for _, d := range docs {
		keep[d.ID] = true
	}
	removed, err := PruneDir(c.OutDir, keep)
	for _, id := range removed {
		c.Logger.Info("stale_fiche_removed", slog.String("id", id))
	}
	return err
}

func (c *DocxConverter) convert(path string) (*Document, error) {
	id, err := DocumentID(c.SourceDir, path)
	if err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "not a docx archive", err)
	}
	defer func() { _ = zr.Close() }()

	body, err := readZipEntry(&zr.Reader, "word/document.xml")
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "missing word/document.xml", err)
	}
	paragraphs, err := parseParagraphs(body)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "malformed document.xml", err)
	}

	title := ""
	if core, err := readZipEntry(&zr.Reader, "docProps/core.xml"); err == nil {
		title = parseCoreTitle(core)
	}

	sections, docTitle := splitSections(paragraphs)
	if title == "" {
		title = docTitle
	}
	if title == "" {
		title = titleFromFilename(path)
	}

	rel := strings.TrimPrefix(filepath.ToSlash(path), filepath.ToSlash(c.SourceDir)+"/")
	return &Document{
		ID:       id,
		Kind:     KindDocx,
		Title:    title,
		Sections: sections,
		Metadata: Metadata{Path: rel, Domain: "interne"},
	}, nil
}

func readZipEntry(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

type documentXML struct {
	Body struct {
		Paragraphs []paragraphXML `xml:"p"`
	} `xml:"body"`
}

type paragraphXML struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

type paragraph struct {
	style string
	text  string
}

func parseParagraphs(content []byte) ([]paragraph, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	out := make([]paragraph, 0, len(doc.Body.Paragraphs))
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Content)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		out = append(out, paragraph{style: p.Props.Style.Val, text: text})
	}
	return out, nil
}

var (
	titleStyle   = regexp.MustCompile(`(?i)^(title|titre)$`)
	headingStyle = regexp.MustCompile(`(?i)^(heading|titre)\s*[1-3]$`)
)

// splitSections starts a new section at every level 1-3 heading. Text before
// the first heading forms an untitled leading section. A Title-styled
// paragraph becomes the document title instead of body text.
func splitSections(paragraphs []paragraph) ([]Section, string) {
	var (
		sections []Section
		current  *Section
		body     []string
		title    string
	)
	flush := func() {
		if current == nil && len(body) == 0 {
			return
		}
		s := Section{Text: strings.Join(body, "\n")}
		if current != nil {
			s.Heading = current.Heading
		}
		sections = append(sections, s)
		body = nil
	}

	for _, p := range paragraphs {
		switch {
		case titleStyle.MatchString(p.style) && title == "":
			title = p.text
		case headingStyle.MatchString(p.style):
			flush()
			current = &Section{Heading: p.text}
		default:
			body = append(body, p.text)
		}
	}
	flush()
	return sections, title
}

func parseCoreTitle(content []byte) string {
	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(content, &core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

func titleFromFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.TrimSpace(name)
}
