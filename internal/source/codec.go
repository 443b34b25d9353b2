package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
	"github.com/Aman-CERP/careindex/internal/ignore"
)

// Encode serializes a document deterministically: indented JSON with a
// trailing newline. Equal documents always produce equal bytes.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one JSON document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentID derives the stable id for path under root: the slash-separated
// relative path without extension.
func DocumentID(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

// WriteDocument writes doc as dir/<id>.json unless the file already holds the
// same bytes. It reports whether the file changed.
func WriteDocument(dir string, doc *Document) (bool, error) {
	data, err := Encode(doc)
	if err != nil {
		return false, err
	}
	path := filepath.Join(dir, filepath.FromSlash(doc.ID)+".json")
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, cerrors.StorageError("write document "+doc.ID, err)
	}
	return true, nil
}

// ReadDocument loads dir/<id>.json as a document of kind.
func ReadDocument(dir, id string, kind Kind) (*Document, error) {
	path := filepath.Join(dir, filepath.FromSlash(id)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read "+path, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "parse "+path, err)
	}
	doc.ID, doc.Kind = id, kind
	return doc, nil
}

// ListFiles returns the non-ignored files under dir with the given extension,
// sorted. A missing dir yields no files.
func ListFiles(dir, ext string, m *ignore.Matcher) ([]string, error) {
	if m == nil {
		m = ignore.New()
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		if m.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir reads every JSON document of the given kind under dir, sorted by
// id. The id and kind are taken from the file location, not the payload, so
// the index always agrees with change detection.
func LoadDir(dir string, kind Kind) ([]Document, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	m, err := ignore.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	files, err := ListFiles(dir, ".json", m)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "list "+dir, err)
	}

	docs := make([]Document, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeFileRead, "read "+path, err)
		}
		doc, err := Decode(data)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "parse "+path, err)
		}
		id, err := DocumentID(dir, path)
		if err != nil {
			return nil, err
		}
		doc.ID = id
		doc.Kind = kind
		docs = append(docs, *doc)
	}
	return docs, nil
}

// PruneDir removes dir/<id>.json files whose id is not in keep and returns
// the removed ids.
func PruneDir(dir string, keep map[string]bool) ([]string, error) {
	files, err := ListFiles(dir, ".json", nil)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, path := range files {
		id, err := DocumentID(dir, path)
		if err != nil {
			return nil, err
		}
		if keep[id] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, cerrors.StorageError("remove stale document "+id, err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}
