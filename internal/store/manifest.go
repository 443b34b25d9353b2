package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
)

// Manifest describes a built collection: which source hashes it was built
// from and with which embedding model. Generation changes on every
// rebuild so readers can notice a swap.
type Manifest struct {
	Collection      string            `json:"collection"`
	Kind            source.Kind       `json:"kind"`
	Generation      string            `json:"generation"`
	Sources         map[string]string `json:"sources"`
	SitesConfigHash string            `json:"sites_config_hash,omitempty"`
	DocumentCount   int               `json:"document_count"`
	ChunkCount      int               `json:"chunk_count"`
	EmbedModel      string            `json:"embed_model"`
	Dimensions      int               `json:"dimensions"`
	BuiltAt         time.Time         `json:"built_at"`
}

// ReadManifest loads dir/manifest.json. A missing file returns (nil, nil).
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read manifest in "+dir, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeIndexCorrupt, "parse manifest in "+dir, err)
	}
	if m.Sources == nil {
		m.Sources = map[string]string{}
	}
	return &m, nil
}

func (m *Manifest) write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return cerrors.InternalError("encode manifest", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ManifestFile), append(data, '\n'), 0o644); err != nil {
		return cerrors.StorageError("write manifest", err)
	}
	return nil
}

// ReasonMissing is the Mismatch reason for a collection that was never built.
const ReasonMissing = "collection missing"

// Mismatch explains why a collection does not reflect the journal. The
// empty string means it matches.
func (m *Manifest) Mismatch(j *journal.Journal, model string) string {
	if m == nil {
		return ReasonMissing
	}
	if model != "" && m.EmbedModel != model {
		return "embedding model changed from " + m.EmbedModel + " to " + model
	}
	if !maps.Equal(m.Sources, j.ForKind(m.Kind)) {
		return "collection sources differ from journal"
	}
	if m.Kind == source.KindWeb && m.SitesConfigHash != j.SitesConfigHash {
		return "trusted sites config differs from journal"
	}
	return ""
}
