// Package journal records what was last indexed ({key -> content hash} plus
// the trusted-sites config hash) and compares it with the current sources.
package journal

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"time"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
	"github.com/Aman-CERP/careindex/internal/source"
)

// FileName is the journal file inside the data dir.
const FileName = "journal.json"

const currentVersion = 1

// Journal is the persisted record of the last successful rebuild. Entries
// exist if and only if the corresponding source was part of that rebuild.
type Journal struct {
	Version         int               `json:"version"`
	Entries         map[string]string `json:"entries"`
	SitesConfigHash string            `json:"sites_config_hash"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{Version: currentVersion, Entries: map[string]string{}}
}

// Key builds the journal key for a document: "<kind>/<id>".
func Key(kind source.Kind, id string) string {
	return string(kind) + "/" + id
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (source.Kind, string) {
	kind, id, _ := strings.Cut(key, "/")
	return source.Kind(kind), id
}

// Load reads the journal at path. A missing file is an empty journal. A
// corrupt file also yields an empty journal, together with an
// ErrCodeIndexCorrupt error so callers can log it and rebuild.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read journal", err)
	}

	j := New()
	if err := json.Unmarshal(data, j); err != nil || j.Version != currentVersion {
		if err == nil {
			err = fmt.Errorf("unsupported journal version %d", j.Version)
		}
		return New(), cerrors.New(cerrors.ErrCodeIndexCorrupt, "journal unreadable, treating as empty", err)
	}
	if j.Entries == nil {
		j.Entries = map[string]string{}
	}
	return j, nil
}

// Save writes the journal atomically.
func (j *Journal) Save(path string) error {
	j.Version = currentVersion
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return cerrors.InternalError("marshal journal", err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return cerrors.StorageError("write journal", err)
	}
	return nil
}

// ForKind returns the entries of one kind keyed by document id.
func (j *Journal) ForKind(kind source.Kind) map[string]string {
	out := map[string]string{}
	prefix := string(kind) + "/"
	for k, v := range j.Entries {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			out[id] = v
		}
	}
	return out
}

// Kinds returns the kinds that have at least one entry, sorted.
func (j *Journal) Kinds() []source.Kind {
	seen := map[source.Kind]bool{}
	for k := range j.Entries {
		kind, _ := SplitKey(k)
		seen[kind] = true
	}
	out := make([]source.Kind, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Equal compares content, ignoring UpdatedAt.
func (j *Journal) Equal(other *Journal) bool {
	if other == nil {
		return false
	}
	return j.SitesConfigHash == other.SitesConfigHash && maps.Equal(j.Entries, other.Entries)
}

// Clone returns a deep copy.
func (j *Journal) Clone() *Journal {
	c := *j
	c.Entries = maps.Clone(j.Entries)
	if c.Entries == nil {
		c.Entries = map[string]string{}
	}
	return &c
}
