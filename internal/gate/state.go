// Package gate holds the readiness flag consulted by readers, the
// operator's force-rebuild marker, and the Guard that serializes pipeline
// runs across processes.
//
// All three live in the data directory:
//
//	index.state     {"state": "...", "reason": "...", "updated_at": "..."}
//	force_rebuild   present while an operator-requested reset is pending
//	pipeline.lock   advisory lock held for one pipeline run
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
)

// File names inside the data directory.
const (
	StateFile = "index.state"
	ForceFile = "force_rebuild"
	LockFile  = "pipeline.lock"
)

// State is the readiness of the index.
type State string

const (
	// StateAbsent: no rebuild has ever completed.
	StateAbsent State = "absent"
	// StateRebuildRequested: a change or reset is pending or in flight.
	StateRebuildRequested State = "rebuild_requested"
	// StateReady: the collections match the journal.
	StateReady State = "ready"
)

func (s State) String() string { return string(s) }

// Transition validates a state change. Anything may move to
// RebuildRequested; only RebuildRequested may move to Ready; nothing moves
// back to Absent.
func Transition(from, to State) error {
	switch to {
	case StateRebuildRequested:
		return nil
	case StateReady:
		if from == StateRebuildRequested {
			return nil
		}
	}
	return cerrors.New(cerrors.ErrCodeInvalidTransition, "invalid readiness transition "+string(from)+" -> "+string(to), nil)
}

// Status is the persisted readiness record.
type Status struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gate reads and writes the readiness flag and the force marker.
type Gate struct {
	dir string
	now func() time.Time
}

// New returns a gate rooted at dataDir.
func New(dataDir string) *Gate {
	return &Gate{dir: dataDir, now: time.Now}
}

// Dir returns the data directory.
func (g *Gate) Dir() string { return g.dir }

// Status reads the flag. A missing file is Absent. An unreadable, corrupt
// or unknown flag reads as RebuildRequested, never as Ready; the returned
// error is informational in that case.
func (g *Gate) Status() (Status, error) {
	data, err := os.ReadFile(filepath.Join(g.dir, StateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Status{State: StateAbsent}, nil
	}
	if err != nil {
		return Status{State: StateRebuildRequested, Reason: "state file unreadable"},
			cerrors.New(cerrors.ErrCodeFileRead, "read readiness state", err)
	}

	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{State: StateRebuildRequested, Reason: "state file corrupt"},
			cerrors.New(cerrors.ErrCodeIndexCorrupt, "parse readiness state", err)
	}
	switch st.State {
	case StateAbsent, StateRebuildRequested, StateReady:
		return st, nil
	default:
		return Status{State: StateRebuildRequested, Reason: "unknown state " + string(st.State)},
			cerrors.New(cerrors.ErrCodeIndexCorrupt, "unknown readiness state "+string(st.State), nil)
	}
}

// State is Status without the details.
func (g *Gate) State() State {
	st, _ := g.Status()
	return st.State
}

// Ready reports whether readers may trust the index.
func (g *Gate) Ready() bool {
	return g.State() == StateReady
}

// RequestRebuild moves the flag to RebuildRequested.
func (g *Gate) RequestRebuild(reason string) error {
	return g.write(StateRebuildRequested, reason)
}

// MarkReady moves the flag from RebuildRequested to Ready. Callers must
// have committed the journal first.
func (g *Gate) MarkReady() error {
	return g.write(StateReady, "")
}

func (g *Gate) write(to State, reason string) error {
	cur, _ := g.Status()
	if err := Transition(cur.State, to); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Status{State: to, Reason: reason, UpdatedAt: g.now().UTC()}, "", "  ")
	if err != nil {
		return cerrors.InternalError("encode readiness state", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(g.dir, StateFile), append(data, '\n'), 0o644); err != nil {
		return cerrors.StorageError("write readiness state", err)
	}
	return nil
}

// ForceRequested reports whether the force marker exists.
func (g *Gate) ForceRequested() bool {
	return fsutil.Exists(filepath.Join(g.dir, ForceFile))
}

// ForceMarker returns the marker content and whether a force is pending.
// A marker that exists but cannot be read still counts as pending.
func (g *Gate) ForceMarker() (string, bool) {
	data, err := os.ReadFile(filepath.Join(g.dir, ForceFile))
	if err != nil {
		return "", !errors.Is(err, fs.ErrNotExist)
	}
	return string(data), true
}

// RequestForce writes the force marker and moves the flag to
// RebuildRequested. Every request writes distinct content.
func (g *Gate) RequestForce(reason string) error {
	if reason == "" {
		reason = "operator reset"
	}
	content := fmt.Sprintf("%s %s %s\n", g.now().UTC().Format(time.RFC3339), uuid.NewString(), reason)
	if err := fsutil.WriteFileAtomic(filepath.Join(g.dir, ForceFile), []byte(content), 0o644); err != nil {
		return cerrors.StorageError("write force marker", err)
	}
	return g.RequestRebuild(reason)
}

// ClearForce removes the force marker if it still holds seen, the content
// ForceMarker returned when the run started. A marker rewritten since then
// is kept for the next run; the result reports whether none is left.
func (g *Gate) ClearForce(seen string) (bool, error) {
	path := filepath.Join(g.dir, ForceFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	case err != nil:
		return false, cerrors.StorageError("read force marker", err)
	case string(data) != seen:
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, cerrors.StorageError("remove force marker", err)
	}
	return true, nil
}
