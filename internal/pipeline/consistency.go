package pipeline

import (
	"time"

	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// InconsistencyType categorizes a disagreement between the readiness flag,
// the journal and the collections.
type InconsistencyType int

const (
	// InconsistencyCollectionMismatch: a collection was built from other
	// sources than the journal records.
	InconsistencyCollectionMismatch InconsistencyType = iota
	// InconsistencyCollectionMissing: a collection does not exist.
	InconsistencyCollectionMissing
	// InconsistencyFlagUnreadable: the readiness flag is corrupt.
	InconsistencyFlagUnreadable
	// InconsistencyJournalUnreadable: the journal is corrupt.
	InconsistencyJournalUnreadable
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyCollectionMismatch:
		return "collection_mismatch"
	case InconsistencyCollectionMissing:
		return "collection_missing"
	case InconsistencyFlagUnreadable:
		return "flag_unreadable"
	case InconsistencyJournalUnreadable:
		return "journal_unreadable"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type    InconsistencyType
	Kind    source.Kind
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	State           gate.State
	Journal         *journal.Journal
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether nothing disagrees.
func (r *CheckResult) Consistent() bool { return len(r.Inconsistencies) == 0 }

// StorageEmpty reports whether no collection exists at all.
func (r *CheckResult) StorageEmpty() bool {
	missing := 0
	for _, inc := range r.Inconsistencies {
		if inc.Type == InconsistencyCollectionMissing {
			missing++
		}
	}
	return missing == len(source.Kinds())
}

// TrustedReady reports whether the flag says Ready and nothing contradicts
// it.
func (r *CheckResult) TrustedReady() bool {
	return r.State == gate.StateReady && r.Consistent()
}

// ConsistencyChecker compares the readiness flag and both collections with
// the journal. It reads only.
type ConsistencyChecker struct {
	gate        *gate.Gate
	store       Indexer
	journalPath string
}

// NewConsistencyChecker creates a checker.
func NewConsistencyChecker(g *gate.Gate, s Indexer, journalPath string) *ConsistencyChecker {
	return &ConsistencyChecker{gate: g, store: s, journalPath: journalPath}
}

// Check runs every comparison.
func (c *ConsistencyChecker) Check() (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{}

	st, err := c.gate.Status()
	res.State = st.State
	if err != nil {
		res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
			Type: InconsistencyFlagUnreadable, Details: err.Error(),
		})
	}

	j, err := journal.Load(c.journalPath)
	if j == nil {
		return nil, err
	}
	res.Journal = j
	if err != nil {
		res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
			Type: InconsistencyJournalUnreadable, Details: err.Error(),
		})
	}

	for _, kind := range source.Kinds() {
		reason, err := c.store.Mismatch(kind, j)
		if err != nil {
			return nil, err
		}
		switch reason {
		case "":
		case store.ReasonMissing:
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type: InconsistencyCollectionMissing, Kind: kind, Details: reason,
			})
		default:
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type: InconsistencyCollectionMismatch, Kind: kind, Details: reason,
			})
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}
