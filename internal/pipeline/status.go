package pipeline

import (
	"time"

	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/source"
	"github.com/Aman-CERP/careindex/internal/store"
)

// Inspector is what status reporting needs from the store.
type Inspector interface {
	Indexer
	Manifest(kind source.Kind) (*store.Manifest, error)
}

// CollectionStatus describes one collection on disk.
type CollectionStatus struct {
	Name          string      `json:"name"`
	Kind          source.Kind `json:"kind"`
	Exists        bool        `json:"exists"`
	ChunkCount    int         `json:"chunk_count"`
	DocumentCount int         `json:"document_count"`
	Generation    string      `json:"generation,omitempty"`
	EmbedModel    string      `json:"embed_model,omitempty"`
	BuiltAt       time.Time   `json:"built_at,omitzero"`
	InSync        bool        `json:"in_sync"`
	Mismatch      string      `json:"mismatch,omitempty"`
}

// StatusReport is the operator view of the index.
type StatusReport struct {
	State           gate.State          `json:"state"`
	Reason          string              `json:"reason,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at,omitzero"`
	Trusted         bool                `json:"trusted"`
	ForceRequested  bool                `json:"force_requested"`
	JournalEntries  map[source.Kind]int `json:"journal_entries"`
	SitesConfigHash string              `json:"sites_config_hash,omitempty"`
	JournalUpdated  time.Time           `json:"journal_updated_at,omitzero"`
	Collections     []CollectionStatus  `json:"collections"`
	Issues          []string            `json:"issues,omitempty"`
	Progress        *ProgressSnapshot   `json:"progress,omitempty"`
}

// BuildStatus assembles a StatusReport. It only reads. p may be nil.
func BuildStatus(g *gate.Gate, s Inspector, journalPath string, p *Progress) (*StatusReport, error) {
	res, err := NewConsistencyChecker(g, s, journalPath).Check()
	if err != nil {
		return nil, err
	}
	st, _ := g.Status()

	rep := &StatusReport{
		State:           st.State,
		Reason:          st.Reason,
		UpdatedAt:       st.UpdatedAt,
		Trusted:         res.TrustedReady(),
		ForceRequested:  g.ForceRequested(),
		JournalEntries:  make(map[source.Kind]int),
		SitesConfigHash: res.Journal.SitesConfigHash,
		JournalUpdated:  res.Journal.UpdatedAt,
	}

	mismatch := make(map[source.Kind]string)
	for _, inc := range res.Inconsistencies {
		if inc.Kind != "" {
			mismatch[inc.Kind] = inc.Details
		}
		issue := inc.Type.String()
		if inc.Kind != "" {
			issue += " " + string(inc.Kind)
		}
		if inc.Details != "" {
			issue += ": " + inc.Details
		}
		rep.Issues = append(rep.Issues, issue)
	}

	for _, kind := range source.Kinds() {
		rep.JournalEntries[kind] = len(res.Journal.ForKind(kind))

		cs := CollectionStatus{Name: kind.Collection(), Kind: kind, Mismatch: mismatch[kind]}
		cs.InSync = cs.Mismatch == ""
		m, err := s.Manifest(kind)
		if err != nil {
			return nil, err
		}
		if m != nil {
			cs.Exists = true
			cs.ChunkCount = m.ChunkCount
			cs.DocumentCount = m.DocumentCount
			cs.Generation = m.Generation
			cs.EmbedModel = m.EmbedModel
			cs.BuiltAt = m.BuiltAt
		}
		rep.Collections = append(rep.Collections, cs)
	}

	if p != nil {
		snap := p.Snapshot()
		rep.Progress = &snap
	}
	return rep, nil
}

// Reporter binds BuildStatus to one index.
type Reporter struct {
	Gate        *gate.Gate
	Store       Inspector
	JournalPath string
	Progress    *Progress
}

// Report builds the current StatusReport.
func (r Reporter) Report() (*StatusReport, error) {
	return BuildStatus(r.Gate, r.Store, r.JournalPath, r.Progress)
}
