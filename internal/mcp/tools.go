package mcp

import (
	"time"

	"github.com/Aman-CERP/careindex/internal/gate"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/retrieval"
)

// Tool names.
const (
	ToolRetrieve    = "retrieve"
	ToolIndexStatus = "index_status"
)

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query         string `json:"query" jsonschema:"the caregiver question, in French"`
	TopKPrimary   int    `json:"top_k_primary,omitempty" jsonschema:"number of fiche passages, default from config"`
	TopKSecondary int    `json:"top_k_secondary,omitempty" jsonschema:"maximum number of web passages, default from config"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	// Context is the citation-tagged block ready for the prompt.
	Context  string              `json:"context" jsonschema:"formatted passages with DOC-n and WEB-n tags"`
	Passages []retrieval.Passage `json:"passages" jsonschema:"the cited passages in order"`
	Dropped  int                 `json:"dropped" jsonschema:"web candidates dropped as redundant with the fiches"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Ready          bool             `json:"ready"`
	State          string           `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	ForceRequested bool             `json:"force_requested"`
	Collections    []CollectionInfo `json:"collections"`
	Issues         []string         `json:"issues,omitempty"`
	Rebuild        *RebuildInfo     `json:"rebuild,omitempty"` // Present while a run is in flight
	Embeddings     EmbeddingInfo    `json:"embeddings"`
}

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name          string `json:"name"`
	ChunkCount    int    `json:"chunk_count"`
	DocumentCount int    `json:"document_count"`
	InSync        bool   `json:"in_sync"`
	BuiltAt       string `json:"built_at,omitempty"`
}

// RebuildInfo reports an in-flight pipeline run.
type RebuildInfo struct {
	RunID          string  `json:"run_id"`
	Trigger        string  `json:"trigger"`
	Stage          string  `json:"stage"`
	Collection     string  `json:"collection,omitempty"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksEmbedded int     `json:"chunks_embedded"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
}

func toIndexStatusOutput(rep *pipeline.StatusReport) *IndexStatusOutput {
	out := &IndexStatusOutput{
		Ready:          rep.State == gate.StateReady,
		State:          string(rep.State),
		Reason:         rep.Reason,
		ForceRequested: rep.ForceRequested,
		Issues:         rep.Issues,
	}
	for _, c := range rep.Collections {
		ci := CollectionInfo{
			Name:          c.Name,
			ChunkCount:    c.ChunkCount,
			DocumentCount: c.DocumentCount,
			InSync:        c.InSync,
		}
		if !c.BuiltAt.IsZero() {
			ci.BuiltAt = c.BuiltAt.Format(time.RFC3339)
		}
		out.Collections = append(out.Collections, ci)
	}
	if p := rep.Progress; p != nil && p.Running {
		out.Rebuild = &RebuildInfo{
			RunID:          p.RunID,
			Trigger:        p.Trigger,
			Stage:          p.Stage,
			Collection:     p.Collection,
			ChunksTotal:    p.ChunksTotal,
			ChunksEmbedded: p.ChunksEmbedded,
			ProgressPct:    p.ProgressPct,
			ElapsedSeconds: p.ElapsedSeconds,
		}
	}
	return out
}

// EmbeddingInfo describes the query embedder.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // "ready" or "unavailable"
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name: ToolRetrieve,
		Description: "Retrieve passages answering a caregiver question. Returns the closest fiche passages (DOC-n) " +
			"and web passages (WEB-n) that add information not already in the fiches. Fails with " +
			"ERR_503_INDEX_NOT_READY while the index is being rebuilt.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether the index is ready, the collections' chunk counts and any rebuild in progress.",
	},
}
