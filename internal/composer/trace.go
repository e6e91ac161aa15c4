package composer

import (
	"encoding/json"
	"slices"

	"photostudio/internal/domain"
)

// PromptContext is the audit trace stored with every artifact. It records
// enough to rebuild the prompt from stored rows.
type PromptContext struct {
	Composer        string             `json:"composer"`
	Version         int                `json:"version"`
	Profile         Profile            `json:"profile"`
	Owner           *domain.Owner      `json:"owner,omitempty"`
	Inputs          TraceInputs        `json:"inputs"`
	Sources         TraceSources       `json:"sources"`
	Blocks          []domain.BlockKind `json:"blocks"`
	ReferenceImages []string           `json:"referenceImages"`
	DroppedImages   []string           `json:"droppedImages,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// TraceInputs are the raw caller inputs.
type TraceInputs struct {
	DraftPrompt     string `json:"draftPrompt"`
	EditInstruction string `json:"editInstruction,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	SceneAssetID    string `json:"sceneAssetId,omitempty"`
}

// TraceSources are the ids of the rows that were actually rendered from.
type TraceSources struct {
	ProjectID      string   `json:"projectId,omitempty"`
	CustomerIDs    []string `json:"customerIds,omitempty"`
	ModelIDs       []string `json:"modelIds,omitempty"`
	SceneAssetID   string   `json:"sceneAssetId,omitempty"`
	PlanVersionID  string   `json:"planVersionId,omitempty"`
	PlanSceneIndex *int     `json:"planSceneIndex,omitempty"`
}

// Warn appends a warning to the trace once.
func (p *PromptContext) Warn(msg string) {
	if slices.Contains(p.Warnings, msg) {
		return
	}
	p.Warnings = append(p.Warnings, msg)
}

// JSON encodes the trace. Encoding cannot fail for this type, so errors
// yield an empty object.
func (p *PromptContext) JSON() json.RawMessage {
	if p == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
