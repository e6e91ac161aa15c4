package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OwnerType enumerates what a prompt or artifact can be generated for.
type OwnerType string

const (
	OwnerTypeAsset              OwnerType = "asset"
	OwnerTypeProjectPlanVersion OwnerType = "projectPlanVersion"
	OwnerTypePlanScene          OwnerType = "planScene"
)

// Valid reports whether t is one of the known owner types.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerTypeAsset, OwnerTypeProjectPlanVersion, OwnerTypePlanScene:
		return true
	}
	return false
}

// Owner addresses the business object a generation belongs to. Slot is an
// optional sub-address such as "scene:2".
type Owner struct {
	Type OwnerType `json:"type" validate:"required,oneof=asset projectPlanVersion planScene"`
	ID   string    `json:"id" validate:"required"`
	Slot string    `json:"slot,omitempty"`
}

// Key is a stable string form used for locking and logging.
func (o Owner) Key() string {
	if o.Slot == "" {
		return string(o.Type) + ":" + o.ID
	}
	return string(o.Type) + ":" + o.ID + "#" + o.Slot
}

// Same reports whether two owners address the exact same slot.
func (o Owner) Same(other Owner) bool {
	return o.Type == other.Type && o.ID == other.ID && o.Slot == other.Slot
}

const sceneSlotPrefix = "scene:"

// SceneSlot formats the slot for a plan scene index.
func SceneSlot(index int) string {
	return sceneSlotPrefix + strconv.Itoa(index)
}

// SceneIndex parses a "scene:<n>" slot.
func (o Owner) SceneIndex() (int, error) {
	raw, ok := strings.CutPrefix(o.Slot, sceneSlotPrefix)
	if !ok {
		return 0, fmt.Errorf("slot %q is not a scene slot", o.Slot)
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("slot %q has invalid scene index", o.Slot)
	}
	return idx, nil
}

// ArtifactType enumerates generated file kinds.
type ArtifactType string

const ArtifactTypeImage ArtifactType = "image"

// Artifact is one generated file. Rows are append-only; only DeletedAt changes
// after insert.
type Artifact struct {
	ID               string          `json:"id"`
	RunID            string          `json:"runId"`
	Type             ArtifactType    `json:"type"`
	MimeType         string          `json:"mimeType"`
	FilePath         string          `json:"filePath"`
	Width            int             `json:"width"`
	Height           int             `json:"height"`
	SizeBytes        int64           `json:"sizeBytes"`
	Owner            Owner           `json:"owner"`
	EffectivePrompt  string          `json:"effectivePrompt"`
	RenderPrompt     string          `json:"renderPrompt"`
	PromptContext    json.RawMessage `json:"promptContext"`
	ReferenceImages  []string        `json:"referenceImages"`
	EditInstruction  string          `json:"editInstruction,omitempty"`
	ParentArtifactID *string         `json:"parentArtifactId"`
	CreatedAt        time.Time       `json:"createdAt"`
	DeletedAt        *time.Time      `json:"deletedAt"`
}

// Deleted reports whether the artifact is soft-deleted.
func (a Artifact) Deleted() bool {
	return a.DeletedAt != nil
}

// CurrentPointer is an owner's view of its current artifact. FilePath mirrors
// the owner's primary image path for owners that keep one.
type CurrentPointer struct {
	ArtifactID *string
	FilePath   *string
}

// Points reports whether the pointer identifies artifact a. Rows written before
// the explicit artifact id existed are matched by file path.
func (p CurrentPointer) Points(a Artifact) bool {
	if p.ArtifactID != nil {
		return *p.ArtifactID == a.ID
	}
	return p.FilePath != nil && *p.FilePath != "" && *p.FilePath == a.FilePath
}
