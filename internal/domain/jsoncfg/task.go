package jsoncfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"photostudio/internal/domain"
)

const (
	// DefaultAspectRatio is used when an image request omits the aspect ratio.
	DefaultAspectRatio = "1:1"
	// MaxReferenceImages bounds caller-supplied reference images per request.
	MaxReferenceImages = 16
)

// Input is a typed task payload. The task type selects the schema.
type Input interface {
	TaskType() domain.TaskType
}

// ImageGenerationInput requests one image for an owner.
type ImageGenerationInput struct {
	DraftPrompt      string        `json:"draftPrompt" validate:"max=8000"`
	Owner            *domain.Owner `json:"owner,omitempty"`
	ProjectID        string        `json:"projectId,omitempty"`
	SceneAssetID     string        `json:"sceneAssetId,omitempty"`
	EditInstruction  string        `json:"editInstruction,omitempty" validate:"max=4000"`
	ParentArtifactID string        `json:"parentArtifactId,omitempty"`
	ReferenceImages  []string      `json:"referenceImages,omitempty" validate:"max=16,dive,required"`
	ProviderID       string        `json:"providerId,omitempty"`
	TextProviderID   string        `json:"textProviderId,omitempty"`
	AspectRatio      string        `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
	SkipOptimize     bool          `json:"skipOptimize,omitempty"`
}

func (ImageGenerationInput) TaskType() domain.TaskType { return domain.TaskTypeImageGeneration }

// Normalize applies defaults before the payload is persisted.
func (in *ImageGenerationInput) Normalize() {
	in.DraftPrompt = strings.TrimSpace(in.DraftPrompt)
	in.EditInstruction = strings.TrimSpace(in.EditInstruction)
	if in.AspectRatio == "" {
		in.AspectRatio = DefaultAspectRatio
	}
}

// Validate checks cross-field rules the struct tags cannot express.
func (in ImageGenerationInput) Validate() error {
	if in.DraftPrompt == "" && in.EditInstruction == "" && in.Owner == nil && in.ProjectID == "" {
		return errors.New("draftPrompt, editInstruction, owner or projectId is required")
	}
	if in.ParentArtifactID != "" && in.EditInstruction == "" {
		return errors.New("editInstruction is required when parentArtifactId is set")
	}
	return nil
}

// OptimizerMeta records what the prompt optimizer did for a run.
type OptimizerMeta struct {
	Status         string   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	ProviderID     string   `json:"providerId,omitempty"`
	Model          string   `json:"model,omitempty"`
	Assumptions    []string `json:"assumptions,omitempty"`
	Conflicts      []string `json:"conflicts,omitempty"`
	NegativePrompt []string `json:"negativePrompt,omitempty"`
}

// ImageGenerationOutput is stored on a completed image-generation task.
type ImageGenerationOutput struct {
	RunID           string        `json:"runId"`
	ArtifactIDs     []string      `json:"artifactIds"`
	FilePaths       []string      `json:"filePaths"`
	EffectivePrompt string        `json:"effectivePrompt"`
	RenderPrompt    string        `json:"renderPrompt"`
	ReferenceImages []string      `json:"referenceImages"`
	DroppedImages   []string      `json:"droppedImages,omitempty"`
	Optimizer       OptimizerMeta `json:"optimizer"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// PlanGenerationInput asks the text model for a scene plan of a project.
type PlanGenerationInput struct {
	ProjectID    string `json:"projectId" validate:"required"`
	SceneAssetID string `json:"sceneAssetId,omitempty"`
	DraftPrompt  string `json:"draftPrompt,omitempty" validate:"max=8000"`
	ProviderID   string `json:"providerId,omitempty"`
	SceneCount   int    `json:"sceneCount,omitempty" validate:"omitempty,min=1,max=20"`
}

func (PlanGenerationInput) TaskType() domain.TaskType { return domain.TaskTypePlanGeneration }

// DefaultPlanSceneCount is requested when the caller leaves SceneCount unset.
const DefaultPlanSceneCount = 6

// PlanGenerationOutput is stored on a completed plan-generation task.
type PlanGenerationOutput struct {
	PlanVersionID string `json:"planVersionId"`
	Version       int    `json:"version"`
	SceneCount    int    `json:"sceneCount"`
}

// RawInput carries the payload of a task type without a typed schema.
type RawInput struct {
	Type    domain.TaskType
	Payload json.RawMessage
}

func (r RawInput) TaskType() domain.TaskType { return r.Type }

func (r RawInput) MarshalJSON() ([]byte, error) {
	if len(r.Payload) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(r.Payload) {
		return nil, errors.New("raw payload is not valid JSON")
	}
	return r.Payload, nil
}

var validate = validator.New()

type normalizer interface{ Normalize() }

type selfValidator interface{ Validate() error }

// EncodeInput normalizes, validates and marshals a task payload. Validation
// failures wrap domain.ErrInvalidInput.
func EncodeInput(in Input) (json.RawMessage, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: task input is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(string(in.TaskType())) == "" {
		return nil, fmt.Errorf("%w: task type is required", domain.ErrInvalidInput)
	}
	if n, ok := in.(normalizer); ok {
		n.Normalize()
	}
	if _, raw := in.(RawInput); !raw {
		if err := validate.Struct(in); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	if v, ok := in.(selfValidator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return b, nil
}

// DecodeInput parses a stored payload into the schema for taskType. Unknown
// types decode to RawInput.
func DecodeInput(taskType domain.TaskType, raw json.RawMessage) (Input, error) {
	switch taskType {
	case domain.TaskTypeImageGeneration:
		var in ImageGenerationInput
		if err := unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case domain.TaskTypePlanGeneration:
		var in PlanGenerationInput
		if err := unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	default:
		return RawInput{Type: taskType, Payload: raw}, nil
	}
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty task input", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode task input: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
