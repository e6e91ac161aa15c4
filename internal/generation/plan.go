package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/optimizer"
	"photostudio/internal/providers/genai"
)

const planInstruction = `You plan photo shoots for a photography studio.
Split the brief into distinct scenes for one session. Use only the people, scene and props in the brief.
Reply with JSON only, no prose:
{"scenes": [{"title": string, "description": string, "shot": string, "mood": string, "wardrobe": string}]}`

// PlanHandler runs plan-generation tasks.
type PlanHandler struct {
	deps Deps
}

func NewPlanHandler(deps Deps) *PlanHandler {
	return &PlanHandler{deps: deps}
}

type planPayload struct {
	Scenes []domain.PlanScene `json:"scenes"`
}

// Handle asks the text model for a scene list and stores it as a new plan
// version of the project.
func (h *PlanHandler) Handle(ctx context.Context, task *domain.Task) (any, error) {
	decoded, err := jsoncfg.DecodeInput(task.Type, task.Input)
	if err != nil {
		return nil, err
	}
	in, ok := decoded.(jsoncfg.PlanGenerationInput)
	if !ok {
		return nil, fmt.Errorf("task %s is not a plan-generation task", task.ID)
	}
	count := in.SceneCount
	if count <= 0 {
		count = jsoncfg.DefaultPlanSceneCount
	}

	project, err := h.deps.Studio.Project(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", in.ProjectID, err)
	}
	sceneAssetID := strings.TrimSpace(in.SceneAssetID)
	if sceneAssetID != "" {
		if _, err := h.deps.Studio.SceneAsset(ctx, sceneAssetID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("selected scene asset %s does not exist", sceneAssetID)
			}
			return nil, err
		}
	} else {
		sceneAssetID = project.SceneAssetID
	}

	provider, err := resolveProvider(ctx, h.deps.Providers, in.ProviderID, domain.CapabilityText)
	if err != nil {
		return nil, err
	}

	composed, err := h.deps.Composer.Compose(ctx, composer.Request{
		DraftPrompt:  in.DraftPrompt,
		ProjectID:    project.ID,
		SceneAssetID: sceneAssetID,
	})
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	reply, err := h.deps.Text.GenerateText(ctx, *provider, genai.TextRequest{
		System:      planInstruction,
		Prompt:      fmt.Sprintf("Plan exactly %d scenes.\n\n%s", count, composed.EffectivePrompt),
		JSON:        true,
		Temperature: 0.7,
		RequestID:   task.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	scenes, err := parseScenes(reply.Text, count, sceneAssetID)
	if err != nil {
		return nil, err
	}

	version, err := h.deps.Plans.CreatePlanVersion(ctx, project.ID, scenes)
	if err != nil {
		return nil, fmt.Errorf("store plan version: %w", err)
	}
	h.deps.Logger.Info().
		Str("task_id", task.ID).
		Str("project_id", project.ID).
		Int("version", version.Version).
		Int("scenes", len(scenes)).
		Msg("generation: plan stored")
	return jsoncfg.PlanGenerationOutput{
		PlanVersionID: version.ID,
		Version:       version.Version,
		SceneCount:    len(scenes),
	}, nil
}

// parseScenes reads the model reply, drops empty scenes, caps the list at
// limit and numbers scenes from zero.
func parseScenes(raw string, limit int, sceneAssetID string) ([]domain.PlanScene, error) {
	fragment := optimizer.ExtractJSONObject(raw)
	if fragment == "" {
		return nil, fmt.Errorf("%w: plan reply is not JSON", domain.ErrProviderFailure)
	}
	var payload planPayload
	if err := json.Unmarshal([]byte(fragment), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode plan reply: %v", domain.ErrProviderFailure, err)
	}
	scenes := make([]domain.PlanScene, 0, len(payload.Scenes))
	for _, s := range payload.Scenes {
		s.Title = strings.TrimSpace(s.Title)
		s.Description = strings.TrimSpace(s.Description)
		s.Shot = strings.TrimSpace(s.Shot)
		s.Mood = strings.TrimSpace(s.Mood)
		s.Wardrobe = strings.TrimSpace(s.Wardrobe)
		if s.Empty() {
			continue
		}
		if len(scenes) == limit {
			break
		}
		s.Index = len(scenes)
		s.SceneAssetID = sceneAssetID
		scenes = append(scenes, s)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("%w: plan reply contains no scenes", domain.ErrProviderFailure)
	}
	return scenes, nil
}
