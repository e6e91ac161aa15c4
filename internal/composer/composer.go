// Package composer assembles the effective prompt for a generation request
// from studio, project, casting and scene context.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
)

const (
	Name    = "studio-composer"
	Version = 2
)

// PolicySource supplies per-profile block overrides and the fallback studio
// policy. *promptpolicy.Source implements it.
type PolicySource interface {
	Profile(name string) ([]domain.BlockKind, bool)
	FallbackPolicy() string
}

// Request is one composition request.
type Request struct {
	DraftPrompt     string
	Owner           *domain.Owner
	EditInstruction string
	ProjectID       string
	SceneAssetID    string
}

// Block is one rendered prompt section.
type Block struct {
	Kind domain.BlockKind `json:"kind"`
	Text string           `json:"text"`
}

// Subject is one cast model with the photos that pin its identity.
type Subject struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Images []string `json:"images"`
}

// References are the reference-image inputs collected while composing.
type References struct {
	Subjects    []Subject `json:"subjects"`
	ModelImages []string  `json:"modelImages"`
	SceneImages []string  `json:"sceneImages"`
}

// Result is the composed prompt with its trace.
type Result struct {
	EffectivePrompt string
	RenderedBlocks  []Block
	PromptContext   *PromptContext
	References      References
}

// Composer renders prompts. It only reads from the studio store.
type Composer struct {
	studio domain.StudioReader
	policy PolicySource
	logger infra.Logger
}

// New builds a Composer. policy may be nil.
func New(studio domain.StudioReader, policy PolicySource, logger infra.Logger) *Composer {
	return &Composer{studio: studio, policy: policy, logger: logger}
}

// Compose builds the effective prompt. Missing or unreadable context degrades
// to unrendered blocks and warnings in the trace; only a cancelled context is
// returned as an error.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	req.DraftPrompt = strings.TrimSpace(req.DraftPrompt)
	req.EditInstruction = strings.TrimSpace(req.EditInstruction)
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.SceneAssetID = strings.TrimSpace(req.SceneAssetID)

	profile := SelectProfile(req.Owner, req.ProjectID)
	trace := &PromptContext{
		Composer: Name,
		Version:  Version,
		Profile:  profile,
		Owner:    req.Owner,
		Inputs: TraceInputs{
			DraftPrompt:     req.DraftPrompt,
			EditInstruction: req.EditInstruction,
			ProjectID:       req.ProjectID,
			SceneAssetID:    req.SceneAssetID,
		},
		ReferenceImages: []string{},
	}

	src := &sources{draft: req.DraftPrompt, editInstruction: req.EditInstruction}
	if err := c.load(ctx, req, src, trace); err != nil {
		return nil, err
	}

	blocks := c.blocksFor(profile)
	var rendered []Block
	var texts []string
	for _, kind := range blocks {
		text := renderBlock(kind, src)
		if text == "" {
			continue
		}
		rendered = append(rendered, Block{Kind: kind, Text: text})
		texts = append(texts, text)
		trace.Blocks = append(trace.Blocks, kind)
	}

	return &Result{
		EffectivePrompt: normalize(strings.Join(texts, "\n\n")),
		RenderedBlocks:  rendered,
		PromptContext:   trace,
		References:      collectReferences(req.Owner, src),
	}, nil
}

func (c *Composer) blocksFor(p Profile) []domain.BlockKind {
	if c.policy != nil {
		if blocks, ok := c.policy.Profile(string(p)); ok {
			return blocks
		}
	}
	return Blocks(p)
}

// load resolves every context source for the request into src.
func (c *Composer) load(ctx context.Context, req Request, src *sources, trace *PromptContext) error {
	warn := func(err error, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if err != nil {
			msg += ": " + err.Error()
		}
		trace.Warn(msg)
		c.logger.Warn().Err(err).Str("profile", string(trace.Profile)).Msg("composer: " + fmt.Sprintf(format, args...))
	}

	src.policy = c.studioPolicy(ctx, warn)

	projectID := req.ProjectID
	sceneAssetID := req.SceneAssetID

	if owner := req.Owner; owner != nil {
		switch owner.Type {
		case domain.OwnerTypeAsset:
			sceneAssetID = owner.ID
		case domain.OwnerTypeProjectPlanVersion, domain.OwnerTypePlanScene:
			plan, err := c.studio.PlanVersion(ctx, owner.ID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				warn(err, "plan version %s unavailable", owner.ID)
				break
			}
			trace.Sources.PlanVersionID = plan.ID
			if projectID == "" {
				projectID = plan.ProjectID
			}
			if owner.Type == domain.OwnerTypePlanScene {
				idx, err := owner.SceneIndex()
				if err != nil {
					warn(err, "owner slot unreadable")
					break
				}
				scene, ok := plan.Scene(idx)
				if !ok {
					warn(nil, "plan scene %d not in plan version %s", idx, plan.ID)
					break
				}
				src.planScene = &scene
				trace.Sources.PlanSceneIndex = &idx
				if scene.SceneAssetID != "" {
					sceneAssetID = scene.SceneAssetID
				}
			}
		}
	}

	if projectID != "" {
		project, err := c.studio.Project(ctx, projectID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			warn(err, "project %s unavailable", projectID)
		default:
			src.project = project
			trace.Sources.ProjectID = project.ID
			if sceneAssetID == "" {
				sceneAssetID = project.SceneAssetID
			}
			if err := c.loadCast(ctx, project, src, trace, warn); err != nil {
				return err
			}
		}
	}

	if sceneAssetID != "" {
		scene, err := c.studio.SceneAsset(ctx, sceneAssetID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			warn(err, "scene asset %s unavailable", sceneAssetID)
		default:
			src.scene = scene
			trace.Sources.SceneAssetID = scene.ID
		}
	}
	return ctx.Err()
}

func (c *Composer) studioPolicy(ctx context.Context, warn func(error, string, ...any)) string {
	text, err := c.studio.StudioPolicy(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		warn(err, "studio policy unavailable")
	}
	if text = strings.TrimSpace(text); text != "" {
		return text
	}
	if c.policy != nil {
		if text = strings.TrimSpace(c.policy.FallbackPolicy()); text != "" {
			return text
		}
	}
	return DefaultStudioPolicy
}

func (c *Composer) loadCast(ctx context.Context, project *domain.Project, src *sources, trace *PromptContext, warn func(error, string, ...any)) error {
	if len(project.CustomerIDs) > 0 {
		customers, err := c.studio.Customers(ctx, project.CustomerIDs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			warn(err, "customers unavailable")
		} else {
			src.customers = orderByID(project.CustomerIDs, customers, func(c domain.Customer) string { return c.ID })
			for _, cu := range src.customers {
				trace.Sources.CustomerIDs = append(trace.Sources.CustomerIDs, cu.ID)
			}
			if len(src.customers) < len(project.CustomerIDs) {
				warn(nil, "%d of %d customers missing", len(project.CustomerIDs)-len(src.customers), len(project.CustomerIDs))
			}
		}
	}
	if len(project.ModelIDs) > 0 {
		models, err := c.studio.CastModels(ctx, project.ModelIDs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			warn(err, "cast models unavailable")
		} else {
			src.models = orderByID(project.ModelIDs, models, func(m domain.CastModel) string { return m.ID })
			for _, m := range src.models {
				trace.Sources.ModelIDs = append(trace.Sources.ModelIDs, m.ID)
			}
			if len(src.models) < len(project.ModelIDs) {
				warn(nil, "%d of %d cast models missing", len(project.ModelIDs)-len(src.models), len(project.ModelIDs))
			}
		}
	}
	return nil
}

// orderByID returns items in the order of ids, skipping ids with no item and
// repeated ids.
func orderByID[T any](ids []string, items []T, id func(T) string) []T {
	byID := make(map[string]T, len(items))
	for _, it := range items {
		byID[id(it)] = it
	}
	out := make([]T, 0, len(items))
	seen := make(map[string]bool, len(ids))
	for _, want := range ids {
		if it, ok := byID[want]; ok && !seen[want] {
			out = append(out, it)
			seen[want] = true
		}
	}
	return out
}

func collectReferences(owner *domain.Owner, src *sources) References {
	refs := References{Subjects: []Subject{}, ModelImages: []string{}, SceneImages: []string{}}
	for _, m := range src.models {
		images := nonEmpty(m.ReferenceImages)
		refs.Subjects = append(refs.Subjects, Subject{ID: m.ID, Name: m.Name, Role: m.Role, Images: images})
		refs.ModelImages = append(refs.ModelImages, images...)
	}
	if src.scene != nil {
		// An asset's own primary image is its previous output, not a reference.
		selfAsset := owner != nil && owner.Type == domain.OwnerTypeAsset
		if p := src.scene.PrimaryImagePath; p != nil && strings.TrimSpace(*p) != "" && !selfAsset {
			refs.SceneImages = append(refs.SceneImages, strings.TrimSpace(*p))
		}
		refs.SceneImages = append(refs.SceneImages, nonEmpty(src.scene.ReferenceImages)...)
	}
	return refs
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
