// Package generation holds the task handlers that turn queued requests into
// images and plans.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"photostudio/internal/artifacts"
	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/infra"
	"photostudio/internal/optimizer"
	"photostudio/internal/providers/genai"
	"photostudio/internal/refimage"
)

// ImageModel renders images.
type ImageModel interface {
	GenerateImage(ctx context.Context, p domain.Provider, req genai.ImageRequest) (*genai.ImageResult, error)
}

// TextModel completes text.
type TextModel interface {
	GenerateText(ctx context.Context, p domain.Provider, req genai.TextRequest) (*genai.TextResult, error)
}

// Files stores generated files and reads local references.
type Files interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Deps are the collaborators shared by the handlers.
type Deps struct {
	Composer   *composer.Composer
	Resolver   *refimage.Resolver
	Optimizer  *optimizer.Optimizer
	Providers  domain.ProviderSource
	Studio     domain.StudioReader
	Plans      domain.PlanWriter
	Artifacts  *artifacts.Service
	Images     ImageModel
	Text       TextModel
	Files      Files
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Pipeline prepares the prompt and reference set of an image request. The
// image handler and the preview endpoint share it.
type Pipeline struct {
	deps Deps
}

func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Prepared is everything decided before the image model is called.
type Prepared struct {
	Owner      *domain.Owner
	Parent     *domain.Artifact
	Composed   *composer.Result
	References *refimage.Result
	Optimized  optimizer.Result
	Warnings   []string
}

// Prepare composes, resolves references and optimizes the prompt for in.
func (p *Pipeline) Prepare(ctx context.Context, in jsoncfg.ImageGenerationInput, requestID string) (*Prepared, error) {
	in.Normalize()
	prep := &Prepared{Owner: in.Owner}

	if in.ParentArtifactID != "" {
		parent, err := p.deps.Artifacts.Get(ctx, in.ParentArtifactID)
		if err != nil {
			return nil, fmt.Errorf("parent artifact %s: %w", in.ParentArtifactID, err)
		}
		prep.Parent = parent
		if prep.Owner == nil {
			owner := parent.Owner
			prep.Owner = &owner
		}
	}

	composed, err := p.deps.Composer.Compose(ctx, composer.Request{
		DraftPrompt:     in.DraftPrompt,
		Owner:           prep.Owner,
		EditInstruction: in.EditInstruction,
		ProjectID:       in.ProjectID,
		SceneAssetID:    in.SceneAssetID,
	})
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}
	prep.Composed = composed

	// During an edit the parent image leads the scene references.
	var external []string
	if prep.Parent != nil {
		external = append(external, prep.Parent.FilePath)
	}
	external = append(external, in.ReferenceImages...)
	external = append(external, composed.References.SceneImages...)

	subjects := make([]refimage.Subject, 0, len(composed.References.Subjects))
	for _, s := range composed.References.Subjects {
		subjects = append(subjects, refimage.Subject{ID: s.ID, Role: s.Role, Images: s.Images})
	}
	refs, err := p.deps.Resolver.Resolve(ctx, refimage.Request{
		ModelReferenceImages:    composed.References.ModelImages,
		ModelReferenceSubjects:  subjects,
		ExternalReferenceImages: external,
		Owner:                   prep.Owner,
		EditInstruction:         in.EditInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve reference images: %w", err)
	}
	prep.References = refs
	composed.PromptContext.ReferenceImages = refs.AllImages
	composed.PromptContext.DroppedImages = refs.DroppedImages
	for _, w := range refs.Warnings {
		composed.PromptContext.Warn(w)
	}
	// The trace is the single record of warnings for the run.
	prep.Warnings = append([]string(nil), composed.PromptContext.Warnings...)

	optReq := optimizer.Request{
		EffectivePrompt: composed.EffectivePrompt,
		DraftPrompt:     in.DraftPrompt,
		ProviderID:      in.TextProviderID,
		ReferencePlan: optimizer.ReferencePlan{
			IdentityImages: refs.IdentityImages,
			SceneImages:    refs.SceneImages,
		},
		PromptContext: composed.PromptContext,
		RequestID:     requestID,
	}
	if in.SkipOptimize {
		prep.Optimized = p.deps.Optimizer.Skip(optReq, optimizer.ReasonDisabled)
	} else {
		prep.Optimized = p.deps.Optimizer.Optimize(ctx, optReq)
	}
	return prep, nil
}

// resolveProvider returns the requested provider or the default one for c.
func resolveProvider(ctx context.Context, src domain.ProviderSource, id string, c domain.Capability) (*domain.Provider, error) {
	if src == nil {
		return nil, fmt.Errorf("%s provider: %w", c, domain.ErrProviderNotConfigured)
	}
	var (
		p   *domain.Provider
		err error
	)
	if id = strings.TrimSpace(id); id != "" {
		p, err = src.Provider(ctx, id)
	} else {
		p, err = src.Default(ctx, c)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s provider %q: %w", c, id, domain.ErrProviderNotConfigured)
		}
		return nil, err
	}
	if !p.Usable(c) {
		return nil, fmt.Errorf("provider %s cannot serve %s: %w", p.ID, c, domain.ErrProviderNotConfigured)
	}
	return p, nil
}
