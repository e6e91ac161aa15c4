package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/httpclient"
	"photostudio/internal/providers/genai"
	"photostudio/internal/refimage"
)

// maxParallelDownloads bounds concurrent reference loads per task.
const maxParallelDownloads = 4

// ImageHandler runs image-generation tasks.
type ImageHandler struct {
	deps     Deps
	pipeline *Pipeline
}

func NewImageHandler(deps Deps) *ImageHandler {
	return &ImageHandler{deps: deps, pipeline: NewPipeline(deps)}
}

// Handle generates one image, stores it and records it as an artifact of the
// request owner.
func (h *ImageHandler) Handle(ctx context.Context, task *domain.Task) (any, error) {
	decoded, err := jsoncfg.DecodeInput(task.Type, task.Input)
	if err != nil {
		return nil, err
	}
	in, ok := decoded.(jsoncfg.ImageGenerationInput)
	if !ok {
		return nil, fmt.Errorf("task %s is not an image-generation task", task.ID)
	}
	log := h.deps.Logger.With().Str("task_id", task.ID).Logger()

	provider, err := resolveProvider(ctx, h.deps.Providers, in.ProviderID, domain.CapabilityImage)
	if err != nil {
		return nil, err
	}

	prep, err := h.pipeline.Prepare(ctx, in, task.ID)
	if err != nil {
		return nil, err
	}
	warnings := append([]string(nil), prep.Warnings...)

	images, loadWarnings := h.loadReferences(ctx, prep.References)
	warnings = append(warnings, loadWarnings...)

	in.Normalize()
	result, err := h.deps.Images.GenerateImage(ctx, *provider, genai.ImageRequest{
		Prompt:      prep.Optimized.RenderPrompt,
		AspectRatio: in.AspectRatio,
		Images:      images,
		RequestID:   task.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}

	runID := uuid.NewString()
	ownerLabel := "image"
	if prep.Owner != nil {
		ownerLabel = string(prep.Owner.Type)
	}
	key := fmt.Sprintf("generated/images/%s/%s-01.%s", runID, ownerLabel, extensionFor(result.MimeType))
	savedKey, err := h.deps.Files.Write(ctx, key, result.Data)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	filePath := "/" + strings.TrimLeft(savedKey, "/")

	out := jsoncfg.ImageGenerationOutput{
		RunID:           runID,
		ArtifactIDs:     []string{},
		FilePaths:       []string{filePath},
		EffectivePrompt: prep.Composed.EffectivePrompt,
		RenderPrompt:    prep.Optimized.RenderPrompt,
		ReferenceImages: prep.References.AllImages,
		DroppedImages:   prep.References.DroppedImages,
		Optimizer:       prep.Optimized.Meta,
	}

	if prep.Owner == nil {
		warnings = append(warnings, "request has no owner; image stored without an artifact record")
		out.Warnings = warnings
		log.Warn().Str("path", filePath).Msg("generation: image stored without owner")
		return out, nil
	}

	artifact := &domain.Artifact{
		RunID:           runID,
		Type:            domain.ArtifactTypeImage,
		MimeType:        result.MimeType,
		FilePath:        filePath,
		Width:           result.Width,
		Height:          result.Height,
		SizeBytes:       int64(len(result.Data)),
		Owner:           *prep.Owner,
		EffectivePrompt: prep.Composed.EffectivePrompt,
		RenderPrompt:    prep.Optimized.RenderPrompt,
		PromptContext:   prep.Composed.PromptContext.JSON(),
		ReferenceImages: prep.References.AllImages,
		EditInstruction: in.EditInstruction,
	}
	if prep.Parent != nil {
		parentID := prep.Parent.ID
		artifact.ParentArtifactID = &parentID
	}
	if err := h.deps.Artifacts.Record(ctx, artifact); err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	out.ArtifactIDs = append(out.ArtifactIDs, artifact.ID)

	if prep.Owner.Type == domain.OwnerTypeAsset {
		if _, err := h.deps.Artifacts.SetCurrent(ctx, artifact.ID); err != nil {
			log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("generation: artifact not made current")
			warnings = append(warnings, fmt.Sprintf("artifact %s recorded but not made current: %v", artifact.ID, err))
		}
	}

	out.Warnings = warnings
	log.Info().
		Str("artifact_id", artifact.ID).
		Str("owner", prep.Owner.Key()).
		Str("optimizer", prep.Optimized.Meta.Status).
		Int("references", len(images)).
		Msg("generation: image stored")
	return out, nil
}

// loadReferences fetches reference bytes in parallel, keeping the resolved
// order. Unloadable references are skipped with a warning.
func (h *ImageHandler) loadReferences(ctx context.Context, refs *refimage.Result) ([]genai.InputImage, []string) {
	type slot struct {
		label string
		ref   string
		image *genai.InputImage
		err   error
	}
	slots := make([]slot, 0, len(refs.AllImages))
	for i, ref := range refs.SceneImages {
		slots = append(slots, slot{label: fmt.Sprintf("Scene reference %d", i+1), ref: ref})
	}
	for i, ref := range refs.IdentityImages {
		slots = append(slots, slot{label: fmt.Sprintf("Identity reference %d", i+1), ref: ref})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i := range slots {
		g.Go(func() error {
			data, mimeType, err := h.loadReference(gctx, slots[i].ref)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].image = &genai.InputImage{Label: slots[i].label, MimeType: mimeType, Data: data}
			return nil
		})
	}
	_ = g.Wait()

	var (
		images   []genai.InputImage
		warnings []string
	)
	for _, s := range slots {
		if s.err != nil {
			warnings = append(warnings, fmt.Sprintf("reference %s skipped: %v", s.ref, s.err))
			h.deps.Logger.Warn().Err(s.err).Str("ref", s.ref).Msg("generation: reference image unavailable")
			continue
		}
		images = append(images, *s.image)
	}
	return images, warnings
}

func (h *ImageHandler) loadReference(ctx context.Context, ref string) ([]byte, string, error) {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return genai.DecodeDataURL(ref)
	case refimage.IsExternal(ref):
		client := h.deps.HTTPClient
		if client == nil {
			client = httpclient.New(httpclient.Options{})
		}
		return httpclient.Download(ctx, client, ref)
	default:
		data, err := h.deps.Files.Read(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		return data, mimeFromPath(ref), nil
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

func mimeFromPath(p string) string {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
