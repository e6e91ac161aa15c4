package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photostudio/internal/adapter/memstore"
	"photostudio/internal/artifacts"
	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/optimizer"
	"photostudio/internal/providers/genai"
	"photostudio/internal/refimage"
	"photostudio/internal/storage"
)

type stubImages struct {
	mu    sync.Mutex
	err   error
	calls []genai.ImageRequest
}

func (s *stubImages) GenerateImage(ctx context.Context, p domain.Provider, req genai.ImageRequest) (*genai.ImageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return &genai.ImageResult{Data: []byte("png-bytes"), MimeType: "image/png", Width: 64, Height: 64, Model: p.Model}, nil
}

type stubText struct {
	reply string
	err   error
}

func (s *stubText) GenerateText(ctx context.Context, p domain.Provider, req genai.TextRequest) (*genai.TextResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &genai.TextResult{Text: s.reply, Model: p.Model}, nil
}

type env struct {
	deps   Deps
	studio *memstore.Studio
	store  *memstore.Artifacts
	files  *storage.FileStore
	images *stubImages
	text   *stubText
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zerolog.Nop()
	studio := memstore.NewStudio()
	studio.AddProvider(domain.Provider{ID: "gemini", Format: domain.ProviderFormatGemini, APIKey: "k", Model: "gemini-2.5-flash", Capabilities: []domain.Capability{domain.CapabilityText}, IsDefault: true})
	studio.AddProvider(domain.Provider{ID: "gemini-image", Format: domain.ProviderFormatGemini, APIKey: "k", Model: "gemini-2.5-flash-image", Capabilities: []domain.Capability{domain.CapabilityImage}, IsDefault: true})
	studio.AddProject(domain.Project{ID: "proj-1", Title: "Family", Prompt: "Autumn session", ModelIDs: []string{"model-1"}, SceneAssetID: "scene-1"})
	studio.AddModel(domain.CastModel{ID: "model-1", Name: "Bao", Role: "baby", IdentityDescription: "round face", ReferenceImages: []string{"/uploads/bao.jpg"}})
	studio.AddScene(domain.SceneAsset{ID: "scene-1", Name: "Park", ReferenceImages: []string{"/uploads/park.jpg"}})

	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"/uploads/bao.jpg", "/uploads/park.jpg"} {
		_, err := files.Write(context.Background(), key, []byte(key))
		require.NoError(t, err)
	}

	store := memstore.NewArtifacts(studio)
	images := &stubImages{}
	text := &stubText{reply: `{"renderPrompt":"optimized prompt"}`}
	deps := Deps{
		Composer:  composer.New(studio, nil, logger),
		Resolver:  refimage.NewResolver(store, logger),
		Optimizer: optimizer.New(optimizer.Options{Providers: studio, Text: text, Logger: logger}),
		Providers: studio,
		Studio:    studio,
		Plans:     studio,
		Artifacts: artifacts.New(artifacts.Options{Store: store, Files: files, Logger: logger}),
		Images:    images,
		Text:      text,
		Files:     files,
		Logger:    logger,
	}
	return &env{deps: deps, studio: studio, store: store, files: files, images: images, text: text}
}

func task(t *testing.T, in jsoncfg.Input) *domain.Task {
	t.Helper()
	raw, err := jsoncfg.EncodeInput(in)
	require.NoError(t, err)
	return &domain.Task{ID: "task-1", Type: in.TaskType(), Status: domain.TaskStatusRunning, Input: raw}
}

func TestImageHandlerAssetOwner(t *testing.T) {
	e := newEnv(t)
	h := NewImageHandler(e.deps)
	owner := &domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "empty park at dusk", Owner: owner}))
	require.NoError(t, err)
	res := out.(jsoncfg.ImageGenerationOutput)

	require.Len(t, res.ArtifactIDs, 1)
	assert.True(t, strings.HasPrefix(res.FilePaths[0], "/generated/images/"+res.RunID+"/asset-01.png"))
	assert.Equal(t, optimizer.StatusOptimized, res.Optimizer.Status)
	assert.True(t, strings.HasPrefix(res.RenderPrompt, "optimized prompt"))
	assert.Contains(t, res.RenderPrompt, optimizer.BindingMarker)
	assert.Equal(t, []string{"/uploads/park.jpg"}, res.ReferenceImages)

	require.Len(t, e.images.calls, 1)
	call := e.images.calls[0]
	assert.Equal(t, "1:1", call.AspectRatio)
	require.Len(t, call.Images, 1)
	assert.Equal(t, "Scene reference 1", call.Images[0].Label)
	assert.Equal(t, "image/jpeg", call.Images[0].MimeType)

	stored, err := e.files.Read(context.Background(), res.FilePaths[0])
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(stored))

	a, err := e.store.GetByID(context.Background(), res.ArtifactIDs[0])
	require.NoError(t, err)
	assert.Equal(t, *owner, a.Owner)
	assert.Equal(t, res.RenderPrompt, a.RenderPrompt)
	var trace composer.PromptContext
	require.NoError(t, json.Unmarshal(a.PromptContext, &trace))
	assert.Equal(t, composer.ProfileAsset, trace.Profile)
	assert.Equal(t, []string{"/uploads/park.jpg"}, trace.ReferenceImages)

	scene, err := e.studio.SceneAsset(context.Background(), "scene-1")
	require.NoError(t, err)
	require.NotNil(t, scene.CurrentArtifactID)
	assert.Equal(t, a.ID, *scene.CurrentArtifactID)
	assert.Equal(t, a.FilePath, *scene.PrimaryImagePath)
}

func TestImageHandlerRemovedAssetKeepsArtifact(t *testing.T) {
	e := newEnv(t)
	h := NewImageHandler(e.deps)
	owner := &domain.Owner{Type: domain.OwnerTypeAsset, ID: "gone-asset"}

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "studio portrait", Owner: owner}))
	require.NoError(t, err)
	res := out.(jsoncfg.ImageGenerationOutput)

	require.Len(t, res.ArtifactIDs, 1)
	a, err := e.store.GetByID(context.Background(), res.ArtifactIDs[0])
	require.NoError(t, err)
	assert.Equal(t, *owner, a.Owner)

	var notCurrent int
	for _, w := range res.Warnings {
		if strings.Contains(w, "not made current") {
			notCurrent++
		}
	}
	assert.Equal(t, 1, notCurrent, "warnings: %v", res.Warnings)

	seen := map[string]bool{}
	for _, w := range res.Warnings {
		assert.False(t, seen[w], "duplicate warning %q", w)
		seen[w] = true
	}
}

func TestPrepareWarningsMatchTrace(t *testing.T) {
	e := newEnv(t)
	p := NewPipeline(e.deps)

	prep, err := p.Prepare(context.Background(), jsoncfg.ImageGenerationInput{
		DraftPrompt:  "portrait",
		Owner:        &domain.Owner{Type: domain.OwnerTypeAsset, ID: "gone-asset"},
		SkipOptimize: true,
	}, "req-1")
	require.NoError(t, err)
	require.NotEmpty(t, prep.Warnings)
	assert.Equal(t, prep.Composed.PromptContext.Warnings, prep.Warnings)
}

func TestImageHandlerPlanSceneDropsSelfReference(t *testing.T) {
	e := newEnv(t)
	e.studio.AddPlan(domain.ProjectPlanVersion{ID: "plan-1", ProjectID: "proj-1", Version: 1, Scenes: []domain.PlanScene{{Index: 0, Title: "Swing"}}})
	owner := domain.Owner{Type: domain.OwnerTypePlanScene, ID: "plan-1", Slot: domain.SceneSlot(0)}
	h := NewImageHandler(e.deps)

	first, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{Owner: &owner}))
	require.NoError(t, err)
	firstPath := first.(jsoncfg.ImageGenerationOutput).FilePaths[0]

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{Owner: &owner, ReferenceImages: []string{firstPath}}))
	require.NoError(t, err)
	res := out.(jsoncfg.ImageGenerationOutput)
	assert.Equal(t, []string{firstPath}, res.DroppedImages)
	assert.Equal(t, []string{"/uploads/park.jpg", "/uploads/bao.jpg"}, res.ReferenceImages)

	call := e.images.calls[1]
	require.Len(t, call.Images, 2)
	assert.Equal(t, "Scene reference 1", call.Images[0].Label)
	assert.Equal(t, "Identity reference 1", call.Images[1].Label)
}

func TestImageHandlerEditUsesParentFirst(t *testing.T) {
	e := newEnv(t)
	h := NewImageHandler(e.deps)
	owner := &domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}
	first, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "park", Owner: owner}))
	require.NoError(t, err)
	parent := first.(jsoncfg.ImageGenerationOutput)

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{
		ParentArtifactID: parent.ArtifactIDs[0],
		EditInstruction:  "add fog",
		SkipOptimize:     true,
	}))
	require.NoError(t, err)
	res := out.(jsoncfg.ImageGenerationOutput)

	assert.Equal(t, parent.FilePaths[0], res.ReferenceImages[0])
	assert.Equal(t, optimizer.StatusSkipped, res.Optimizer.Status)
	assert.Equal(t, optimizer.ReasonDisabled, res.Optimizer.Reason)
	assert.Contains(t, res.EffectivePrompt, "[Edit instruction]\nadd fog")

	a, err := e.store.GetByID(context.Background(), res.ArtifactIDs[0])
	require.NoError(t, err)
	require.NotNil(t, a.ParentArtifactID)
	assert.Equal(t, parent.ArtifactIDs[0], *a.ParentArtifactID)
	assert.Equal(t, "add fog", a.EditInstruction)
}

func TestImageHandlerOptimizerFailureStillGenerates(t *testing.T) {
	e := newEnv(t)
	e.text.err = errors.New("text model down")
	h := NewImageHandler(e.deps)

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "portrait", ProjectID: "proj-1"}))
	require.NoError(t, err)
	res := out.(jsoncfg.ImageGenerationOutput)
	assert.Equal(t, optimizer.StatusFallback, res.Optimizer.Status)
	assert.True(t, strings.HasPrefix(res.RenderPrompt, res.EffectivePrompt))
	assert.Empty(t, res.ArtifactIDs)
	assert.NotEmpty(t, res.Warnings)
}

func TestImageHandlerErrors(t *testing.T) {
	e := newEnv(t)
	e.images.err = errors.New("quota exceeded")
	h := NewImageHandler(e.deps)

	_, err := h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "x"}))
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{DraftPrompt: "x", ProviderID: "gemini"}))
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)

	_, err = h.Handle(context.Background(), task(t, &jsoncfg.ImageGenerationInput{EditInstruction: "x", ParentArtifactID: "missing"}))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlanHandler(t *testing.T) {
	e := newEnv(t)
	e.text.reply = "```json\n" + `{"scenes":[{"title":"Swing","shot":"wide"},{"title":"  "},{"title":"Picnic","mood":"calm","sceneAssetId":"bogus"},{"title":"Extra"}]}` + "\n```"
	h := NewPlanHandler(e.deps)

	out, err := h.Handle(context.Background(), task(t, &jsoncfg.PlanGenerationInput{ProjectID: "proj-1", SceneCount: 2}))
	require.NoError(t, err)
	res := out.(jsoncfg.PlanGenerationOutput)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 2, res.SceneCount)

	plan, err := e.studio.PlanVersion(context.Background(), res.PlanVersionID)
	require.NoError(t, err)
	require.Len(t, plan.Scenes, 2)
	assert.Equal(t, domain.PlanScene{Index: 1, Title: "Picnic", Mood: "calm", SceneAssetID: "scene-1"}, plan.Scenes[1])
}

func TestPlanHandlerFailures(t *testing.T) {
	e := newEnv(t)
	h := NewPlanHandler(e.deps)

	_, err := h.Handle(context.Background(), task(t, &jsoncfg.PlanGenerationInput{ProjectID: "proj-1", SceneAssetID: "nope"}))
	assert.EqualError(t, err, "selected scene asset nope does not exist")

	_, err = h.Handle(context.Background(), task(t, &jsoncfg.PlanGenerationInput{ProjectID: "missing"}))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	e.text.reply = "no plan today"
	_, err = h.Handle(context.Background(), task(t, &jsoncfg.PlanGenerationInput{ProjectID: "proj-1"}))
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
}
