package composer

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photostudio/internal/adapter/memstore"
	"photostudio/internal/domain"
	"photostudio/internal/promptpolicy"
)

func newStudio() *memstore.Studio {
	s := memstore.NewStudio()
	s.SetPolicy("Warm, natural tones.")
	s.AddProject(domain.Project{
		ID:           "proj-1",
		Title:        "Family portrait",
		Prompt:       "Autumn family session",
		CustomerIDs:  []string{"cust-2", "cust-1"},
		ModelIDs:     []string{"model-1", "model-2"},
		SceneAssetID: "scene-1",
	})
	s.AddCustomer(domain.Customer{ID: "cust-1", Name: "Lina", Role: "mother", Age: "34"})
	s.AddCustomer(domain.Customer{ID: "cust-2", Name: "Bao", Role: "baby", Notes: "likes the red ball"})
	s.AddModel(domain.CastModel{ID: "model-1", Name: "Lina", Role: "mother", IdentityDescription: "short black hair", ReferenceImages: []string{"/uploads/lina-1.jpg", " "}})
	s.AddModel(domain.CastModel{ID: "model-2", Name: "Bao", Role: "baby", IdentityDescription: "round face", ReferenceImages: []string{"/uploads/bao-1.jpg"}})
	primary := "/generated/images/run-0/asset-01.png"
	s.AddScene(domain.SceneAsset{
		ID:               "scene-1",
		Name:             "Maple park",
		Description:      "Park path under maple trees",
		Lighting:         "golden hour",
		ReferenceImages:  []string{"/uploads/park.jpg"},
		PrimaryImagePath: &primary,
	})
	s.AddPlan(domain.ProjectPlanVersion{
		ID:        "plan-1",
		ProjectID: "proj-1",
		Version:   1,
		Scenes: []domain.PlanScene{
			{Index: 0, Title: "Walk", Shot: "wide", Mood: "playful"},
			{Index: 1},
		},
	})
	return s
}

func TestSelectProfile(t *testing.T) {
	assert.Equal(t, ProfilePlanScene, SelectProfile(&domain.Owner{Type: domain.OwnerTypePlanScene}, ""))
	assert.Equal(t, ProfileAsset, SelectProfile(&domain.Owner{Type: domain.OwnerTypeAsset}, "proj-1"))
	assert.Equal(t, ProfilePlanVersion, SelectProfile(&domain.Owner{Type: domain.OwnerTypeProjectPlanVersion}, ""))
	assert.Equal(t, ProfileProject, SelectProfile(nil, "proj-1"))
	assert.Equal(t, ProfileDefault, SelectProfile(nil, ""))
}

func TestComposePlanSceneRendersAllBlocksInOrder(t *testing.T) {
	c := New(newStudio(), nil, zerolog.Nop())
	owner := &domain.Owner{Type: domain.OwnerTypePlanScene, ID: "plan-1", Slot: domain.SceneSlot(0)}

	res, err := c.Compose(context.Background(), Request{DraftPrompt: "  holding hands  ", Owner: owner})
	require.NoError(t, err)

	var kinds []domain.BlockKind
	for _, b := range res.RenderedBlocks {
		kinds = append(kinds, b.Kind)
	}
	assert.Equal(t, []domain.BlockKind{
		domain.BlockStudioPolicy,
		domain.BlockProject,
		domain.BlockCustomers,
		domain.BlockModelIdentity,
		domain.BlockSceneAsset,
		domain.BlockPlanScene,
		domain.BlockDraft,
	}, kinds)

	prompt := res.EffectivePrompt
	assert.True(t, strings.HasPrefix(prompt, "[Studio policy]\nWarm, natural tones."))
	assert.Less(t, strings.Index(prompt, "- Bao (baby)"), strings.Index(prompt, "- Lina (mother, age 34)"))
	assert.Contains(t, prompt, "identity only, not wardrobe")
	assert.Contains(t, prompt, "[Plan scene 0]\nTitle: Walk\nShot: wide\nMood: playful")
	assert.True(t, strings.HasSuffix(prompt, "[Request]\nholding hands"))
	assert.NotContains(t, prompt, "[Edit instruction]")

	trace := res.PromptContext
	assert.Equal(t, ProfilePlanScene, trace.Profile)
	assert.Equal(t, "proj-1", trace.Sources.ProjectID)
	assert.Equal(t, "plan-1", trace.Sources.PlanVersionID)
	require.NotNil(t, trace.Sources.PlanSceneIndex)
	assert.Equal(t, 0, *trace.Sources.PlanSceneIndex)
	assert.Equal(t, []string{"cust-2", "cust-1"}, trace.Sources.CustomerIDs)
	assert.Empty(t, trace.Warnings)

	require.Len(t, res.References.Subjects, 2)
	assert.Equal(t, []string{"/uploads/lina-1.jpg"}, res.References.Subjects[0].Images)
	assert.Equal(t, []string{"/uploads/lina-1.jpg", "/uploads/bao-1.jpg"}, res.References.ModelImages)
	assert.Equal(t, []string{"/generated/images/run-0/asset-01.png", "/uploads/park.jpg"}, res.References.SceneImages)
}

func TestComposeDropsEmptyPlanSceneBlock(t *testing.T) {
	c := New(newStudio(), nil, zerolog.Nop())
	owner := &domain.Owner{Type: domain.OwnerTypePlanScene, ID: "plan-1", Slot: domain.SceneSlot(1)}

	res, err := c.Compose(context.Background(), Request{DraftPrompt: "x", Owner: owner})
	require.NoError(t, err)

	assert.NotContains(t, res.EffectivePrompt, "[Plan scene")
	for _, b := range res.RenderedBlocks {
		assert.NotEqual(t, domain.BlockPlanScene, b.Kind)
		assert.NotEmpty(t, strings.TrimSpace(strings.SplitN(b.Text, "\n", 2)[1]), "block %s has an empty body", b.Kind)
	}
}

func TestComposeAssetExcludesOwnPrimaryImage(t *testing.T) {
	c := New(newStudio(), nil, zerolog.Nop())
	owner := &domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}

	res, err := c.Compose(context.Background(), Request{DraftPrompt: "empty park", Owner: owner, EditInstruction: "add fog"})
	require.NoError(t, err)

	assert.Equal(t, ProfileAsset, res.PromptContext.Profile)
	assert.Equal(t, []string{"/uploads/park.jpg"}, res.References.SceneImages)
	assert.Empty(t, res.References.Subjects)
	assert.True(t, strings.HasSuffix(res.EffectivePrompt, "[Edit instruction]\nadd fog"))
	assert.NotContains(t, res.EffectivePrompt, "[Project]")
}

func TestComposeMissingRowsDegradeToWarnings(t *testing.T) {
	c := New(memstore.NewStudio(), nil, zerolog.Nop())
	owner := &domain.Owner{Type: domain.OwnerTypePlanScene, ID: "missing", Slot: domain.SceneSlot(0)}

	res, err := c.Compose(context.Background(), Request{DraftPrompt: "portrait", Owner: owner})
	require.NoError(t, err)

	assert.Equal(t, "[Studio policy]\n"+DefaultStudioPolicy+"\n\n[Request]\nportrait", res.EffectivePrompt)
	require.Len(t, res.PromptContext.Warnings, 1)
	assert.Contains(t, res.PromptContext.Warnings[0], "plan version missing unavailable")
}

func TestComposeUsesPolicyOverride(t *testing.T) {
	policy := promptpolicy.Static(promptpolicy.Policy{
		Profiles: map[string][]domain.BlockKind{
			"project": {domain.BlockDraft, domain.BlockProject},
		},
		FallbackPolicy: "unused",
	})
	c := New(newStudio(), policy, zerolog.Nop())

	res, err := c.Compose(context.Background(), Request{DraftPrompt: "group photo", ProjectID: "proj-1"})
	require.NoError(t, err)

	assert.Equal(t, "[Request]\ngroup photo\n\n[Project]\nTitle: Family portrait\nBrief: Autumn family session", res.EffectivePrompt)
	assert.Equal(t, []domain.BlockKind{domain.BlockDraft, domain.BlockProject}, res.PromptContext.Blocks)
}

func TestComposeFallbackPolicyFromFile(t *testing.T) {
	policy := promptpolicy.Static(promptpolicy.Policy{FallbackPolicy: "Policy from file."})
	c := New(memstore.NewStudio(), policy, zerolog.Nop())

	res, err := c.Compose(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "[Studio policy]\nPolicy from file.", res.EffectivePrompt)
}

func TestNormalize(t *testing.T) {
	in := "line one   \n\n\n\n  line two\t\n\n\n"
	assert.Equal(t, "line one\n\n  line two", normalize(in))
}

func TestComposeReturnsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newStudio(), nil, zerolog.Nop()).Compose(ctx, Request{ProjectID: "proj-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
