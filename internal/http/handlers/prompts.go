package handlers

import (
	"net/http"

	"photostudio/internal/composer"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/middleware"
)

type promptPreviewRequest struct {
	jsoncfg.ImageGenerationInput
	Optimize bool `json:"optimize"`
}

type promptPreviewResponse struct {
	EffectivePrompt string                  `json:"effectivePrompt"`
	RenderPrompt    string                  `json:"renderPrompt"`
	Blocks          []composer.Block        `json:"blocks"`
	IdentityImages  []string                `json:"identityImages"`
	SceneImages     []string                `json:"sceneImages"`
	DroppedImages   []string                `json:"droppedImages"`
	Optimizer       jsoncfg.OptimizerMeta   `json:"optimizer"`
	PromptContext   *composer.PromptContext `json:"promptContext"`
	Warnings        []string                `json:"warnings"`
}

// PromptPreview composes and resolves references for a request without
// queueing it. The optimizer only runs when asked.
func (a *App) PromptPreview(w http.ResponseWriter, r *http.Request) {
	var req promptPreviewRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	in := req.ImageGenerationInput
	in.SkipOptimize = !req.Optimize
	if _, err := jsoncfg.EncodeInput(&in); err != nil {
		a.fail(w, r, err)
		return
	}
	prep, err := a.Preview.Prepare(r.Context(), in, middleware.RequestIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	warnings := prep.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	a.json(w, http.StatusOK, promptPreviewResponse{
		EffectivePrompt: prep.Composed.EffectivePrompt,
		RenderPrompt:    prep.Optimized.RenderPrompt,
		Blocks:          prep.Composed.RenderedBlocks,
		IdentityImages:  prep.References.IdentityImages,
		SceneImages:     prep.References.SceneImages,
		DroppedImages:   prep.References.DroppedImages,
		Optimizer:       prep.Optimized.Meta,
		PromptContext:   prep.Composed.PromptContext,
		Warnings:        warnings,
	})
}
