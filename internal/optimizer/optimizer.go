// Package optimizer rewrites a composed prompt through a text model. It never
// fails outward: every error path falls back to the composed prompt.
package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/infra"
	"photostudio/internal/providers/genai"
)

const (
	StatusOptimized = "optimized"
	StatusFallback  = "fallback"
	StatusSkipped   = "skipped"
)

const (
	ReasonEmptyPrompt          = "empty_prompt"
	ReasonNoTextProvider       = "no_text_provider"
	ReasonProviderLookupFailed = "provider_lookup_failed"
	ReasonProviderError        = "provider_error"
	ReasonParseError           = "parse_error"
	ReasonEmptyRenderPrompt    = "empty_render_prompt"
	ReasonDisabled             = "disabled"
)

// TextGenerator is the model call the optimizer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, p domain.Provider, req genai.TextRequest) (*genai.TextResult, error)
}

// ReferencePlan summarizes the resolved reference images.
type ReferencePlan struct {
	IdentityImages []string `json:"identityImages"`
	SceneImages    []string `json:"sceneImages"`
}

func (p ReferencePlan) empty() bool {
	return len(p.IdentityImages) == 0 && len(p.SceneImages) == 0
}

// Request is one optimization request. Provider, when set, is used as is;
// otherwise ProviderID is looked up, and failing that the default text
// provider.
type Request struct {
	EffectivePrompt string
	DraftPrompt     string
	Provider        *domain.Provider
	ProviderID      string
	ReferencePlan   ReferencePlan
	PromptContext   *composer.PromptContext
	RequestID       string
}

// Result always carries a usable RenderPrompt.
type Result struct {
	RenderPrompt string
	Meta         jsoncfg.OptimizerMeta
}

// Options configures an Optimizer.
type Options struct {
	Providers  domain.ProviderSource
	Text       TextGenerator
	Logger     infra.Logger
	Registerer prometheus.Registerer
}

// Optimizer calls a text model to produce the render prompt.
type Optimizer struct {
	providers domain.ProviderSource
	text      TextGenerator
	logger    infra.Logger
	outcomes  *prometheus.CounterVec
	lookups   singleflight.Group
}

// New builds an Optimizer and registers its outcome counter when a
// registerer is given.
func New(opts Options) *Optimizer {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_optimizer_outcomes_total",
		Help: "Prompt optimizer outcomes by status and reason.",
	}, []string{"status", "reason"})
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(outcomes)
	}
	return &Optimizer{
		providers: opts.Providers,
		text:      opts.Text,
		logger:    opts.Logger,
		outcomes:  outcomes,
	}
}

// Skip returns the composed prompt unchanged apart from the binding
// declaration, recording reason.
func (o *Optimizer) Skip(req Request, reason string) Result {
	res := skipped(strings.TrimSpace(req.EffectivePrompt), reason)
	res.RenderPrompt = AppendBinding(res.RenderPrompt, req.ReferencePlan)
	o.outcomes.WithLabelValues(res.Meta.Status, res.Meta.Reason).Inc()
	return res
}

// Optimize returns the render prompt. It does not return errors.
func (o *Optimizer) Optimize(ctx context.Context, req Request) Result {
	source := strings.TrimSpace(req.EffectivePrompt)
	if source == "" {
		source = strings.TrimSpace(req.DraftPrompt)
	}
	res := o.optimize(ctx, req, source)
	res.RenderPrompt = AppendBinding(res.RenderPrompt, req.ReferencePlan)

	o.outcomes.WithLabelValues(res.Meta.Status, res.Meta.Reason).Inc()
	o.logger.Info().
		Str("request_id", req.RequestID).
		Str("status", res.Meta.Status).
		Str("reason", res.Meta.Reason).
		Str("provider_id", res.Meta.ProviderID).
		Msg("optimizer: finished")
	return res
}

func (o *Optimizer) optimize(ctx context.Context, req Request, source string) Result {
	if source == "" {
		return skipped(source, ReasonEmptyPrompt)
	}

	provider, reason := o.resolveProvider(ctx, req)
	if provider == nil {
		return skipped(source, reason)
	}
	meta := jsoncfg.OptimizerMeta{ProviderID: provider.ID, Model: provider.Model}
	if o.text == nil {
		meta.Status, meta.Reason = StatusSkipped, ReasonNoTextProvider
		return Result{RenderPrompt: source, Meta: meta}
	}

	input, err := buildInput(req, source)
	if err != nil {
		meta.Status, meta.Reason = StatusFallback, ReasonProviderError
		return Result{RenderPrompt: source, Meta: meta}
	}
	out, err := o.text.GenerateText(ctx, *provider, genai.TextRequest{
		System:      instruction,
		Prompt:      input,
		JSON:        true,
		Temperature: 0.2,
		RequestID:   req.RequestID,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("provider_id", provider.ID).Msg("optimizer: provider call failed")
		meta.Status, meta.Reason = StatusFallback, ReasonProviderError
		return Result{RenderPrompt: source, Meta: meta}
	}
	if out.Model != "" {
		meta.Model = out.Model
	}

	payload, err := parsePayload(out.Text)
	if err != nil {
		o.logger.Warn().Err(err).Str("provider_id", provider.ID).Msg("optimizer: unparseable reply")
		meta.Status, meta.Reason = StatusFallback, ReasonParseError
		return Result{RenderPrompt: source, Meta: meta}
	}
	render := strings.TrimSpace(payload.RenderPrompt)
	if render == "" {
		meta.Status, meta.Reason = StatusFallback, ReasonEmptyRenderPrompt
		return Result{RenderPrompt: source, Meta: meta}
	}

	meta.Status = StatusOptimized
	meta.Assumptions = cleanList(payload.Assumptions)
	meta.Conflicts = cleanList(payload.Conflicts)
	meta.NegativePrompt = cleanList(payload.NegativePrompt)
	return Result{RenderPrompt: render, Meta: meta}
}

func skipped(source, reason string) Result {
	return Result{RenderPrompt: source, Meta: jsoncfg.OptimizerMeta{Status: StatusSkipped, Reason: reason}}
}

// resolveProvider returns a text-usable provider or the skip reason.
func (o *Optimizer) resolveProvider(ctx context.Context, req Request) (*domain.Provider, string) {
	if req.Provider != nil {
		if !req.Provider.Usable(domain.CapabilityText) {
			return nil, ReasonNoTextProvider
		}
		return req.Provider, ""
	}
	if o.providers == nil {
		return nil, ReasonNoTextProvider
	}

	id := strings.TrimSpace(req.ProviderID)
	key := "default:" + string(domain.CapabilityText)
	if id != "" {
		key = "id:" + id
	}
	v, err, _ := o.lookups.Do(key, func() (any, error) {
		if id != "" {
			return o.providers.Provider(ctx, id)
		}
		return o.providers.Default(ctx, domain.CapabilityText)
	})
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrProviderNotConfigured):
		return nil, ReasonNoTextProvider
	case err != nil:
		o.logger.Warn().Err(err).Str("provider_id", id).Msg("optimizer: provider lookup failed")
		return nil, ReasonProviderLookupFailed
	}
	found, ok := v.(*domain.Provider)
	if !ok || found == nil || !found.Usable(domain.CapabilityText) {
		return nil, ReasonNoTextProvider
	}
	p := *found
	return &p, ""
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// inputBundle is the JSON document sent as the user turn.
type inputBundle struct {
	DraftPrompt     string           `json:"draftPrompt"`
	EffectivePrompt string           `json:"effectivePrompt"`
	References      referenceSummary `json:"references"`
	Context         *traceSlice      `json:"context,omitempty"`
}

type referenceSummary struct {
	IdentityCount  int      `json:"identityCount"`
	SceneCount     int      `json:"sceneCount"`
	IdentityImages []string `json:"identityImages,omitempty"`
	SceneImages    []string `json:"sceneImages,omitempty"`
}

// traceSlice is the part of the prompt trace the model may see.
type traceSlice struct {
	Profile  composer.Profile   `json:"profile"`
	Blocks   []domain.BlockKind `json:"blocks"`
	Warnings []string           `json:"warnings,omitempty"`
}

func buildInput(req Request, source string) (string, error) {
	bundle := inputBundle{
		DraftPrompt:     strings.TrimSpace(req.DraftPrompt),
		EffectivePrompt: source,
		References: referenceSummary{
			IdentityCount:  len(req.ReferencePlan.IdentityImages),
			SceneCount:     len(req.ReferencePlan.SceneImages),
			IdentityImages: req.ReferencePlan.IdentityImages,
			SceneImages:    req.ReferencePlan.SceneImages,
		},
	}
	if pc := req.PromptContext; pc != nil {
		bundle.Context = &traceSlice{Profile: pc.Profile, Blocks: pc.Blocks, Warnings: pc.Warnings}
	}
	b, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
