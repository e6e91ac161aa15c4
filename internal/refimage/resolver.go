// Package refimage picks the identity and scene reference images sent with a
// generation request.
package refimage

import (
	"context"
	"strings"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
)

const (
	MaxIdentityImages = 4
	MaxSceneImages    = 4
	MaxTotalImages    = 8
)

// ArtifactLister is the read the resolver needs to spot self-references.
type ArtifactLister interface {
	ListByOwner(ctx context.Context, owner domain.Owner, includeDeleted bool) ([]domain.Artifact, error)
}

// Request lists the candidate references for one generation.
type Request struct {
	ModelReferenceImages    []string
	ModelReferenceSubjects  []Subject
	ExternalReferenceImages []string
	Owner                   *domain.Owner
	EditInstruction         string
}

// Result is the capped selection. AllImages lists scene images first.
type Result struct {
	IdentityImages []string `json:"identityImages"`
	SceneImages    []string `json:"sceneImages"`
	AllImages      []string `json:"allImages"`
	DroppedImages  []string `json:"droppedImages"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Resolver selects reference images.
type Resolver struct {
	artifacts ArtifactLister
	logger    infra.Logger
}

// NewResolver builds a Resolver. artifacts may be nil, which disables
// self-reference filtering.
func NewResolver(artifacts ArtifactLister, logger infra.Logger) *Resolver {
	return &Resolver{artifacts: artifacts, logger: logger}
}

// Resolve classifies, filters and caps the candidates.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{
		IdentityImages: []string{},
		SceneImages:    []string{},
		AllImages:      []string{},
		DroppedImages:  []string{},
	}

	modelImages := normalizeAll(req.ModelReferenceImages)
	modelKeys := make(map[string]bool, len(modelImages))
	for _, ref := range modelImages {
		modelKeys[ref] = true
	}
	for _, s := range req.ModelReferenceSubjects {
		for _, ref := range normalizeAll(s.Images) {
			modelKeys[ref] = true
		}
	}

	// External refs that are also model photos count as identity.
	identityFallback := modelImages
	var sceneCandidates []string
	for _, ref := range normalizeAll(req.ExternalReferenceImages) {
		if modelKeys[ref] {
			identityFallback = append(identityFallback, ref)
			continue
		}
		sceneCandidates = append(sceneCandidates, ref)
	}

	sceneCandidates = r.dropSelfReferences(ctx, req, sceneCandidates, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if hasSubjectImages(req.ModelReferenceSubjects) {
		res.IdentityImages = SelectBalanced(req.ModelReferenceSubjects, identityFallback, MaxIdentityImages)
	} else {
		res.IdentityImages = capList(normalizeAll(identityFallback), MaxIdentityImages)
	}

	sceneCap := min(MaxSceneImages, MaxTotalImages-len(res.IdentityImages))
	res.SceneImages = capList(sceneCandidates, sceneCap)

	res.AllImages = append(append(res.AllImages, res.SceneImages...), res.IdentityImages...)
	return res, nil
}

// dropSelfReferences removes scene candidates that an earlier generation for
// the same plan scene produced, so a scene is not fed its own output. Edits
// keep them on purpose.
func (r *Resolver) dropSelfReferences(ctx context.Context, req Request, candidates []string, res *Result) []string {
	owner := req.Owner
	if r.artifacts == nil || owner == nil || owner.Type != domain.OwnerTypePlanScene || strings.TrimSpace(req.EditInstruction) != "" {
		return candidates
	}
	if len(candidates) == 0 {
		return candidates
	}
	prior, err := r.artifacts.ListByOwner(ctx, *owner, true)
	if err != nil {
		r.logger.Warn().Err(err).Str("owner", owner.Key()).Msg("refimage: artifact lookup failed, self-reference filtering skipped")
		res.Warnings = append(res.Warnings, "self-reference filtering skipped: "+err.Error())
		return candidates
	}
	generated := make(map[string]bool, len(prior))
	for _, a := range prior {
		if key := Normalize(a.FilePath); key != "" {
			generated[key] = true
		}
	}
	kept := candidates[:0:0]
	for _, ref := range candidates {
		if generated[ref] {
			res.DroppedImages = append(res.DroppedImages, ref)
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}

func hasSubjectImages(subjects []Subject) bool {
	for _, s := range subjects {
		for _, ref := range s.Images {
			if strings.TrimSpace(ref) != "" {
				return true
			}
		}
	}
	return false
}

func capList(in []string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	if len(in) > limit {
		in = in[:limit]
	}
	return append([]string{}, in...)
}
