package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
)

// Studio implements domain.StudioReader, domain.PlanWriter and
// domain.ProviderSource over plain maps.
type Studio struct {
	mu sync.RWMutex

	policy    string
	projects  map[string]domain.Project
	customers map[string]domain.Customer
	models    map[string]domain.CastModel
	scenes    map[string]domain.SceneAsset
	plans     map[string]domain.ProjectPlanVersion
	providers []domain.Provider

	// ProviderErr, when set, is returned by every provider lookup.
	ProviderErr error
}

func NewStudio() *Studio {
	return &Studio{
		projects:  map[string]domain.Project{},
		customers: map[string]domain.Customer{},
		models:    map[string]domain.CastModel{},
		scenes:    map[string]domain.SceneAsset{},
		plans:     map[string]domain.ProjectPlanVersion{},
	}
}

func (s *Studio) SetPolicy(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = text
}

func (s *Studio) AddProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *Studio) AddCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *Studio) AddModel(m domain.CastModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
}

func (s *Studio) AddScene(a domain.SceneAsset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[a.ID] = a
}

func (s *Studio) AddPlan(v domain.ProjectPlanVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[v.ID] = v
}

func (s *Studio) AddProvider(p domain.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
}

func (s *Studio) StudioPolicy(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, nil
}

func (s *Studio) Project(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Studio) Customers(ctx context.Context, ids []string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Customer
	for _, id := range ids {
		if c, ok := s.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Studio) CastModels(ctx context.Context, ids []string) ([]domain.CastModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CastModel
	for _, id := range ids {
		if m, ok := s.models[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Studio) SceneAsset(ctx context.Context, id string) (*domain.SceneAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.scenes[id]
	if !ok {
		return nil, fmt.Errorf("scene asset %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (s *Studio) PlanVersion(ctx context.Context, id string) (*domain.ProjectPlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan version %s: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

func (s *Studio) CreatePlanVersion(ctx context.Context, projectID string, scenes []domain.PlanScene) (*domain.ProjectPlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 0
	for _, v := range s.plans {
		if v.ProjectID == projectID && v.Version > version {
			version = v.Version
		}
	}
	v := domain.ProjectPlanVersion{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Version:   version + 1,
		Scenes:    scenes,
		CreatedAt: time.Now(),
	}
	s.plans[v.ID] = v
	return &v, nil
}

func (s *Studio) Provider(ctx context.Context, id string) (*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ProviderErr != nil {
		return nil, s.ProviderErr
	}
	for _, p := range s.providers {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("provider %s: %w", id, domain.ErrNotFound)
}

func (s *Studio) Default(ctx context.Context, c domain.Capability) (*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ProviderErr != nil {
		return nil, s.ProviderErr
	}
	var fallback *domain.Provider
	for _, p := range s.providers {
		if !p.Usable(c) {
			continue
		}
		if p.IsDefault {
			return &p, nil
		}
		if fallback == nil {
			fallback = &p
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%s provider: %w", c, domain.ErrProviderNotConfigured)
}

// pointer returns the stored current pointer of a scene asset.
func (s *Studio) pointer(id string) (domain.CurrentPointer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.scenes[id]
	if !ok {
		return domain.CurrentPointer{}, false
	}
	return domain.CurrentPointer{ArtifactID: a.CurrentArtifactID, FilePath: a.PrimaryImagePath}, true
}

func (s *Studio) setPointer(id string, artifactID, path *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.scenes[id]
	if !ok {
		return false
	}
	a.CurrentArtifactID = artifactID
	a.PrimaryImagePath = path
	s.scenes[id] = a
	return true
}

var (
	_ domain.StudioReader   = (*Studio)(nil)
	_ domain.PlanWriter     = (*Studio)(nil)
	_ domain.ProviderSource = (*Studio)(nil)
)
