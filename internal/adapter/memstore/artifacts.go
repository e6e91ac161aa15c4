package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
)

// Artifacts implements domain.ArtifactStore. Current pointers of asset owners
// live on the scene assets of the backing Studio.
type Artifacts struct {
	mu     sync.Mutex
	clock  clock
	rows   map[string]*domain.Artifact
	order  map[string]int64
	studio *Studio

	// ListErr, when set, is returned by ListByOwner.
	ListErr error
}

func NewArtifacts(studio *Studio) *Artifacts {
	if studio == nil {
		studio = NewStudio()
	}
	return &Artifacts{
		rows:   map[string]*domain.Artifact{},
		order:  map[string]int64{},
		studio: studio,
	}
}

func cloneArtifact(a *domain.Artifact) domain.Artifact {
	cp := *a
	cp.ReferenceImages = append([]string(nil), a.ReferenceImages...)
	return cp
}

func (s *Artifacts) Insert(ctx context.Context, a *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.rows[a.ID]; exists {
		return fmt.Errorf("artifact %s already exists", a.ID)
	}
	at, seq := s.clock.tick()
	a.CreatedAt = at
	cp := cloneArtifact(a)
	s.rows[a.ID] = &cp
	s.order[a.ID] = seq
	return nil
}

func (s *Artifacts) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := cloneArtifact(a)
	return &cp, nil
}

func (s *Artifacts) ListByOwner(ctx context.Context, owner domain.Owner, includeDeleted bool) ([]domain.Artifact, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(a *domain.Artifact) bool {
		return a.Owner.Same(owner) && (includeDeleted || !a.Deleted())
	}), nil
}

func (s *Artifacts) ListDeleted(ctx context.Context) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(a *domain.Artifact) bool { return a.Deleted() }), nil
}

func (s *Artifacts) Purge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[id]; ok && a.Deleted() {
		delete(s.rows, id)
		delete(s.order, id)
	}
	return nil
}

// WithinTx applies fn's writes only when it returns nil.
func (s *Artifacts) WithinTx(ctx context.Context, fn func(tx domain.ArtifactTx) error) error {
	tx := &memTx{store: s, deletes: map[string]time.Time{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	for id, at := range tx.deletes {
		if a, ok := s.rows[id]; ok && a.DeletedAt == nil {
			a.DeletedAt = &at
		}
	}
	s.mu.Unlock()
	for _, p := range tx.pointers {
		if !s.studio.setPointer(p.ownerID, p.artifactID, p.path) {
			return fmt.Errorf("scene asset %s: %w", p.ownerID, domain.ErrNotFound)
		}
	}
	return nil
}

func (s *Artifacts) listLocked(keep func(*domain.Artifact) bool) []domain.Artifact {
	var out []domain.Artifact
	for _, a := range s.rows {
		if keep(a) {
			out = append(out, cloneArtifact(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return out
}

type pendingPointer struct {
	ownerID    string
	artifactID *string
	path       *string
}

type memTx struct {
	store    *Artifacts
	deletes  map[string]time.Time
	pointers []pendingPointer
}

func (t *memTx) SoftDelete(ctx context.Context, id string, at time.Time) error {
	t.deletes[id] = at
	return nil
}

func (t *memTx) LatestLive(ctx context.Context, owner domain.Owner) (*domain.Artifact, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	list := t.store.listLocked(func(a *domain.Artifact) bool {
		if !a.Owner.Same(owner) || a.Deleted() {
			return false
		}
		_, pending := t.deletes[a.ID]
		return !pending
	})
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return &list[0], nil
}

func (t *memTx) CurrentPointer(ctx context.Context, owner domain.Owner) (domain.CurrentPointer, error) {
	if owner.Type != domain.OwnerTypeAsset {
		return domain.CurrentPointer{}, domain.ErrUnsupportedOwner
	}
	for i := len(t.pointers) - 1; i >= 0; i-- {
		if t.pointers[i].ownerID == owner.ID {
			return domain.CurrentPointer{ArtifactID: t.pointers[i].artifactID, FilePath: t.pointers[i].path}, nil
		}
	}
	p, ok := t.store.studio.pointer(owner.ID)
	if !ok {
		return domain.CurrentPointer{}, fmt.Errorf("scene asset %s: %w", owner.ID, domain.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) SetCurrentPointer(ctx context.Context, owner domain.Owner, a *domain.Artifact) error {
	if owner.Type != domain.OwnerTypeAsset {
		return domain.ErrUnsupportedOwner
	}
	if _, ok := t.store.studio.pointer(owner.ID); !ok {
		return fmt.Errorf("scene asset %s: %w", owner.ID, domain.ErrNotFound)
	}
	p := pendingPointer{ownerID: owner.ID}
	if a != nil {
		id, path := a.ID, a.FilePath
		p.artifactID = &id
		p.path = &path
	}
	t.pointers = append(t.pointers, p)
	return nil
}

var _ domain.ArtifactStore = (*Artifacts)(nil)
