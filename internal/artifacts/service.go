// Package artifacts versions generated files per owner. Every write to the
// owner's current pointer goes through here.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/lock"
)

// FileStore is the file backing of artifacts. *storage.FileStore implements
// it.
type FileStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Size(key string) (int64, error)
	Remove(ctx context.Context, key string) error
}

// Options configures a Service.
type Options struct {
	Store      domain.ArtifactStore
	Files      FileStore
	Logger     infra.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Service records, lists, repoints and deletes artifacts.
type Service struct {
	store  domain.ArtifactStore
	files  FileStore
	logger infra.Logger
	locks  *lock.MutexMap
	now    func() time.Time

	purged     prometheus.Counter
	bytesFreed prometheus.Counter
}

// New builds a Service.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		store:  opts.Store,
		files:  opts.Files,
		logger: opts.Logger,
		locks:  lock.NewMutexMap(),
		now:    now,
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_artifact_cleanup_purged_total",
			Help: "Soft-deleted artifacts purged by cleanup.",
		}),
		bytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_artifact_cleanup_bytes_total",
			Help: "Bytes of artifact files removed by cleanup.",
		}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(s.purged, s.bytesFreed)
	}
	return s
}

// Record appends a new artifact.
func (s *Service) Record(ctx context.Context, a *domain.Artifact) error {
	if a == nil {
		return fmt.Errorf("%w: artifact is required", domain.ErrInvalidInput)
	}
	if !a.Owner.Type.Valid() || strings.TrimSpace(a.Owner.ID) == "" {
		return fmt.Errorf("%w: artifact owner is invalid", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(a.FilePath) == "" {
		return fmt.Errorf("%w: artifact file path is required", domain.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Type == "" {
		a.Type = domain.ArtifactTypeImage
	}
	if a.ReferenceImages == nil {
		a.ReferenceImages = []string{}
	}
	a.DeletedAt = nil
	if err := s.store.Insert(ctx, a); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	s.logger.Info().Str("artifact_id", a.ID).Str("owner", a.Owner.Key()).Msg("artifacts: recorded")
	return nil
}

// Get returns one artifact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Artifact, error) {
	return s.store.GetByID(ctx, id)
}

// List returns the owner's artifacts, newest first.
func (s *Service) List(ctx context.Context, owner domain.Owner, includeDeleted bool) ([]domain.Artifact, error) {
	if !owner.Type.Valid() || owner.ID == "" {
		return nil, fmt.Errorf("%w: owner is invalid", domain.ErrInvalidInput)
	}
	return s.store.ListByOwner(ctx, owner, includeDeleted)
}

// SetCurrent makes the artifact its owner's current version. Only asset
// owners keep a pointer.
func (s *Service) SetCurrent(ctx context.Context, id string) (*domain.Artifact, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Owner.Type != domain.OwnerTypeAsset {
		return nil, fmt.Errorf("set current for %s: %w", a.Owner.Type, domain.ErrUnsupportedOwner)
	}

	err = s.locks.With(a.Owner.Key(), func() error {
		// Re-read under the lock so a concurrent delete is seen.
		latest, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if latest.Deleted() {
			return fmt.Errorf("artifact %s is deleted: %w", id, domain.ErrInvalidTransition)
		}
		return s.store.WithinTx(ctx, func(tx domain.ArtifactTx) error {
			return tx.SetCurrentPointer(ctx, latest.Owner, latest)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("artifact_id", id).Str("owner", a.Owner.Key()).Msg("artifacts: set current")
	return a, nil
}

// DeleteResult describes what a delete changed.
type DeleteResult struct {
	Artifact       *domain.Artifact `json:"artifact"`
	AlreadyDeleted bool             `json:"alreadyDeleted"`
	WasCurrent     bool             `json:"wasCurrent"`
	Promoted       *domain.Artifact `json:"promoted"`
}

// Delete soft-deletes an artifact. When it was the owner's current version
// the next most recent live artifact of the same owner slot takes over, or
// the pointer is cleared. File removal failures are logged only. Deleting an
// already deleted artifact succeeds without changes.
func (s *Service) Delete(ctx context.Context, id string, deleteFile bool) (*DeleteResult, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	err = s.locks.With(a.Owner.Key(), func() error {
		latest, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		res.Artifact = latest
		if latest.Deleted() {
			res.AlreadyDeleted = true
			return nil
		}
		at := s.now().UTC()
		err = s.store.WithinTx(ctx, func(tx domain.ArtifactTx) error {
			if latest.Owner.Type == domain.OwnerTypeAsset {
				// A removed asset row points at nothing.
				ptr, err := tx.CurrentPointer(ctx, latest.Owner)
				switch {
				case errors.Is(err, domain.ErrNotFound):
				case err != nil:
					return fmt.Errorf("read current pointer: %w", err)
				default:
					res.WasCurrent = ptr.Points(*latest)
				}
			}
			if err := tx.SoftDelete(ctx, latest.ID, at); err != nil {
				return fmt.Errorf("soft delete: %w", err)
			}
			if !res.WasCurrent {
				return nil
			}
			next, err := tx.LatestLive(ctx, latest.Owner)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("find replacement: %w", err)
			}
			res.Promoted = next
			return tx.SetCurrentPointer(ctx, latest.Owner, next)
		})
		if err == nil {
			latest.DeletedAt = &at
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if deleteFile && s.files != nil {
		if err := s.files.Remove(ctx, res.Artifact.FilePath); err != nil {
			s.logger.Error().Err(err).Str("artifact_id", id).Str("path", res.Artifact.FilePath).Msg("artifacts: remove file failed")
		}
	}

	ev := s.logger.Info().Str("artifact_id", id).Str("owner", a.Owner.Key()).Bool("was_current", res.WasCurrent)
	if res.Promoted != nil {
		ev = ev.Str("promoted_id", res.Promoted.ID)
	}
	ev.Msg("artifacts: deleted")
	return res, nil
}
