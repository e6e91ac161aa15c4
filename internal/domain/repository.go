package domain

import (
	"context"
	"time"
)

// TaskRepository persists queue state.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter TaskFilter) ([]Task, error)
	// ClaimNext moves the oldest pending task to running and returns it, or
	// ErrNoTaskAvailable.
	ClaimNext(ctx context.Context) (*Task, error)
	Complete(ctx context.Context, id string, output []byte) error
	Fail(ctx context.Context, id string, message string) error
	// FailRunning force-fails every running task and reports how many changed.
	FailRunning(ctx context.Context, message string) (int64, error)
	// ResetFailed moves a failed task back to pending, clearing output and error.
	ResetFailed(ctx context.Context, id string) error
	// DeleteIdle removes a task unless it is running.
	DeleteIdle(ctx context.Context, id string) error
}

// ArtifactRepository persists generated artifacts.
type ArtifactRepository interface {
	Insert(ctx context.Context, artifact *Artifact) error
	GetByID(ctx context.Context, id string) (*Artifact, error)
	// ListByOwner returns artifacts for the exact owner slot, newest first.
	ListByOwner(ctx context.Context, owner Owner, includeDeleted bool) ([]Artifact, error)
	ListDeleted(ctx context.Context) ([]Artifact, error)
	Purge(ctx context.Context, id string) error
}

// ArtifactTx is the transactional surface used while repointing an owner.
type ArtifactTx interface {
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// LatestLive returns the newest non-deleted artifact for the owner slot, or
	// ErrNotFound.
	LatestLive(ctx context.Context, owner Owner) (*Artifact, error)
	CurrentPointer(ctx context.Context, owner Owner) (CurrentPointer, error)
	SetCurrentPointer(ctx context.Context, owner Owner, artifact *Artifact) error
}

// ArtifactStore combines plain access with transactional repointing.
type ArtifactStore interface {
	ArtifactRepository
	WithinTx(ctx context.Context, fn func(tx ArtifactTx) error) error
}

// StudioReader exposes the read-only business context prompts are composed from.
type StudioReader interface {
	StudioPolicy(ctx context.Context) (string, error)
	Project(ctx context.Context, id string) (*Project, error)
	Customers(ctx context.Context, ids []string) ([]Customer, error)
	CastModels(ctx context.Context, ids []string) ([]CastModel, error)
	SceneAsset(ctx context.Context, id string) (*SceneAsset, error)
	PlanVersion(ctx context.Context, id string) (*ProjectPlanVersion, error)
}

// PlanWriter stores generated plans.
type PlanWriter interface {
	CreatePlanVersion(ctx context.Context, projectID string, scenes []PlanScene) (*ProjectPlanVersion, error)
}

// ProviderSource resolves configured model providers.
type ProviderSource interface {
	Provider(ctx context.Context, id string) (*Provider, error)
	// Default returns the default provider able to serve capability c, or
	// ErrProviderNotConfigured.
	Default(ctx context.Context, c Capability) (*Provider, error)
}
