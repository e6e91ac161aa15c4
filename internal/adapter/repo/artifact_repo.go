package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/sqlinline"
)

// ArtifactRepositoryPG implements domain.ArtifactStore.
type ArtifactRepositoryPG struct {
	sql infra.TxExecutor
}

// NewArtifactRepository creates a new artifact repository backed by PostgreSQL.
func NewArtifactRepository(sql infra.TxExecutor) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{sql: sql}
}

// Insert appends an artifact row.
func (r *ArtifactRepositoryPG) Insert(ctx context.Context, a *domain.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	refs, err := json.Marshal(nonNilStrings(a.ReferenceImages))
	if err != nil {
		return fmt.Errorf("encode reference images: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertArtifact,
		a.ID,
		a.RunID,
		string(a.Type),
		a.MimeType,
		a.FilePath,
		a.Width,
		a.Height,
		a.SizeBytes,
		string(a.Owner.Type),
		a.Owner.ID,
		a.Owner.Slot,
		a.EffectivePrompt,
		a.RenderPrompt,
		nullableBytes(a.PromptContext),
		refs,
		a.EditInstruction,
		a.ParentArtifactID,
	)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetByID fetches an artifact, deleted or not.
func (r *ArtifactRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	a, err := scanArtifact(r.sql.QueryRow(ctx, sqlinline.QSelectArtifactByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListByOwner returns the owner's artifacts newest first.
func (r *ArtifactRepositoryPG) ListByOwner(ctx context.Context, owner domain.Owner, includeDeleted bool) ([]domain.Artifact, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectArtifactsByOwner, string(owner.Type), owner.ID, owner.Slot, includeDeleted)
	if err != nil {
		return nil, err
	}
	return collectArtifacts(rows)
}

// ListDeleted returns every soft-deleted artifact.
func (r *ArtifactRepositoryPG) ListDeleted(ctx context.Context) ([]domain.Artifact, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectDeletedArtifacts)
	if err != nil {
		return nil, err
	}
	return collectArtifacts(rows)
}

// Purge hard-deletes a soft-deleted artifact row.
func (r *ArtifactRepositoryPG) Purge(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QPurgeArtifact, id)
	return err
}

// WithinTx runs fn in a transaction bound to a pointer-aware view.
func (r *ArtifactRepositoryPG) WithinTx(ctx context.Context, fn func(tx domain.ArtifactTx) error) error {
	return r.sql.WithinTx(ctx, func(tx infra.SQLExecutor) error {
		return fn(artifactTx{sql: tx})
	})
}

type artifactTx struct {
	sql infra.SQLExecutor
}

func (t artifactTx) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := t.sql.Exec(ctx, sqlinline.QSoftDeleteArtifact, id, at)
	return err
}

func (t artifactTx) LatestLive(ctx context.Context, owner domain.Owner) (*domain.Artifact, error) {
	a, err := scanArtifact(t.sql.QueryRow(ctx, sqlinline.QSelectLatestLiveArtifact, string(owner.Type), owner.ID, owner.Slot))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// CurrentPointer locks and reads the owner's pointer. Only scene assets carry one.
func (t artifactTx) CurrentPointer(ctx context.Context, owner domain.Owner) (domain.CurrentPointer, error) {
	if owner.Type != domain.OwnerTypeAsset {
		return domain.CurrentPointer{}, domain.ErrUnsupportedOwner
	}
	var p domain.CurrentPointer
	if err := t.sql.QueryRow(ctx, sqlinline.QSelectAssetCurrentPointer, owner.ID).Scan(&p.ArtifactID, &p.FilePath); err != nil {
		if infra.IsNoRows(err) {
			return domain.CurrentPointer{}, fmt.Errorf("scene asset %s: %w", owner.ID, domain.ErrNotFound)
		}
		return domain.CurrentPointer{}, err
	}
	return p, nil
}

// SetCurrentPointer points the owner at a, or clears the pointer when a is nil.
func (t artifactTx) SetCurrentPointer(ctx context.Context, owner domain.Owner, a *domain.Artifact) error {
	if owner.Type != domain.OwnerTypeAsset {
		return domain.ErrUnsupportedOwner
	}
	var (
		id   *string
		path *string
	)
	if a != nil {
		id = &a.ID
		path = &a.FilePath
	}
	tag, err := t.sql.Exec(ctx, sqlinline.QUpdateAssetCurrentPointer, owner.ID, id, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scene asset %s: %w", owner.ID, domain.ErrNotFound)
	}
	return nil
}

func collectArtifacts(rows pgx.Rows) ([]domain.Artifact, error) {
	defer rows.Close()
	var out []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanArtifact(row pgx.Row) (*domain.Artifact, error) {
	var (
		a         domain.Artifact
		artType   string
		ownerType string
		promptCtx []byte
		refs      []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.RunID,
		&artType,
		&a.MimeType,
		&a.FilePath,
		&a.Width,
		&a.Height,
		&a.SizeBytes,
		&ownerType,
		&a.Owner.ID,
		&a.Owner.Slot,
		&a.EffectivePrompt,
		&a.RenderPrompt,
		&promptCtx,
		&refs,
		&a.EditInstruction,
		&a.ParentArtifactID,
		&a.CreatedAt,
		&a.DeletedAt,
	); err != nil {
		return nil, err
	}
	a.Type = domain.ArtifactType(artType)
	a.Owner.Type = domain.OwnerType(ownerType)
	a.PromptContext = nullableBytes(promptCtx)
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &a.ReferenceImages); err != nil {
			return nil, fmt.Errorf("decode reference images: %w", err)
		}
	}
	return &a, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

var _ domain.ArtifactStore = (*ArtifactRepositoryPG)(nil)
