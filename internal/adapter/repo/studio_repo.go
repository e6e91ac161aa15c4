package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/sqlinline"
)

// StudioRepositoryPG reads studio context and stores generated plans.
type StudioRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewStudioRepository constructs a new studio repository instance.
func NewStudioRepository(sql infra.SQLExecutor) *StudioRepositoryPG {
	return &StudioRepositoryPG{sql: sql}
}

// StudioPolicy returns the studio-wide policy text, empty when unset.
func (r *StudioRepositoryPG) StudioPolicy(ctx context.Context) (string, error) {
	var text string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectStudioPolicy).Scan(&text); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func (r *StudioRepositoryPG) Project(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	err := r.sql.QueryRow(ctx, sqlinline.QSelectProject, id).
		Scan(&p.ID, &p.Title, &p.Prompt, &p.CustomerIDs, &p.ModelIDs, &p.SceneAssetID)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// Customers returns the customers in the order of ids. Unknown ids are skipped.
func (r *StudioRepositoryPG) Customers(ctx context.Context, ids []string) ([]domain.Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectCustomersByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.Age, &c.Notes); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CastModels returns the cast models in the order of ids. Unknown ids are skipped.
func (r *StudioRepositoryPG) CastModels(ctx context.Context, ids []string) ([]domain.CastModel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectCastModelsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CastModel
	for rows.Next() {
		var m domain.CastModel
		if err := rows.Scan(&m.ID, &m.Name, &m.Role, &m.IdentityDescription, &m.ReferenceImages); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StudioRepositoryPG) SceneAsset(ctx context.Context, id string) (*domain.SceneAsset, error) {
	var s domain.SceneAsset
	err := r.sql.QueryRow(ctx, sqlinline.QSelectSceneAsset, id).Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.Style,
		&s.Lighting,
		&s.Props,
		&s.ReferenceImages,
		&s.PrimaryImagePath,
		&s.CurrentArtifactID,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("scene asset %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *StudioRepositoryPG) PlanVersion(ctx context.Context, id string) (*domain.ProjectPlanVersion, error) {
	var (
		v      domain.ProjectPlanVersion
		scenes []byte
	)
	err := r.sql.QueryRow(ctx, sqlinline.QSelectPlanVersion, id).
		Scan(&v.ID, &v.ProjectID, &v.Version, &scenes, &v.CreatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("plan version %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	if len(scenes) > 0 {
		if err := json.Unmarshal(scenes, &v.Scenes); err != nil {
			return nil, fmt.Errorf("decode plan scenes: %w", err)
		}
	}
	return &v, nil
}

// CreatePlanVersion stores scenes as the project's next plan version.
func (r *StudioRepositoryPG) CreatePlanVersion(ctx context.Context, projectID string, scenes []domain.PlanScene) (*domain.ProjectPlanVersion, error) {
	raw, err := json.Marshal(scenes)
	if err != nil {
		return nil, fmt.Errorf("encode plan scenes: %w", err)
	}
	v := domain.ProjectPlanVersion{ID: uuid.NewString(), ProjectID: projectID, Scenes: scenes}
	if err := r.sql.QueryRow(ctx, sqlinline.QInsertPlanVersion, v.ID, projectID, raw).Scan(&v.Version, &v.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert plan version: %w", err)
	}
	return &v, nil
}

var (
	_ domain.StudioReader = (*StudioRepositoryPG)(nil)
	_ domain.PlanWriter   = (*StudioRepositoryPG)(nil)
)
