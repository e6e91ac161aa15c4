package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"photostudio/internal/artifacts"
	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/generation"
	"photostudio/internal/infra"
)

// TaskService is the queue surface the API needs.
type TaskService interface {
	Enqueue(ctx context.Context, in jsoncfg.Input, related domain.Related) (*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	Retry(ctx context.Context, id string) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
}

// ArtifactService is the artifact surface the API needs.
type ArtifactService interface {
	Get(ctx context.Context, id string) (*domain.Artifact, error)
	List(ctx context.Context, owner domain.Owner, includeDeleted bool) ([]domain.Artifact, error)
	SetCurrent(ctx context.Context, id string) (*domain.Artifact, error)
	Delete(ctx context.Context, id string, deleteFile bool) (*artifacts.DeleteResult, error)
	Cleanup(ctx context.Context) (artifacts.CleanupReport, error)
	Export(ctx context.Context, owner domain.Owner, w io.Writer) (int, error)
}

// Previewer prepares an image request without generating it.
type Previewer interface {
	Prepare(ctx context.Context, in jsoncfg.ImageGenerationInput, requestID string) (*generation.Prepared, error)
}

// Pinger reports whether the backing database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Tasks     TaskService
	Artifacts ArtifactService
	Preview   Previewer
	DB        Pinger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

// fail maps a service error onto a status code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("api: request failed")
	}
	a.error(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskRunning), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedOwner), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
