package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"photostudio/internal/domain"
	"photostudio/internal/domain/jsoncfg"
	"photostudio/internal/middleware"
)

const (
	defaultTaskListLimit = 50
	maxTaskListLimit     = 200
)

// EnqueueImage queues an image-generation task. A parent artifact must exist
// before the task is accepted.
func (a *App) EnqueueImage(w http.ResponseWriter, r *http.Request) {
	var in jsoncfg.ImageGenerationInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	related := domain.Related{}
	if in.ParentArtifactID != "" {
		parent, err := a.Artifacts.Get(r.Context(), in.ParentArtifactID)
		if err != nil {
			a.fail(w, r, fmt.Errorf("parent artifact %s: %w", in.ParentArtifactID, err))
			return
		}
		if in.Owner == nil {
			owner := parent.Owner
			in.Owner = &owner
		}
	}
	switch {
	case in.Owner != nil:
		related = domain.Related{ID: in.Owner.ID, Meta: in.Owner.Key()}
	case in.ProjectID != "":
		related = domain.Related{ID: in.ProjectID, Meta: "project"}
	}
	a.enqueue(w, r, &in, related)
}

// EnqueuePlan queues a plan-generation task for a project.
func (a *App) EnqueuePlan(w http.ResponseWriter, r *http.Request) {
	var in jsoncfg.PlanGenerationInput
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	a.enqueue(w, r, in, domain.Related{ID: in.ProjectID, Meta: "project"})
}

func (a *App) enqueue(w http.ResponseWriter, r *http.Request, in jsoncfg.Input, related domain.Related) {
	task, err := a.Tasks.Enqueue(r.Context(), in, related)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().
		Str("task_id", task.ID).
		Str("task_type", string(task.Type)).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("api: task queued")
	a.json(w, http.StatusAccepted, task)
}

func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		Status:    domain.TaskStatus(strings.TrimSpace(q.Get("status"))),
		Type:      domain.TaskType(strings.TrimSpace(q.Get("type"))),
		RelatedID: strings.TrimSpace(q.Get("related_id")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 {
		filter.Limit = defaultTaskListLimit
	}
	if filter.Limit > maxTaskListLimit {
		filter.Limit = maxTaskListLimit
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	tasks, err := a.Tasks.List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": tasks})
}

func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, task)
}

func (a *App) RetryTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.Tasks.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, task)
}

func (a *App) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
