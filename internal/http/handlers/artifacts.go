package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"photostudio/internal/domain"
)

// ownerFromQuery reads owner_type, owner_id and slot.
func ownerFromQuery(r *http.Request) (domain.Owner, error) {
	q := r.URL.Query()
	owner := domain.Owner{
		Type: domain.OwnerType(strings.TrimSpace(q.Get("owner_type"))),
		ID:   strings.TrimSpace(q.Get("owner_id")),
		Slot: strings.TrimSpace(q.Get("slot")),
	}
	if !owner.Type.Valid() || owner.ID == "" {
		return owner, fmt.Errorf("%w: owner_type and owner_id are required", domain.ErrInvalidInput)
	}
	return owner, nil
}

func (a *App) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted"))
	items, err := a.Artifacts.List(r.Context(), owner, includeDeleted)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Artifact{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := a.Artifacts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, artifact)
}

func (a *App) SetCurrentArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := a.Artifacts.SetCurrent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, artifact)
}

// DeleteArtifact soft-deletes an artifact and removes its stored file unless
// delete_file=false.
func (a *App) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	deleteFile := true
	if raw := r.URL.Query().Get("delete_file"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: delete_file must be a boolean", domain.ErrInvalidInput))
			return
		}
		deleteFile = v
	}
	res, err := a.Artifacts.Delete(r.Context(), chi.URLParam(r, "id"), deleteFile)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) CleanupArtifacts(w http.ResponseWriter, r *http.Request) {
	report, err := a.Artifacts.Cleanup(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"count": report.Count, "bytesFreed": report.BytesFreed})
}

// ExportArtifacts streams the live artifacts of an owner as a zip archive.
func (a *App) ExportArtifacts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if _, err := a.Artifacts.Export(r.Context(), owner, &buf); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.zip", owner.Type, owner.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
