package handlers_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"photostudio/internal/adapter/memstore"
	"photostudio/internal/artifacts"
	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/generation"
	"photostudio/internal/http/handlers"
	"photostudio/internal/http/httpapi"
	"photostudio/internal/optimizer"
	"photostudio/internal/queue"
	"photostudio/internal/refimage"
	"photostudio/internal/storage"
)

type testAPI struct {
	router    http.Handler
	tasks     *memstore.Tasks
	artifacts *artifacts.Service
	files     *storage.FileStore
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()
	logger := zerolog.Nop()
	studio := memstore.NewStudio()
	studio.AddProject(domain.Project{ID: "proj-1", Title: "Family", Prompt: "Autumn session", SceneAssetID: "scene-1"})
	studio.AddScene(domain.SceneAsset{ID: "scene-1", Name: "Park", ReferenceImages: []string{"/uploads/park.jpg"}})
	studio.AddScene(domain.SceneAsset{ID: "scene-2", Name: "Beach"})

	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := memstore.NewArtifacts(studio)
	svc := artifacts.New(artifacts.Options{Store: store, Files: files, Logger: logger})
	tasks := memstore.NewTasks()

	pipeline := generation.NewPipeline(generation.Deps{
		Composer:  composer.New(studio, nil, logger),
		Resolver:  refimage.NewResolver(store, logger),
		Optimizer: optimizer.New(optimizer.Options{Providers: studio, Logger: logger}),
		Providers: studio,
		Studio:    studio,
		Artifacts: svc,
		Files:     files,
		Logger:    logger,
	})
	app := &handlers.App{
		Logger:    logger,
		Tasks:     queue.New(tasks, queue.Options{Logger: logger}),
		Artifacts: svc,
		Preview:   pipeline,
	}
	return &testAPI{
		router:    httpapi.NewRouter(app, httpapi.Options{RateLimitPerMin: rateLimit}),
		tasks:     tasks,
		artifacts: svc,
		files:     files,
	}
}

func (api *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func (api *testAPI) record(t *testing.T, owner domain.Owner, key string) *domain.Artifact {
	t.Helper()
	if _, err := api.files.Write(context.Background(), key, []byte("img:"+key)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	a := &domain.Artifact{RunID: "run-" + key[len(key)-5:], FilePath: "/" + key, MimeType: "image/png", Owner: owner}
	if err := api.artifacts.Record(context.Background(), a); err != nil {
		t.Fatalf("record: %v", err)
	}
	return a
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, want, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, 0)
	rec := api.do(t, http.MethodGet, "/v1/healthz", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestEnqueueImageTask(t *testing.T) {
	api := newTestAPI(t, 0)

	rec := api.do(t, http.MethodPost, "/v1/tasks/images", `{"draftPrompt":"sunset","owner":{"type":"asset","id":"scene-1"}}`)
	expectStatus(t, rec, http.StatusAccepted)
	task := decodeBody[domain.Task](t, rec)
	if task.Status != domain.TaskStatusPending || task.Type != domain.TaskTypeImageGeneration {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.RelatedID == nil || *task.RelatedID != "scene-1" {
		t.Fatalf("related id = %v", task.RelatedID)
	}
	var stored map[string]any
	if err := json.Unmarshal(task.Input, &stored); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if stored["aspectRatio"] != "1:1" {
		t.Fatalf("aspect ratio default not applied: %v", stored)
	}

	rec = api.do(t, http.MethodGet, "/v1/tasks/"+task.ID, "")
	expectStatus(t, rec, http.StatusOK)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	api := newTestAPI(t, 0)
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad aspect ratio", "/v1/tasks/images", `{"draftPrompt":"x","aspectRatio":"2:1"}`, http.StatusUnprocessableEntity},
		{"empty request", "/v1/tasks/images", `{}`, http.StatusUnprocessableEntity},
		{"unknown field", "/v1/tasks/images", `{"prompt":"x"}`, http.StatusUnprocessableEntity},
		{"missing parent", "/v1/tasks/images", `{"editInstruction":"fog","parentArtifactId":"nope"}`, http.StatusNotFound},
		{"plan without project", "/v1/tasks/plans", `{"sceneCount":3}`, http.StatusUnprocessableEntity},
		{"plan too many scenes", "/v1/tasks/plans", `{"projectId":"proj-1","sceneCount":99}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, tc.path, tc.body)
			expectStatus(t, rec, tc.want)
			body := decodeBody[map[string]string](t, rec)
			if body["error"] == "" {
				t.Fatalf("missing error message: %s", rec.Body.String())
			}
		})
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t, 0)
	rec := api.do(t, http.MethodPost, "/v1/tasks/plans", `{"projectId":"proj-1"}`)
	expectStatus(t, rec, http.StatusAccepted)
	task := decodeBody[domain.Task](t, rec)

	expectStatus(t, api.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/retry", ""), http.StatusConflict)

	claimed, err := api.tasks.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectStatus(t, api.do(t, http.MethodDelete, "/v1/tasks/"+task.ID, ""), http.StatusConflict)

	if err := api.tasks.Fail(context.Background(), claimed.ID, "provider failure"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	rec = api.do(t, http.MethodGet, "/v1/tasks?status=failed", "")
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[struct{ Items []domain.Task }](t, rec)
	if len(list.Items) != 1 || list.Items[0].ID != task.ID {
		t.Fatalf("failed list = %+v", list.Items)
	}

	rec = api.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/retry", "")
	expectStatus(t, rec, http.StatusOK)
	retried := decodeBody[domain.Task](t, rec)
	if retried.Status != domain.TaskStatusPending || retried.Error != nil || (len(retried.Output) > 0 && string(retried.Output) != "null") {
		t.Fatalf("retried task = %+v", retried)
	}

	expectStatus(t, api.do(t, http.MethodDelete, "/v1/tasks/"+task.ID, ""), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodGet, "/v1/tasks/"+task.ID, ""), http.StatusNotFound)
}

func TestArtifactEndpoints(t *testing.T) {
	api := newTestAPI(t, 0)
	owner := domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}
	older := api.record(t, owner, "generated/images/a/asset-01.png")
	newer := api.record(t, owner, "generated/images/b/asset-01.png")

	rec := api.do(t, http.MethodGet, "/v1/artifacts?owner_type=asset&owner_id=scene-1", "")
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[struct{ Items []domain.Artifact }](t, rec)
	if len(list.Items) != 2 || list.Items[0].ID != newer.ID {
		t.Fatalf("list = %+v", list.Items)
	}

	expectStatus(t, api.do(t, http.MethodGet, "/v1/artifacts?owner_type=folder&owner_id=x", ""), http.StatusUnprocessableEntity)
	expectStatus(t, api.do(t, http.MethodPost, "/v1/artifacts/"+newer.ID+"/current", ""), http.StatusOK)

	rec = api.do(t, http.MethodDelete, "/v1/artifacts/"+newer.ID+"?delete_file=true", "")
	expectStatus(t, rec, http.StatusOK)
	res := decodeBody[artifacts.DeleteResult](t, rec)
	if !res.WasCurrent || res.Promoted == nil || res.Promoted.ID != older.ID {
		t.Fatalf("delete result = %+v", res)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/v1/artifacts/"+newer.ID+"/current", ""), http.StatusConflict)
	expectStatus(t, api.do(t, http.MethodPost, "/v1/artifacts/missing/current", ""), http.StatusNotFound)

	rec = api.do(t, http.MethodPost, "/v1/artifacts/cleanup", "")
	expectStatus(t, rec, http.StatusOK)
	report := decodeBody[map[string]int64](t, rec)
	if report["count"] != 1 {
		t.Fatalf("cleanup report = %v", report)
	}

	plan := domain.Owner{Type: domain.OwnerTypePlanScene, ID: "plan-1", Slot: domain.SceneSlot(0)}
	scene := api.record(t, plan, "generated/images/c/planScene-01.png")
	expectStatus(t, api.do(t, http.MethodPost, "/v1/artifacts/"+scene.ID+"/current", ""), http.StatusUnprocessableEntity)
}

func TestDeleteArtifactRemovesFileByDefault(t *testing.T) {
	api := newTestAPI(t, 0)
	owner := domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}
	kept := api.record(t, owner, "generated/images/k/asset-01.png")
	removed := api.record(t, owner, "generated/images/r/asset-01.png")

	expectStatus(t, api.do(t, http.MethodDelete, "/v1/artifacts/"+kept.ID+"?delete_file=nope", ""), http.StatusUnprocessableEntity)

	expectStatus(t, api.do(t, http.MethodDelete, "/v1/artifacts/"+kept.ID+"?delete_file=false", ""), http.StatusOK)
	if _, err := api.files.Size(kept.FilePath); err != nil {
		t.Fatalf("delete_file=false removed the file: %v", err)
	}

	expectStatus(t, api.do(t, http.MethodDelete, "/v1/artifacts/"+removed.ID, ""), http.StatusOK)
	if _, err := api.files.Size(removed.FilePath); err == nil {
		t.Fatal("delete without delete_file kept the file")
	}
}

func TestExportArtifacts(t *testing.T) {
	api := newTestAPI(t, 0)
	owner := domain.Owner{Type: domain.OwnerTypeAsset, ID: "scene-1"}
	api.record(t, owner, "generated/images/a/asset-01.png")

	rec := api.do(t, http.MethodGet, "/v1/artifacts/export?owner_type=asset&owner_id=scene-1", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("zip entries = %d", len(zr.File))
	}

	expectStatus(t, api.do(t, http.MethodGet, "/v1/artifacts/export?owner_type=asset&owner_id=scene-2", ""), http.StatusNotFound)
}

func TestPromptPreview(t *testing.T) {
	api := newTestAPI(t, 0)
	rec := api.do(t, http.MethodPost, "/v1/prompts/preview", `{"draftPrompt":"golden hour","projectId":"proj-1"}`)
	expectStatus(t, rec, http.StatusOK)

	var body struct {
		EffectivePrompt string
		RenderPrompt    string
		Blocks          []composer.Block
		SceneImages     []string
		Optimizer       struct{ Status, Reason string }
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.EffectivePrompt, "golden hour") || !strings.Contains(body.EffectivePrompt, "Autumn session") {
		t.Fatalf("effective prompt = %q", body.EffectivePrompt)
	}
	if body.Optimizer.Status != optimizer.StatusSkipped || body.Optimizer.Reason != optimizer.ReasonDisabled {
		t.Fatalf("optimizer = %+v", body.Optimizer)
	}
	if len(body.SceneImages) != 1 || body.SceneImages[0] != "/uploads/park.jpg" {
		t.Fatalf("scene images = %v", body.SceneImages)
	}
	if !strings.Contains(body.RenderPrompt, optimizer.BindingMarker) {
		t.Fatalf("render prompt lacks binding: %q", body.RenderPrompt)
	}
	if len(body.Blocks) == 0 || body.Blocks[0].Kind != domain.BlockStudioPolicy {
		t.Fatalf("blocks = %+v", body.Blocks)
	}

	rec = api.do(t, http.MethodPost, "/v1/prompts/preview", `{"draftPrompt":"x","optimize":true}`)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), optimizer.ReasonNoTextProvider) {
		t.Fatalf("expected no text provider skip, got %s", rec.Body.String())
	}
}

func TestEnqueueRateLimited(t *testing.T) {
	api := newTestAPI(t, 1)
	expectStatus(t, api.do(t, http.MethodPost, "/v1/tasks/plans", `{"projectId":"proj-1"}`), http.StatusAccepted)
	expectStatus(t, api.do(t, http.MethodPost, "/v1/tasks/plans", `{"projectId":"proj-1"}`), http.StatusTooManyRequests)
	expectStatus(t, api.do(t, http.MethodGet, "/v1/tasks", ""), http.StatusOK)
}
