package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"photostudio/internal/http/handlers"
	"photostudio/internal/middleware"
)

// Options configures the router. Metrics may be nil.
type Options struct {
	RateLimitPerMin int
	AllowedOrigins  []string
	Metrics         http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	enqueueLimit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", app.ListTasks)
		r.With(enqueueLimit).Post("/images", app.EnqueueImage)
		r.With(enqueueLimit).Post("/plans", app.EnqueuePlan)
		r.Get("/{id}", app.GetTask)
		r.Delete("/{id}", app.DeleteTask)
		r.Post("/{id}/retry", app.RetryTask)
	})

	r.Route("/v1/artifacts", func(r chi.Router) {
		r.Get("/", app.ListArtifacts)
		r.Get("/export", app.ExportArtifacts)
		r.Post("/cleanup", app.CleanupArtifacts)
		r.Get("/{id}", app.GetArtifact)
		r.Delete("/{id}", app.DeleteArtifact)
		r.Post("/{id}/current", app.SetCurrentArtifact)
	})

	r.Post("/v1/prompts/preview", app.PromptPreview)

	return r
}
