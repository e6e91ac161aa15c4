// Package bootstrap wires the stores, services and handlers shared by the API
// and worker processes.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"photostudio/internal/adapter/repo"
	"photostudio/internal/artifacts"
	"photostudio/internal/composer"
	"photostudio/internal/domain"
	"photostudio/internal/generation"
	"photostudio/internal/httpclient"
	"photostudio/internal/infra"
	"photostudio/internal/infra/credentials"
	"photostudio/internal/optimizer"
	"photostudio/internal/promptpolicy"
	"photostudio/internal/providers/genai"
	"photostudio/internal/queue"
	"photostudio/internal/refimage"
	"photostudio/internal/storage"
)

// Services is the object graph of one process.
type Services struct {
	Pool      *pgxpool.Pool
	Runner    *infra.SQLRunner
	Registry  *prometheus.Registry
	Files     *storage.FileStore
	Providers *credentials.Store
	Policy    *promptpolicy.Source
	Artifacts *artifacts.Service
	Scheduler *queue.Scheduler
	Deps      generation.Deps
}

// New connects to the database and builds every service. Close releases what
// New acquired.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s, err := build(cfg, logger, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func build(cfg *infra.Config, logger infra.Logger, pool *pgxpool.Pool) (*Services, error) {
	runner := infra.NewSQLRunner(pool, logger)
	reg := infra.NewMetricsRegistry()

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	policy, err := promptpolicy.NewSource(cfg.PromptPolicyPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load prompt policy: %w", err)
	}

	providers := credentials.NewStore(runner, credentials.EnvProviders(cfg)...)
	studio := repo.NewStudioRepository(runner)
	artifactStore := repo.NewArtifactRepository(runner)

	httpClient := httpclient.New(httpclient.Options{PreferIPv4: cfg.PreferIPv4, Timeout: cfg.ProviderTimeout})
	models := genai.NewClient(genai.Options{HTTPClient: httpClient, Logger: &logger})

	artifactSvc := artifacts.New(artifacts.Options{
		Store:      artifactStore,
		Files:      files,
		Logger:     logger,
		Registerer: reg,
	})
	scheduler := queue.New(repo.NewTaskRepository(runner), queue.Options{
		PollInterval: cfg.WorkerPollInterval,
		Logger:       logger,
		Metrics:      queue.NewMetrics(reg),
	})

	deps := generation.Deps{
		Composer: composer.New(studio, policy, logger),
		Resolver: refimage.NewResolver(artifactStore, logger),
		Optimizer: optimizer.New(optimizer.Options{
			Providers:  providers,
			Text:       models,
			Logger:     logger,
			Registerer: reg,
		}),
		Providers:  providers,
		Studio:     studio,
		Plans:      studio,
		Artifacts:  artifactSvc,
		Images:     models,
		Text:       models,
		Files:      files,
		HTTPClient: httpClient,
		Logger:     logger,
	}

	return &Services{
		Pool:      pool,
		Runner:    runner,
		Registry:  reg,
		Files:     files,
		Providers: providers,
		Policy:    policy,
		Artifacts: artifactSvc,
		Scheduler: scheduler,
		Deps:      deps,
	}, nil
}

// RegisterHandlers binds the generation handlers to the scheduler.
func (s *Services) RegisterHandlers() {
	s.Scheduler.Register(domain.TaskTypeImageGeneration, generation.NewImageHandler(s.Deps))
	s.Scheduler.Register(domain.TaskTypePlanGeneration, generation.NewPlanHandler(s.Deps))
}

// Close stops the policy watcher and closes the pool.
func (s *Services) Close() {
	if s.Policy != nil {
		_ = s.Policy.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
