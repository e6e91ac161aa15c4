package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"photostudio/internal/bootstrap"
	"photostudio/internal/generation"
	"photostudio/internal/http/handlers"
	"photostudio/internal/http/httpapi"
	"photostudio/internal/infra"
)

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	if err := svc.Policy.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: prompt policy watch disabled")
	}

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Tasks:     svc.Scheduler,
		Artifacts: svc.Artifacts,
		Preview:   generation.NewPipeline(svc.Deps),
		DB:        svc.Pool,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		Metrics:         infra.MetricsHandler(svc.Registry),
	})
	server := infra.NewHTTPServer("", cfg, router)

	logger.Info().Str("addr", server.Addr()).Msg("api: listening")
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
	}
	logger.Info().Msg("api: stopped")
}
