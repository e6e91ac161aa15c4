package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"photostudio/internal/bootstrap"
	"photostudio/internal/infra"
	"photostudio/internal/lock"
)

// shutdownGrace bounds how long Stop waits for the in-flight task.
const shutdownGrace = 30 * time.Second

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One worker per database: recovery fails every running task.
	if cfg.WorkerLockPath != "" {
		fl := lock.NewFileLock(cfg.WorkerLockPath)
		if err := fl.TryLock(); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.WorkerLockPath).Msg("worker: lock held")
		}
		defer fl.Unlock()
	}

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	if err := svc.Policy.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("worker: prompt policy watch disabled")
	}

	svc.RegisterHandlers()

	var scheduler *cron.Cron
	if cfg.ArtifactCleanupSchedule != "" {
		scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := svc.Artifacts.ScheduleCleanup(ctx, scheduler, cfg.ArtifactCleanupSchedule); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.ArtifactCleanupSchedule).Msg("worker: invalid cleanup schedule")
		}
		scheduler.Start()
		logger.Info().Str("schedule", cfg.ArtifactCleanupSchedule).Msg("worker: artifact cleanup scheduled")
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	metricsDone := make(chan struct{})
	metrics := infra.NewHTTPServer(cfg.MetricsAddr, cfg, infra.MetricsHandler(svc.Registry))
	go func() {
		defer close(metricsDone)
		if err := metrics.Run(metricsCtx, shutdownGrace); err != nil {
			logger.Error().Err(err).Str("addr", metrics.Addr()).Msg("worker: metrics server failed")
		}
	}()

	if err := svc.Scheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: scheduler start failed")
	}
	logger.Info().Dur("poll_interval", cfg.WorkerPollInterval).Msg("worker: started")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := svc.Scheduler.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("worker: scheduler stop timed out")
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	stopMetrics()
	<-metricsDone
	logger.Info().Msg("worker: stopped")
}
