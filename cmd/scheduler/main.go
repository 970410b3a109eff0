package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline"
	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/rules"
	"pipeline_backend/internal/scheduler"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	locks, closeLocks, err := locker.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize entity locker", "error", err)
		panic("failed to initialize entity locker: " + err.Error())
	}
	defer func() { _ = closeLocks() }()

	val := validator.New()

	// Worker-side engine wiring (no HTTP handlers required).
	rulesModule, err := rules.NewModule(pool, locks, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize rules module", "error", err)
		panic("failed to initialize rules module: " + err.Error())
	}
	if err := withRetry(ctx, log, "ruleset load", 5, 2*time.Second, func() error {
		_, err := rulesModule.Bootstrap(ctx)
		return err
	}); err != nil {
		log.Error("failed to load ruleset", "error", err)
		panic("failed to load ruleset: " + err.Error())
	}
	go rulesModule.Service().Watch(ctx, cfg.GetRulesetRefreshInterval())

	pipelineModule, err := pipeline.NewModule(pool, rulesModule.Provider(), locks, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}
	engine := pipelineModule.Service()

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	dispatcher := scheduler.NewDealSyncDispatcher(client, pipelineModule.Outbox(), cfg.GetOutboxPollInterval(), log)
	go dispatcher.Run(ctx)

	sweeper := scheduler.NewAlertSweeper(engine, cfg.GetAlertSweepInterval(), log)
	go sweeper.Run(ctx)

	processor := outbox.NewProcessor(pipelineModule.Outbox(), engine.ResyncFromOutbox, eventBus, cfg.GetDealSyncMaxAttempts(), log)
	worker, err := scheduler.NewWorker(cfg, processor, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
