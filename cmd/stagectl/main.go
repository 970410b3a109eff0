package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pipeline_backend/internal/adapters/storage"
	"pipeline_backend/internal/cli"
	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline"
	"pipeline_backend/internal/rules"
	rulesservice "pipeline_backend/internal/rules/service"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{Connect: connect}
	code := cli.Execute(ctx, app, os.Args[1:])
	stop()
	os.Exit(code)
}

// connect wires the engine the same way the scheduler does, minus the
// queue. Logs go to stderr so command output stays clean.
func connect(ctx context.Context, app *cli.App) (func(), error) {
	cfg, err := config.LoadTool()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(cfg.Env, os.Stderr)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	locks, closeLocks, err := locker.New(cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	release := func() {
		eventBus.Wait()
		_ = closeLocks()
		pool.Close()
	}

	var opts []rulesservice.Option
	if cfg.IsMinIOEnabled() {
		archive, err := storage.NewMinIOService(cfg)
		if err != nil {
			release()
			return nil, err
		}
		opts = append(opts, rulesservice.WithArchive(archive, cfg.GetMinioBucketRulesets()))
	}

	rulesModule, err := rules.NewModule(pool, locks, eventBus, val, log, opts...)
	if err != nil {
		release()
		return nil, err
	}
	if _, err := rulesModule.Bootstrap(ctx); err != nil {
		release()
		return nil, err
	}

	pipelineModule, err := pipeline.NewModule(pool, rulesModule.Provider(), locks, eventBus, val, log)
	if err != nil {
		release()
		return nil, err
	}

	app.Engine = pipelineModule.Service()
	app.Rules = rulesModule.Service()
	return release, nil
}
