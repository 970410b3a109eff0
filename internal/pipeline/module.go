// Package pipeline provides the stage engine bounded context module.
// This file defines the module that wires the engine service and mounts its routes.
package pipeline

import (
	"context"

	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/handler"
	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/service"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the stage engine module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	outbox  *outbox.Repository
}

// NewModule creates the stage engine module. rules supplies the published
// ruleset snapshot for every computation.
func NewModule(pool *pgxpool.Pool, rules service.RulesetSource, locks locker.Locker, eventBus events.Bus, val *validator.Validator, log *logger.Logger, opts ...service.Option) (*Module, error) {
	if err := val.RegisterOneOf("stage", domain.IsKnownStage); err != nil {
		return nil, err
	}

	repo := repository.New(pool)
	outboxRepo := outbox.New(pool)
	svc := service.New(repo, rules, locks, outboxRepo, eventBus, log, opts...)

	eventBus.Subscribe(events.DealSyncFailed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.DealSyncFailed)
		if !ok || !e.Exhausted {
			return nil
		}
		log.Error("deal sync gave up; deal needs a manual resync",
			"dealId", e.DealID.String(), "attempt", e.Attempt, "error", e.Error)
		return nil
	}))

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		outbox:  outboxRepo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the engine service for the scheduler and CLI.
func (m *Module) Service() *service.Service {
	return m.service
}

// Outbox returns the deal sync outbox repository.
func (m *Module) Outbox() *outbox.Repository {
	return m.outbox
}

// RegisterRoutes mounts stage engine routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/stage-engine"))
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/stage-engine"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
