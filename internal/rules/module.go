// Package rules provides the rule administration bounded context module.
// It owns the override, sync, lock and settings tables and publishes the
// versioned ruleset the pipeline module computes with.
package rules

import (
	"context"

	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/handler"
	"pipeline_backend/internal/rules/repository"
	"pipeline_backend/internal/rules/service"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the rules module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the rules module. Bootstrap must run before the
// provider is handed to the pipeline module.
func NewModule(pool *pgxpool.Pool, locks locker.Locker, eventBus events.Bus, val *validator.Validator, log *logger.Logger, opts ...service.Option) (*Module, error) {
	if err := val.RegisterOneOf("stage", domain.IsKnownStage); err != nil {
		return nil, err
	}

	provider := service.NewProvider(domain.DefaultRuleset())
	svc := service.New(repository.New(pool), provider, locks, eventBus, log, opts...)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}, nil
}

// Bootstrap installs the latest ruleset, seeding defaults on first start.
func (m *Module) Bootstrap(ctx context.Context) (domain.Ruleset, error) {
	return m.service.Bootstrap(ctx)
}

// Provider returns the ruleset source for the pipeline engine.
func (m *Module) Provider() *service.Provider {
	return m.service.Provider()
}

// Service returns the rules service for background refresh.
func (m *Module) Service() *service.Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "rules"
}

// RegisterRoutes mounts rule administration under the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/stage-engine"))
}

var _ apphttp.Module = (*Module)(nil)
