// Package cli implements stagectl, the operator command line for the stage
// engine. Commands run against the same services the API and scheduler use.
package cli

import (
	"context"
	"errors"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"
	rulestransport "pipeline_backend/internal/rules/transport"
)

// Engine is the subset of the pipeline service stagectl drives.
type Engine interface {
	ResyncAllDeals(ctx context.Context) (transport.ResyncAllResponse, error)
	RecalculateLastActivity(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error)
	Density(ctx context.Context, entity repository.EntityType) (domain.DensityReport, error)
	Forecast(ctx context.Context) (transport.ForecastResponse, error)
	StalledDeals(ctx context.Context, stageDays, idleDays int) (transport.StalledListResponse, error)
	Classify(ctx context.Context, req transport.ClassifyRequest) (transport.ClassifyResponse, error)
	EvaluateAlerts(ctx context.Context) (transport.AlertSweepResponse, error)
}

// RulesReader exposes the published ruleset.
type RulesReader interface {
	CurrentRuleset(ctx context.Context) (rulestransport.RulesetResponse, error)
}

// ConnectFunc wires Engine and Rules on app and returns a release func.
type ConnectFunc func(ctx context.Context, app *App) (func(), error)

// App holds the dependencies shared by every command.
//
// Production leaves Engine and Rules nil and sets Connect, so the database is
// only dialled once a command actually runs. Tests set Engine and Rules
// directly.
type App struct {
	Engine  Engine
	Rules   RulesReader
	Connect ConnectFunc

	release func()
}

var errNotConnected = errors.New("stage engine is not configured")

func (a *App) connect(ctx context.Context) error {
	if a.Engine != nil || a.Connect == nil {
		return nil
	}
	release, err := a.Connect(ctx, a)
	if err != nil {
		return err
	}
	a.release = release
	return nil
}

// Close releases whatever Connect acquired. Safe to call more than once.
func (a *App) Close() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
}

func (a *App) engine() (Engine, error) {
	if a.Engine == nil {
		return nil, errNotConnected
	}
	return a.Engine, nil
}
