// Package service sequences the pure stage engine against persistence:
// classify, lock check, lead write, then the deal cascade. It also serves
// the read-only aging, health and forecast dashboards.
package service

import (
	"context"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// RulesetSource returns the currently published ruleset snapshot.
type RulesetSource interface {
	Current(ctx context.Context) domain.Ruleset
}

const defaultFanout = 8

type Service struct {
	repo   repository.Repository
	rules  RulesetSource
	locks  locker.Locker
	outbox outbox.Store
	bus    events.Bus
	log    *logger.Logger
	now    func() time.Time
	fanout int
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFanout limits how many deals batch analytics evaluate concurrently.
func WithFanout(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanout = n
		}
	}
}

func New(repo repository.Repository, rules RulesetSource, locks locker.Locker, store outbox.Store, bus events.Bus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		rules:  rules,
		locks:  locks,
		outbox: store,
		bus:    bus,
		log:    log,
		now:    time.Now,
		fanout: defaultFanout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func leadKey(id uuid.UUID) string { return "lead:" + id.String() }

func dealKey(id uuid.UUID) string { return "deal:" + id.String() }

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, evt)
	}
}
