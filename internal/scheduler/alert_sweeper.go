package scheduler

import (
	"context"
	"time"

	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/logger"
)

const defaultAlertSweepInterval = 15 * time.Minute

// AlertEvaluator re-evaluates stalled and leakage alerts for open deals.
type AlertEvaluator interface {
	EvaluateAlerts(ctx context.Context) (transport.AlertSweepResponse, error)
}

// AlertSweeper periodically raises and resolves pipeline alerts.
type AlertSweeper struct {
	evaluator AlertEvaluator
	log       *logger.Logger
	interval  time.Duration
}

func NewAlertSweeper(evaluator AlertEvaluator, interval time.Duration, log *logger.Logger) *AlertSweeper {
	if interval <= 0 {
		interval = defaultAlertSweepInterval
	}
	return &AlertSweeper{evaluator: evaluator, log: log, interval: interval}
}

func (s *AlertSweeper) Run(ctx context.Context) {
	if s == nil || s.evaluator == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *AlertSweeper) sweep(ctx context.Context) {
	res, err := s.evaluator.EvaluateAlerts(ctx)
	if err != nil {
		s.log.Warn("pipeline alert sweep failed", "error", err)
		return
	}

	if res.Raised > 0 || res.Resolved > 0 {
		s.log.Info("pipeline alert sweep finished",
			"evaluated", res.Evaluated, "raised", res.Raised, "refreshed", res.Refreshed, "resolved", res.Resolved)
	}
}
