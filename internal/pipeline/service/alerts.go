package service

import (
	"context"
	"fmt"
	"sync"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"

	"golang.org/x/sync/errgroup"
)

// EvaluateAlerts opens or refreshes stalled and commission leakage alerts
// for every open deal and resolves alerts whose condition cleared.
func (s *Service) EvaluateAlerts(ctx context.Context) (transport.AlertSweepResponse, error) {
	rs := s.rules.Current(ctx)
	reports, err := s.healthReports(ctx, rs)
	if err != nil {
		return transport.AlertSweepResponse{}, err
	}

	out := transport.AlertSweepResponse{Evaluated: len(reports)}
	for _, r := range reports {
		checks := []struct {
			kind     repository.AlertKind
			active   bool
			severity string
			message  string
			action   string
		}{
			{repository.AlertStalled, r.Death.Stalled, string(r.Death.Severity), r.Death.Reason, r.Death.SuggestedAction},
			{repository.AlertCommissionLeakage, r.Leakage.Leakage, string(r.Leakage.Severity), r.Leakage.Message, r.Leakage.Action},
		}

		for _, c := range checks {
			if !c.active {
				resolved, err := s.repo.ResolveAlert(ctx, r.DealID, c.kind)
				if err != nil {
					return out, err
				}
				if resolved {
					out.Resolved++
				}
				continue
			}

			alert, inserted, err := s.repo.UpsertAlert(ctx, repository.UpsertAlertParams{
				DealID:   r.DealID,
				Kind:     c.kind,
				Severity: c.severity,
				Message:  c.message,
				Action:   c.action,
			})
			if err != nil {
				return out, err
			}
			if !inserted {
				out.Refreshed++
				continue
			}
			out.Raised++
			s.publish(ctx, events.PipelineAlertRaised{
				BaseEvent: events.NewBaseEvent(),
				AlertID:   alert.ID,
				DealID:    alert.DealID,
				Kind:      string(alert.Kind),
				Severity:  alert.Severity,
				Message:   alert.Message,
			})
		}
	}
	return out, nil
}

// ResyncAllDeals resyncs every deal with bounded concurrency. Per-deal
// failures are collected rather than aborting the run.
func (s *Service) ResyncAllDeals(ctx context.Context) (transport.ResyncAllResponse, error) {
	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return transport.ResyncAllResponse{}, err
	}

	var (
		mu  sync.Mutex
		out = transport.ResyncAllResponse{Evaluated: len(deals)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for _, d := range deals {
		g.Go(func() error {
			resp, err := s.ResyncDeal(gctx, d.ID, repository.TriggerResync)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed++
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", d.ID, err))
				return nil
			}
			if resp.Changed {
				out.Changed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
