package service

import (
	"context"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"

	"github.com/google/uuid"
)

// Classify runs the classifier without writing anything. When a lead id is
// given its persisted stage and counters feed the lock check; otherwise the
// request's own figures are used.
func (s *Service) Classify(ctx context.Context, req transport.ClassifyRequest) (transport.ClassifyResponse, error) {
	rs := s.rules.Current(ctx)
	class := domain.Classify(req.ActivityType, req.Purpose, req.Outcome, rs.OverrideRules, rs.OutcomeMappings)

	resp := transport.ClassifyResponse{
		Classification: class,
		WinProbability: rs.WinProbability(class.Stage),
		RulesetVersion: rs.Version,
	}

	current := domain.Stage(req.CurrentStage)
	activities, days := req.ActivitiesInStage, req.DaysInStage
	if req.LeadID != nil {
		lead, err := s.repo.GetLead(ctx, *req.LeadID)
		if err != nil {
			return transport.ClassifyResponse{}, err
		}
		current = lead.Stage
		activities = lead.ActivitiesInStage
		since := lead.CreatedAt
		if lead.StageChangedAt != nil {
			since = *lead.StageChangedAt
		}
		days = domain.DaysBetween(since, s.clock())
	}

	if current != "" {
		verdict := domain.ValidateStageTransition(current, class.Stage, activities, days, rs.StabilityLocks)
		resp.CurrentStage = current
		resp.Transition = &verdict
	}
	return resp, nil
}

// GetHistory returns an entity's stage timeline, oldest first.
func (s *Service) GetHistory(ctx context.Context, entityType repository.EntityType, id uuid.UUID) (transport.HistoryResponse, error) {
	h, err := s.repo.GetHistory(ctx, entityType, id)
	if err != nil {
		return transport.HistoryResponse{}, err
	}

	entries := make([]transport.HistoryEntryResponse, 0, len(h.StageHistory))
	for _, e := range h.StageHistory {
		entries = append(entries, transport.HistoryEntryResponse{
			Stage:          e.Stage,
			PreviousStage:  e.PreviousStage,
			EnteredAt:      e.EnteredAt,
			ExitedAt:       e.ExitedAt,
			DaysInStage:    e.DaysInStage,
			TriggeredBy:    string(e.TriggeredBy),
			ActivityType:   e.ActivityType,
			Outcome:        e.Outcome,
			Reason:         e.Reason,
			ActivityID:     e.ActivityID,
			UserID:         e.UserID,
			RulesetVersion: e.RulesetVersion,
		})
	}
	return transport.HistoryResponse{CurrentStage: h.CurrentStage, StageHistory: entries}, nil
}
