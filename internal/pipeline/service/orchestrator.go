package service

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"

	"github.com/google/uuid"
)

const (
	reasonNotCompleted  = "Activity not completed; stage unchanged"
	reasonStageSame     = "Computed stage equals current stage"
	reasonStageChanged  = "Stage updated from activity outcome"
	cascadeOutboxReason = "lead stage cascade failed"
)

// RecordLeadActivity stores an activity on a lead and, when it is
// completed, runs the stage pipeline: classify, stability lock, lead write
// and the deal cascade. Only an unknown lead or a failed activity insert is
// returned as an error. Once the activity is saved, lock and stage write
// failures are reported in the response.
func (s *Service) RecordLeadActivity(ctx context.Context, leadID uuid.UUID, userID *uuid.UUID, req transport.RecordActivityRequest) (transport.StageUpdateResponse, error) {
	rs := s.rules.Current(ctx)

	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return transport.StageUpdateResponse{}, err
	}

	now := s.clock()
	act, err := s.repo.CreateActivity(ctx, activityParams(repository.EntityLead, leadID, userID, req, now))
	if err != nil {
		return transport.StageUpdateResponse{}, err
	}

	resp := transport.StageUpdateResponse{
		ActivityID:     act.ID,
		RulesetVersion: rs.Version,
		Lead: transport.LeadStageResponse{
			LeadID:        lead.ID,
			PreviousStage: lead.Stage,
			ComputedStage: lead.Stage,
			Stage:         lead.Stage,
		},
	}

	if act.Status != domain.ActivityStatusCompleted {
		resp.Lead.Reason = reasonNotCompleted
		return resp, nil
	}

	unlock, err := s.locks.Lock(ctx, leadKey(leadID))
	if err != nil {
		s.log.Error("lead lock unavailable; stage not recomputed", "leadId", leadID.String(), "error", err)
		resp.Lead.Error = fmt.Sprintf("lock lead: %v", err)
		return resp, nil
	}
	defer unlock()

	// Re-read under the lock so counters include concurrent completions.
	lead, err = s.repo.GetLead(ctx, leadID)
	if err != nil {
		s.log.DatabaseError("get lead", err)
		resp.Lead.Error = err.Error()
		return resp, nil
	}

	resp.Lead = s.applyLeadStage(ctx, lead, act, userID, rs, now)

	if resp.Lead.Changed && lead.DealID != nil {
		deal := s.cascade(ctx, lead.ID, *lead.DealID, act, userID, rs)
		resp.Deal = &deal
	}
	return resp, nil
}

// applyLeadStage must be called with the lead lock held.
func (s *Service) applyLeadStage(ctx context.Context, lead repository.Lead, act repository.Activity, userID *uuid.UUID, rs domain.Ruleset, now time.Time) transport.LeadStageResponse {
	class := domain.Classify(act.Type, act.Purpose, act.Outcome, rs.OverrideRules, rs.OutcomeMappings)
	out := transport.LeadStageResponse{
		LeadID:        lead.ID,
		PreviousStage: lead.Stage,
		ComputedStage: class.Stage,
		Stage:         lead.Stage,
		Source:        class.Source,
		RuleID:        class.RuleID,
	}
	at := activityTime(act)

	if class.Stage == lead.Stage {
		out.Reason = reasonStageSame
		if _, err := s.repo.RecordLeadActivity(ctx, lead.ID, at); err != nil {
			s.log.DatabaseError("record lead activity", err)
			out.Error = err.Error()
			return out
		}
		out.Saved = true
		return out
	}

	since := lead.CreatedAt
	if lead.StageChangedAt != nil {
		since = *lead.StageChangedAt
	}
	days := domain.DaysBetween(since, now)

	verdict := domain.ValidateStageTransition(lead.Stage, class.Stage, lead.ActivitiesInStage, days, rs.StabilityLocks)
	if !verdict.Allowed {
		s.log.StageLockDenied(lead.ID.String(), string(lead.Stage), string(class.Stage), verdict.Reason)
		out.Blocked = true
		out.Reason = verdict.Reason
		if _, err := s.repo.RecordLeadActivity(ctx, lead.ID, at); err != nil {
			s.log.DatabaseError("record lead activity", err)
			out.Error = err.Error()
		} else {
			out.Saved = true
		}
		s.publish(ctx, events.StageChangeBlocked{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Current:   string(lead.Stage),
			Proposed:  string(class.Stage),
			Reason:    verdict.Reason,
		})
		return out
	}

	actID := act.ID
	meta := repository.StageChangeMeta{
		TriggeredBy:    repository.TriggerActivity,
		ActivityID:     &actID,
		ActivityType:   act.Type,
		Outcome:        act.Outcome,
		Reason:         verdict.Reason,
		UserID:         userID,
		RulesetVersion: rs.Version,
	}
	if _, err := s.repo.SetLeadStage(ctx, lead.ID, class.Stage, meta); err != nil {
		s.log.DatabaseError("set lead stage", err)
		out.Reason = reasonStageChanged
		out.Error = err.Error()
		return out
	}

	out.Stage = class.Stage
	out.Changed = true
	out.Saved = true
	out.Reason = reasonStageChanged
	s.log.StageTransition(string(repository.EntityLead), lead.ID.String(), string(lead.Stage), string(class.Stage),
		string(repository.TriggerActivity), rs.Version)
	s.publish(ctx, events.LeadStageChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         lead.ID,
		DealID:         lead.DealID,
		PreviousStage:  string(lead.Stage),
		Stage:          string(class.Stage),
		ActivityID:     &actID,
		RulesetVersion: rs.Version,
	})
	return out
}

// cascade re-derives the deal stage after a lead changed. It runs with the
// lead lock held and takes the deal lock, so the lock order is always lead
// then deal. Failures are queued for retry and never undo the lead write.
func (s *Service) cascade(ctx context.Context, leadID, dealID uuid.UUID, act repository.Activity, userID *uuid.UUID, rs domain.Ruleset) transport.DealSyncResponse {
	actID := act.ID
	meta := repository.StageChangeMeta{
		TriggeredBy:    repository.TriggerActivity,
		ActivityID:     &actID,
		ActivityType:   act.Type,
		Outcome:        act.Outcome,
		UserID:         userID,
		RulesetVersion: rs.Version,
	}

	unlock, err := s.locks.Lock(ctx, dealKey(dealID))
	if err != nil {
		return s.queueFailedSync(ctx, &leadID, transport.DealSyncResponse{DealID: dealID}, fmt.Errorf("lock deal: %w", err))
	}
	defer unlock()

	resp, err := s.syncDealLocked(ctx, dealID, rs, meta)
	if err != nil {
		return s.queueFailedSync(ctx, &leadID, resp, err)
	}
	return resp
}

// queueFailedSync records a failed deal sync in the outbox so the scheduler
// retries it.
func (s *Service) queueFailedSync(ctx context.Context, leadID *uuid.UUID, resp transport.DealSyncResponse, syncErr error) transport.DealSyncResponse {
	lead := ""
	if leadID != nil {
		lead = leadID.String()
	}
	s.log.CascadeFailed(lead, resp.DealID.String(), syncErr)
	resp.Saved = false
	resp.Error = syncErr.Error()

	if s.outbox == nil {
		return resp
	}
	msg := syncErr.Error()
	if _, err := s.outbox.Insert(ctx, outbox.InsertParams{
		DealID:    resp.DealID,
		LeadID:    leadID,
		Reason:    cascadeOutboxReason,
		RunAt:     s.clock().Add(outbox.RetryDelay(1)),
		LastError: &msg,
	}); err != nil {
		s.log.DatabaseError("insert deal sync outbox", err)
		return resp
	}
	resp.Queued = true
	return resp
}

// syncDealLocked derives and persists a deal's stage. The caller holds the
// deal lock. The deal write is skipped when the stage is unchanged.
func (s *Service) syncDealLocked(ctx context.Context, dealID uuid.UUID, rs domain.Ruleset, meta repository.StageChangeMeta) (transport.DealSyncResponse, error) {
	resp := transport.DealSyncResponse{DealID: dealID}

	stages, err := s.repo.ListLeadStagesForDeal(ctx, dealID)
	if err != nil {
		return resp, err
	}
	withdrawn, err := s.repo.HasOwnerWithdrawal(ctx, dealID)
	if err != nil {
		return resp, err
	}

	result := domain.ComputeDealStageFromLeads(stages, rs.SyncRules, withdrawn)
	resp.Stage = result.Stage
	resp.Reason = result.Reason
	resp.RuleID = result.RuleID

	if meta.Reason == "" {
		meta.Reason = result.Reason
	}
	written, err := s.repo.SetDealStage(ctx, dealID, result.Stage, result.Reason, meta)
	if err != nil {
		return resp, err
	}

	resp.PreviousStage = written.PreviousStage
	resp.Changed = written.Changed
	resp.Saved = true
	s.log.DealSynced(dealID.String(), string(result.Stage), result.Reason, written.Changed)
	if !written.Changed {
		return resp, nil
	}

	s.log.StageTransition(string(repository.EntityDeal), dealID.String(), string(written.PreviousStage),
		string(result.Stage), string(meta.TriggeredBy), rs.Version)
	s.publish(ctx, events.DealStageSynced{
		BaseEvent:     events.NewBaseEvent(),
		DealID:        dealID,
		PreviousStage: string(written.PreviousStage),
		Stage:         string(result.Stage),
		Reason:        result.Reason,
		RuleID:        result.RuleID,
	})
	return resp, nil
}

// ResyncDeal recomputes a deal's stage from its linked leads. It is safe to
// call repeatedly; an unchanged stage is not written.
func (s *Service) ResyncDeal(ctx context.Context, dealID uuid.UUID, trigger repository.Trigger) (transport.DealSyncResponse, error) {
	rs := s.rules.Current(ctx)

	unlock, err := s.locks.Lock(ctx, dealKey(dealID))
	if err != nil {
		return transport.DealSyncResponse{}, fmt.Errorf("lock deal: %w", err)
	}
	defer unlock()

	if _, err := s.repo.GetDeal(ctx, dealID); err != nil {
		return transport.DealSyncResponse{}, err
	}

	resp, err := s.syncDealLocked(ctx, dealID, rs, repository.StageChangeMeta{
		TriggeredBy:    trigger,
		RulesetVersion: rs.Version,
	})
	if err != nil {
		s.log.DatabaseError("resync deal", err)
		return resp, err
	}
	return resp, nil
}

// ResyncFromOutbox adapts ResyncDeal to the outbox processor.
func (s *Service) ResyncFromOutbox(ctx context.Context, dealID uuid.UUID) error {
	_, err := s.ResyncDeal(ctx, dealID, repository.TriggerResync)
	return err
}

// RecordDealActivity stores an activity on a deal, refreshes its activity
// timestamps when completed and resyncs its stage.
func (s *Service) RecordDealActivity(ctx context.Context, dealID uuid.UUID, userID *uuid.UUID, req transport.RecordDealActivityRequest) (transport.DealActivityResponse, error) {
	rs := s.rules.Current(ctx)

	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return transport.DealActivityResponse{}, err
	}

	now := s.clock()
	act, err := s.repo.CreateActivity(ctx, activityParams(repository.EntityDeal, dealID, userID, req.RecordActivityRequest, now))
	if err != nil {
		return transport.DealActivityResponse{}, err
	}

	resp := transport.DealActivityResponse{
		ActivityID:     act.ID,
		RulesetVersion: rs.Version,
		Deal:           transport.DealSyncResponse{DealID: deal.ID, PreviousStage: deal.Stage, Stage: deal.Stage},
	}

	if act.Status == domain.ActivityStatusCompleted {
		if err := s.repo.TouchDealActivity(ctx, deal.ID, activityTime(act), req.OfferChanged); err != nil {
			s.log.DatabaseError("touch deal activity", err)
		}
	}

	unlock, err := s.locks.Lock(ctx, dealKey(dealID))
	if err != nil {
		resp.Deal = s.queueFailedSync(ctx, nil, resp.Deal, fmt.Errorf("lock deal: %w", err))
		return resp, nil
	}
	defer unlock()

	actID := act.ID
	synced, err := s.syncDealLocked(ctx, deal.ID, rs, repository.StageChangeMeta{
		TriggeredBy:    repository.TriggerActivity,
		ActivityID:     &actID,
		ActivityType:   act.Type,
		Outcome:        act.Outcome,
		UserID:         userID,
		RulesetVersion: rs.Version,
	})
	if err != nil {
		synced.PreviousStage = deal.Stage
		resp.Deal = s.queueFailedSync(ctx, nil, synced, err)
		return resp, nil
	}
	resp.Deal = synced
	return resp, nil
}

func activityParams(entity repository.EntityType, id uuid.UUID, userID *uuid.UUID, req transport.RecordActivityRequest, now time.Time) repository.CreateActivityParams {
	completedAt := req.CompletedAt
	if req.Status == domain.ActivityStatusCompleted && completedAt == nil {
		completedAt = &now
	}
	return repository.CreateActivityParams{
		EntityType:  entity,
		EntityID:    id,
		Type:        req.Type,
		Purpose:     req.Purpose,
		Outcome:     req.ResolvedOutcome(),
		Status:      req.Status,
		CompletedAt: completedAt,
		CreatedBy:   userID,
	}
}

func activityTime(act repository.Activity) time.Time {
	if act.CompletedAt != nil {
		return *act.CompletedAt
	}
	return act.CreatedAt
}
