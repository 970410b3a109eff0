package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"pipeline_backend/internal/adapters/storage"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/repository"
	"pipeline_backend/internal/rules/transport"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

const (
	msgLockedRuleDelete = "built-in sync rules cannot be deleted; disable them instead"
	msgLockedRuleChange = "built-in sync rules only allow priority, label and active changes"
	msgArchiveDisabled  = "ruleset archive is not configured"
)

func newRuleID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// =============================================================================
// Override rules
// =============================================================================

func (s *Service) ListOverrideRules(ctx context.Context) (transport.OverrideRulesResponse, error) {
	rules, err := s.repo.ListOverrideRules(ctx)
	if err != nil {
		return transport.OverrideRulesResponse{}, err
	}
	return transport.OverrideRulesResponse{Items: rules, RulesetVersion: s.provider.Version()}, nil
}

func overrideFromRequest(id string, req transport.OverrideRuleRequest, active bool) domain.OverrideRule {
	return domain.OverrideRule{
		ID:           id,
		Priority:     req.Priority,
		ActivityType: strings.TrimSpace(req.ActivityType),
		Purpose:      strings.TrimSpace(req.Purpose),
		Outcome:      strings.TrimSpace(req.Outcome),
		Stage:        domain.Stage(req.Stage),
		IsActive:     boolOr(req.IsActive, active),
	}
}

func (s *Service) CreateOverrideRule(ctx context.Context, userID *uuid.UUID, req transport.OverrideRuleRequest) (transport.OverrideRuleResponse, error) {
	id := req.ID
	if id == "" {
		id = newRuleID("ovr")
	}
	rule, err := s.repo.CreateOverrideRule(ctx, overrideFromRequest(id, req, true))
	if err != nil {
		return transport.OverrideRuleResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "override rule created: "+rule.ID)
	if err != nil {
		return transport.OverrideRuleResponse{}, err
	}
	return transport.OverrideRuleResponse{Rule: rule, RulesetVersion: rs.Version}, nil
}

func (s *Service) UpdateOverrideRule(ctx context.Context, userID *uuid.UUID, id string, req transport.OverrideRuleRequest) (transport.OverrideRuleResponse, error) {
	current, err := s.repo.GetOverrideRule(ctx, id)
	if err != nil {
		return transport.OverrideRuleResponse{}, err
	}
	rule, err := s.repo.UpdateOverrideRule(ctx, overrideFromRequest(id, req, current.IsActive))
	if err != nil {
		return transport.OverrideRuleResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "override rule updated: "+id)
	if err != nil {
		return transport.OverrideRuleResponse{}, err
	}
	return transport.OverrideRuleResponse{Rule: rule, RulesetVersion: rs.Version}, nil
}

func (s *Service) DeleteOverrideRule(ctx context.Context, userID *uuid.UUID, id string) (transport.DeleteResponse, error) {
	if err := s.repo.DeleteOverrideRule(ctx, id); err != nil {
		return transport.DeleteResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "override rule deleted: "+id)
	if err != nil {
		return transport.DeleteResponse{}, err
	}
	return transport.DeleteResponse{Deleted: id, RulesetVersion: rs.Version}, nil
}

// =============================================================================
// Sync rules
// =============================================================================

func (s *Service) ListSyncRules(ctx context.Context) (transport.SyncRulesResponse, error) {
	rules, err := s.repo.ListSyncRules(ctx)
	if err != nil {
		return transport.SyncRulesResponse{}, err
	}
	return transport.SyncRulesResponse{Items: rules, RulesetVersion: s.provider.Version()}, nil
}

func syncFromRequest(id string, req transport.SyncRuleRequest, active bool) (domain.SyncRule, error) {
	rule := domain.SyncRule{
		ID:                id,
		Priority:          req.Priority,
		Label:             strings.TrimSpace(req.Label),
		Condition:         domain.SyncCondition(req.Condition),
		ConditionStage:    domain.Stage(req.ConditionStage),
		ConditionActivity: strings.TrimSpace(req.ConditionActivity),
		DealStage:         domain.Stage(req.DealStage),
		DealReason:        strings.TrimSpace(req.DealReason),
		IsActive:          boolOr(req.IsActive, active),
	}
	switch rule.Condition {
	case domain.ConditionAnyLead, domain.ConditionAllLeads:
		if rule.ConditionStage == "" {
			return domain.SyncRule{}, apperr.Validation("conditionStage is required for lead conditions")
		}
		rule.ConditionActivity = ""
	case domain.ConditionActivity:
		if rule.ConditionActivity == "" {
			return domain.SyncRule{}, apperr.Validation("conditionActivity is required for ACTIVITY rules")
		}
		rule.ConditionStage = ""
	default:
		return domain.SyncRule{}, apperr.Validation(fmt.Sprintf("unknown condition %q", req.Condition))
	}
	return rule, nil
}

func (s *Service) CreateSyncRule(ctx context.Context, userID *uuid.UUID, req transport.SyncRuleRequest) (transport.SyncRuleResponse, error) {
	id := req.ID
	if id == "" {
		id = newRuleID("rule")
	}
	rule, err := syncFromRequest(id, req, true)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	created, err := s.repo.CreateSyncRule(ctx, rule)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "sync rule created: "+id)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	return transport.SyncRuleResponse{Rule: created, RulesetVersion: rs.Version}, nil
}

func (s *Service) UpdateSyncRule(ctx context.Context, userID *uuid.UUID, id string, req transport.SyncRuleRequest) (transport.SyncRuleResponse, error) {
	current, err := s.repo.GetSyncRule(ctx, id)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	rule, err := syncFromRequest(id, req, current.IsActive)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	if current.IsLocked && !sameDefinition(current, rule) {
		return transport.SyncRuleResponse{}, apperr.Forbidden(msgLockedRuleChange)
	}
	updated, err := s.repo.UpdateSyncRule(ctx, rule)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "sync rule updated: "+id)
	if err != nil {
		return transport.SyncRuleResponse{}, err
	}
	return transport.SyncRuleResponse{Rule: updated, RulesetVersion: rs.Version}, nil
}

func sameDefinition(a, b domain.SyncRule) bool {
	return a.Condition == b.Condition &&
		a.ConditionStage == b.ConditionStage &&
		a.ConditionActivity == b.ConditionActivity &&
		a.DealStage == b.DealStage &&
		a.DealReason == b.DealReason
}

func (s *Service) DeleteSyncRule(ctx context.Context, userID *uuid.UUID, id string) (transport.DeleteResponse, error) {
	current, err := s.repo.GetSyncRule(ctx, id)
	if err != nil {
		return transport.DeleteResponse{}, err
	}
	if current.IsLocked {
		return transport.DeleteResponse{}, apperr.Forbidden(msgLockedRuleDelete)
	}
	if err := s.repo.DeleteSyncRule(ctx, id); err != nil {
		return transport.DeleteResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "sync rule deleted: "+id)
	if err != nil {
		return transport.DeleteResponse{}, err
	}
	return transport.DeleteResponse{Deleted: id, RulesetVersion: rs.Version}, nil
}

// =============================================================================
// Stability locks
// =============================================================================

func (s *Service) ListStabilityLocks(ctx context.Context) (transport.StabilityLocksResponse, error) {
	locks, err := s.repo.ListStabilityLocks(ctx)
	if err != nil {
		return transport.StabilityLocksResponse{}, err
	}
	return transport.StabilityLocksResponse{Locks: locks, RulesetVersion: s.provider.Version()}, nil
}

func (s *Service) PutStabilityLock(ctx context.Context, userID *uuid.UUID, stage domain.Stage, req transport.StabilityLockRequest) (transport.StabilityLockResponse, error) {
	if !domain.IsKnownStage(string(stage)) {
		return transport.StabilityLockResponse{}, apperr.Validation(fmt.Sprintf("unknown stage %q", stage))
	}
	lock := domain.StabilityLock{MinActivities: req.MinActivities, MinDays: req.MinDays, Label: strings.TrimSpace(req.Label)}
	if err := s.repo.UpsertStabilityLock(ctx, stage, lock); err != nil {
		return transport.StabilityLockResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "stability lock set: "+string(stage))
	if err != nil {
		return transport.StabilityLockResponse{}, err
	}
	return transport.StabilityLockResponse{Stage: stage, Lock: lock, RulesetVersion: rs.Version}, nil
}

func (s *Service) DeleteStabilityLock(ctx context.Context, userID *uuid.UUID, stage domain.Stage) (transport.DeleteResponse, error) {
	if err := s.repo.DeleteStabilityLock(ctx, stage); err != nil {
		return transport.DeleteResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "stability lock removed: "+string(stage))
	if err != nil {
		return transport.DeleteResponse{}, err
	}
	return transport.DeleteResponse{Deleted: string(stage), RulesetVersion: rs.Version}, nil
}

// =============================================================================
// Settings
// =============================================================================

func settingResponse(setting repository.Setting, version int) transport.SettingResponse {
	return transport.SettingResponse{
		Key:            setting.Key,
		Value:          setting.Value,
		UpdatedBy:      setting.UpdatedBy,
		UpdatedAt:      setting.UpdatedAt,
		RulesetVersion: version,
	}
}

func (s *Service) ListSettings(ctx context.Context) (transport.SettingsResponse, error) {
	settings, err := s.repo.ListSettings(ctx)
	if err != nil {
		return transport.SettingsResponse{}, err
	}
	version := s.provider.Version()
	items := make([]transport.SettingResponse, 0, len(settings))
	for _, setting := range settings {
		items = append(items, settingResponse(setting, version))
	}
	return transport.SettingsResponse{Items: items, Keys: SettingKeys()}, nil
}

func (s *Service) GetSetting(ctx context.Context, key string) (transport.SettingResponse, error) {
	if !IsSettingKey(key) {
		return transport.SettingResponse{}, apperr.NotFound(fmt.Sprintf("unknown setting %q", key)).WithDetails(SettingKeys())
	}
	setting, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return transport.SettingResponse{}, err
	}
	return settingResponse(setting, s.provider.Version()), nil
}

// PutSetting validates value against the key's schema before storing it.
func (s *Service) PutSetting(ctx context.Context, userID *uuid.UUID, key string, value json.RawMessage) (transport.SettingResponse, error) {
	if !IsSettingKey(key) {
		return transport.SettingResponse{}, apperr.NotFound(fmt.Sprintf("unknown setting %q", key)).WithDetails(SettingKeys())
	}
	probe := domain.DefaultRuleset()
	if err := applySetting(&probe, key, value); err != nil {
		return transport.SettingResponse{}, err
	}

	setting, err := s.repo.PutSetting(ctx, key, value, userID)
	if err != nil {
		return transport.SettingResponse{}, err
	}
	rs, err := s.publish(ctx, userID, "setting updated: "+key)
	if err != nil {
		return transport.SettingResponse{}, err
	}
	return settingResponse(setting, rs.Version), nil
}

// =============================================================================
// Snapshots
// =============================================================================

func rulesetResponse(rs domain.Ruleset, snap repository.Snapshot) transport.RulesetResponse {
	return transport.RulesetResponse{
		Ruleset:     rs,
		Mappings:    domain.FlattenOutcomeMappings(rs),
		PublishedBy: snap.PublishedBy,
		ArchiveKey:  snap.ArchiveKey,
	}
}

func (s *Service) CurrentRuleset(ctx context.Context) (transport.RulesetResponse, error) {
	snap, err := s.repo.LatestSnapshot(ctx)
	if err != nil {
		return transport.RulesetResponse{}, err
	}
	rs, err := decodeSnapshot(snap)
	if err != nil {
		return transport.RulesetResponse{}, err
	}
	return rulesetResponse(rs, snap), nil
}

func (s *Service) RulesetVersion(ctx context.Context, version int) (transport.RulesetResponse, error) {
	snap, err := s.repo.GetSnapshot(ctx, version)
	if err != nil {
		return transport.RulesetResponse{}, err
	}
	rs, err := decodeSnapshot(snap)
	if err != nil {
		return transport.RulesetResponse{}, err
	}
	return rulesetResponse(rs, snap), nil
}

// ArchivedRuleset reads a version back from object storage.
func (s *Service) ArchivedRuleset(ctx context.Context, version int) (transport.RulesetResponse, error) {
	if s.archive == nil {
		return transport.RulesetResponse{}, apperr.BadRequest(msgArchiveDisabled)
	}
	snap, err := s.repo.GetSnapshot(ctx, version)
	if err != nil {
		return transport.RulesetResponse{}, err
	}
	if snap.ArchiveKey == nil {
		return transport.RulesetResponse{}, apperr.NotFound(fmt.Sprintf("ruleset v%d was not archived", version))
	}

	obj, err := s.archive.GetSnapshot(ctx, s.bucket, *snap.ArchiveKey)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return transport.RulesetResponse{}, apperr.Wrap(apperr.KindGone, fmt.Sprintf("ruleset v%d is no longer in the archive", version), err)
	}
	if err != nil {
		return transport.RulesetResponse{}, apperr.Internalf("get archived ruleset", err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return transport.RulesetResponse{}, apperr.Internalf("read archived ruleset", err)
	}

	var rs domain.Ruleset
	if err := json.Unmarshal(body, &rs); err != nil {
		return transport.RulesetResponse{}, apperr.Internalf("decode archived ruleset", err)
	}
	return rulesetResponse(rs, snap), nil
}
