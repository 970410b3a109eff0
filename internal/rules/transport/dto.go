package transport

import (
	"encoding/json"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// OverrideRuleRequest creates or replaces an override rule. Empty match
// fields are wildcards.
type OverrideRuleRequest struct {
	ID           string `json:"id" validate:"omitempty,max=64"`
	Priority     int    `json:"priority" validate:"required,min=1,max=999"`
	ActivityType string `json:"activityType" validate:"max=100"`
	Purpose      string `json:"purpose" validate:"max=100"`
	Outcome      string `json:"outcome" validate:"max=100"`
	Stage        string `json:"stage" validate:"required,stage"`
	IsActive     *bool  `json:"isActive"`
}

// SyncRuleRequest creates or replaces a sync rule.
type SyncRuleRequest struct {
	ID                string `json:"id" validate:"omitempty,max=64"`
	Priority          int    `json:"priority" validate:"required,min=1,max=999"`
	Label             string `json:"label" validate:"required,max=200"`
	Condition         string `json:"condition" validate:"required,oneof=ANY_LEAD ALL_LEADS ACTIVITY"`
	ConditionStage    string `json:"conditionStage" validate:"omitempty,stage"`
	ConditionActivity string `json:"conditionActivity" validate:"max=100"`
	DealStage         string `json:"dealStage" validate:"required,stage"`
	DealReason        string `json:"dealReason" validate:"max=200"`
	IsActive          *bool  `json:"isActive"`
}

type StabilityLockRequest struct {
	MinActivities int    `json:"minActivities" validate:"min=0,max=999"`
	MinDays       int    `json:"minDays" validate:"min=0,max=999"`
	Label         string `json:"label" validate:"max=200"`
}

// SettingRequest carries the raw JSON value of one engine setting; its
// shape depends on the key.
type SettingRequest struct {
	Value json.RawMessage `json:"value" validate:"required"`
}

type OverrideRuleResponse struct {
	Rule           domain.OverrideRule `json:"rule"`
	RulesetVersion int                 `json:"rulesetVersion"`
}

type OverrideRulesResponse struct {
	Items          []domain.OverrideRule `json:"items"`
	RulesetVersion int                   `json:"rulesetVersion"`
}

type SyncRuleResponse struct {
	Rule           domain.SyncRule `json:"rule"`
	RulesetVersion int             `json:"rulesetVersion"`
}

type SyncRulesResponse struct {
	Items          []domain.SyncRule `json:"items"`
	RulesetVersion int               `json:"rulesetVersion"`
}

type StabilityLockResponse struct {
	Stage          domain.Stage         `json:"stage"`
	Lock           domain.StabilityLock `json:"lock"`
	RulesetVersion int                  `json:"rulesetVersion"`
}

type StabilityLocksResponse struct {
	Locks          domain.StabilityLocks `json:"locks"`
	RulesetVersion int                   `json:"rulesetVersion"`
}

type SettingResponse struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	UpdatedBy      *uuid.UUID      `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	RulesetVersion int             `json:"rulesetVersion"`
}

type SettingsResponse struct {
	Items []SettingResponse `json:"items"`
	Keys  []string          `json:"keys"`
}

// DeleteResponse reports a removed rule and the version published without it.
type DeleteResponse struct {
	Deleted        string `json:"deleted"`
	RulesetVersion int    `json:"rulesetVersion"`
}

// RulesetResponse is a published snapshot plus its flattened mapping table.
type RulesetResponse struct {
	Ruleset     domain.Ruleset      `json:"ruleset"`
	Mappings    []domain.MappingRow `json:"mappings"`
	PublishedBy *uuid.UUID          `json:"publishedBy,omitempty"`
	ArchiveKey  *string             `json:"archiveKey,omitempty"`
}
