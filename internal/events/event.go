// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"pipeline_backend/platform/events"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// InMemoryBus is the process-local bus used by both binaries.
type InMemoryBus = events.InMemoryBus

var NewBaseEvent = events.NewBaseEvent

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Stage Engine Events
// =============================================================================

// LeadStageChanged is published after a lead stage change is persisted.
type LeadStageChanged struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	DealID         *uuid.UUID `json:"dealId,omitempty"`
	PreviousStage  string     `json:"previousStage"`
	Stage          string     `json:"stage"`
	ActivityID     *uuid.UUID `json:"activityId,omitempty"`
	RulesetVersion int        `json:"rulesetVersion"`
}

func (e LeadStageChanged) EventName() string { return "pipeline.lead.stage_changed" }

// StageChangeBlocked is published when a stability lock keeps a lead in place.
type StageChangeBlocked struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	Current  string    `json:"current"`
	Proposed string    `json:"proposed"`
	Reason   string    `json:"reason"`
}

func (e StageChangeBlocked) EventName() string { return "pipeline.lead.stage_blocked" }

// DealStageSynced is published when a deal's derived stage changed.
type DealStageSynced struct {
	BaseEvent
	DealID        uuid.UUID `json:"dealId"`
	PreviousStage string    `json:"previousStage"`
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason"`
	RuleID        string    `json:"ruleId,omitempty"`
}

func (e DealStageSynced) EventName() string { return "pipeline.deal.stage_synced" }

// DealSyncFailed is published when a deal cascade could not be written. The
// sync is retried from the outbox; Exhausted marks the final attempt.
type DealSyncFailed struct {
	BaseEvent
	DealID    uuid.UUID  `json:"dealId"`
	LeadID    *uuid.UUID `json:"leadId,omitempty"`
	Error     string     `json:"error"`
	Attempt   int        `json:"attempt"`
	Exhausted bool       `json:"exhausted"`
}

func (e DealSyncFailed) EventName() string { return "pipeline.deal.sync_failed" }

// =============================================================================
// Rule Administration Events
// =============================================================================

// RulesetPublished is published after an admin edit produced a new snapshot.
type RulesetPublished struct {
	BaseEvent
	Version     int        `json:"version"`
	PublishedBy *uuid.UUID `json:"publishedBy,omitempty"`
	Change      string     `json:"change"`
}

func (e RulesetPublished) EventName() string { return "rules.ruleset.published" }

// =============================================================================
// Alert Events
// =============================================================================

// PipelineAlertRaised is published when the sweeper opens a new alert.
type PipelineAlertRaised struct {
	BaseEvent
	AlertID  uuid.UUID `json:"alertId"`
	DealID   uuid.UUID `json:"dealId"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
}

func (e PipelineAlertRaised) EventName() string { return "pipeline.alert.raised" }
