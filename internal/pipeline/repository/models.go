package repository

import (
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// EntityType names which pipeline table an activity or history row belongs to.
type EntityType string

const (
	EntityLead EntityType = "lead"
	EntityDeal EntityType = "deal"
)

// IsValid reports whether t is lead or deal.
func (t EntityType) IsValid() bool {
	return t == EntityLead || t == EntityDeal
}

// Trigger records what caused a stage change.
type Trigger string

const (
	TriggerActivity Trigger = "activity"
	TriggerSystem   Trigger = "system"
	TriggerResync   Trigger = "resync"
)

type Lead struct {
	ID                uuid.UUID
	DealID            *uuid.UUID
	Name              string
	Stage             domain.Stage
	StageChangedAt    *time.Time
	ActivitiesInStage int
	LastActivityAt    *time.Time
	IntentIndex       *float64
	RulesetVersion    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Deal struct {
	ID                 uuid.UUID
	Title              string
	Stage              domain.Stage
	StageChangedAt     *time.Time
	StageSyncReason    *string
	DealValue          float64
	Probability        *float64
	LastActivityAt     *time.Time
	LastOfferChangedAt *time.Time
	RulesetVersion     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Activity struct {
	ID          uuid.UUID
	EntityType  EntityType
	EntityID    uuid.UUID
	Type        string
	Purpose     string
	Outcome     string
	Status      string
	CompletedAt *time.Time
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
}

// Signal converts the activity to the form the scoring functions read.
func (a Activity) Signal() domain.ActivitySignal {
	return domain.ActivitySignal{
		Type:        a.Type,
		Purpose:     a.Purpose,
		Outcome:     a.Outcome,
		Status:      a.Status,
		CompletedAt: a.CompletedAt,
	}
}

type CreateActivityParams struct {
	EntityType  EntityType
	EntityID    uuid.UUID
	Type        string
	Purpose     string
	Outcome     string
	Status      string
	CompletedAt *time.Time
	CreatedBy   *uuid.UUID
}

// StageChangeMeta is written to stage_history alongside a stage change.
type StageChangeMeta struct {
	TriggeredBy    Trigger
	ActivityID     *uuid.UUID
	ActivityType   string
	Outcome        string
	Reason         string
	UserID         *uuid.UUID
	RulesetVersion int
}

type HistoryEntry struct {
	ID             uuid.UUID
	Stage          domain.Stage
	PreviousStage  *string
	EnteredAt      time.Time
	ExitedAt       *time.Time
	DaysInStage    *int
	TriggeredBy    Trigger
	ActivityType   *string
	Outcome        *string
	Reason         *string
	ActivityID     *uuid.UUID
	UserID         *uuid.UUID
	RulesetVersion int
}

// History is an entity's stage timeline, oldest first.
type History struct {
	CurrentStage domain.Stage
	StageHistory []HistoryEntry
}

// DealWriteResult reports whether SetDealStage changed anything.
type DealWriteResult struct {
	Changed       bool
	PreviousStage domain.Stage
	Stage         domain.Stage
	Deal          Deal
}

// LastActivityChange is one row touched by a last_activity_at recalculation.
type LastActivityChange struct {
	EntityType EntityType
	EntityID   uuid.UUID
	Previous   *time.Time
	Computed   *time.Time
}

// AlertKind names a pipeline alert category.
type AlertKind string

const (
	AlertStalled           AlertKind = "stalled"
	AlertCommissionLeakage AlertKind = "commission_leakage"
)

type Alert struct {
	ID         uuid.UUID
	DealID     uuid.UUID
	Kind       AlertKind
	Severity   string
	Message    string
	Action     string
	RaisedAt   time.Time
	ResolvedAt *time.Time
}

type UpsertAlertParams struct {
	DealID   uuid.UUID
	Kind     AlertKind
	Severity string
	Message  string
	Action   string
}
