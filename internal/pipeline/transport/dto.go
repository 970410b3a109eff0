package transport

import (
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// RecordActivityRequest records an activity on a lead. Outcome may be given
// directly or derived from Details for the activity type.
type RecordActivityRequest struct {
	Type        string                  `json:"type" validate:"required,min=1,max=100"`
	Purpose     string                  `json:"purpose" validate:"max=200"`
	Outcome     string                  `json:"outcome" validate:"max=200"`
	Details     *domain.ActivityDetails `json:"details,omitempty"`
	Status      string                  `json:"status" validate:"required,oneof=Completed Pending Cancelled"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
}

// ResolvedOutcome returns Outcome, or the type-specific detail field.
func (r RecordActivityRequest) ResolvedOutcome() string {
	if r.Outcome != "" || r.Details == nil {
		return r.Outcome
	}
	return domain.ExtractOutcome(r.Type, *r.Details)
}

// RecordDealActivityRequest records an activity on a deal and resyncs it.
type RecordDealActivityRequest struct {
	RecordActivityRequest
	OfferChanged bool `json:"offerChanged"`
}

// ClassifyRequest is a dry run of the classifier and, when a current stage
// is known, the stability lock.
type ClassifyRequest struct {
	ActivityType      string     `json:"activityType" validate:"required,min=1,max=100"`
	Purpose           string     `json:"purpose" validate:"max=200"`
	Outcome           string     `json:"outcome" validate:"max=200"`
	LeadID            *uuid.UUID `json:"leadId,omitempty"`
	CurrentStage      string     `json:"currentStage" validate:"omitempty,stage"`
	ActivitiesInStage int        `json:"activitiesInStage" validate:"min=0"`
	DaysInStage       int        `json:"daysInStage" validate:"min=0"`
}

type BulkRecalcRequest struct {
	DryRun bool `json:"dryRun"`
}

type LeadStageResponse struct {
	LeadID        uuid.UUID    `json:"leadId"`
	PreviousStage domain.Stage `json:"previousStage"`
	ComputedStage domain.Stage `json:"computedStage"`
	Stage         domain.Stage `json:"stage"`
	Changed       bool         `json:"changed"`
	Blocked       bool         `json:"blocked"`
	Reason        string       `json:"reason,omitempty"`
	Source        string       `json:"source,omitempty"`
	RuleID        string       `json:"ruleId,omitempty"`
	Saved         bool         `json:"saved"`
	Error         string       `json:"error,omitempty"`
}

type DealSyncResponse struct {
	DealID        uuid.UUID    `json:"dealId"`
	PreviousStage domain.Stage `json:"previousStage"`
	Stage         domain.Stage `json:"stage"`
	Reason        string       `json:"reason"`
	RuleID        string       `json:"ruleId,omitempty"`
	Changed       bool         `json:"changed"`
	Saved         bool         `json:"saved"`
	// Queued is set when the write failed and a retry was recorded.
	Queued bool   `json:"queued,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StageUpdateResponse is the two-step pipeline result: the lead write and,
// when the lead belongs to a deal, the cascade.
type StageUpdateResponse struct {
	ActivityID     uuid.UUID         `json:"activityId"`
	Lead           LeadStageResponse `json:"lead"`
	Deal           *DealSyncResponse `json:"deal,omitempty"`
	RulesetVersion int               `json:"rulesetVersion"`
}

type DealActivityResponse struct {
	ActivityID     uuid.UUID        `json:"activityId"`
	Deal           DealSyncResponse `json:"deal"`
	RulesetVersion int              `json:"rulesetVersion"`
}

type HistoryEntryResponse struct {
	Stage          domain.Stage `json:"stage"`
	PreviousStage  *string      `json:"previousStage,omitempty"`
	EnteredAt      time.Time    `json:"enteredAt"`
	ExitedAt       *time.Time   `json:"exitedAt,omitempty"`
	DaysInStage    *int         `json:"daysInStage,omitempty"`
	TriggeredBy    string       `json:"triggeredBy"`
	ActivityType   *string      `json:"activityType,omitempty"`
	Outcome        *string      `json:"outcome,omitempty"`
	Reason         *string      `json:"reason,omitempty"`
	ActivityID     *uuid.UUID   `json:"activityId,omitempty"`
	UserID         *uuid.UUID   `json:"userId,omitempty"`
	RulesetVersion int          `json:"rulesetVersion"`
}

type HistoryResponse struct {
	CurrentStage domain.Stage           `json:"currentStage"`
	StageHistory []HistoryEntryResponse `json:"stageHistory"`
}

type ClassifyResponse struct {
	Classification domain.Classification   `json:"classification"`
	CurrentStage   domain.Stage            `json:"currentStage,omitempty"`
	Transition     *domain.TransitionResult `json:"transition,omitempty"`
	WinProbability float64                 `json:"winProbability"`
	RulesetVersion int                     `json:"rulesetVersion"`
}

type HealthResponse struct {
	DealID         uuid.UUID         `json:"dealId"`
	Stage          domain.Stage      `json:"stage"`
	Aging          domain.Aging      `json:"aging"`
	RiskFlags      []domain.RiskFlag `json:"riskFlags"`
	Health         domain.DealHealth `json:"health"`
	Forecast       domain.Forecast   `json:"forecast"`
	Leakage        domain.Leakage    `json:"leakage"`
	Death          domain.DealDeath  `json:"death"`
	WinProbability float64           `json:"winProbability"`
	LeadScore      int               `json:"leadScore"`
	RulesetVersion int               `json:"rulesetVersion"`
}

type StalledDealResponse struct {
	DealID          uuid.UUID        `json:"dealId"`
	Title           string           `json:"title"`
	Stage           domain.Stage     `json:"stage"`
	StageDays       int              `json:"stageDays"`
	ActivityGapDays int              `json:"activityGapDays"`
	Death           domain.DealDeath `json:"death"`
}

type StalledListResponse struct {
	Items []StalledDealResponse `json:"items"`
	Count int                   `json:"count"`
}

type StageForecast struct {
	Stage              domain.Stage `json:"stage"`
	Count              int          `json:"count"`
	WinProbability     float64      `json:"winProbability"`
	TotalValue         float64      `json:"totalValue"`
	WeightedValue      float64      `json:"weightedValue"`
	ExpectedCommission float64      `json:"expectedCommission"`
}

type ForecastResponse struct {
	Stages             []StageForecast `json:"stages"`
	TotalValue         float64         `json:"totalValue"`
	WeightedValue      float64         `json:"weightedValue"`
	ExpectedCommission float64         `json:"expectedCommission"`
	CommissionRate     float64         `json:"commissionRate"`
	RulesetVersion     int             `json:"rulesetVersion"`
}

type ScoresResponse struct {
	Count  int                         `json:"count"`
	Scores map[string]domain.ListScore `json:"scores"`
}

type LastActivityChange struct {
	EntityType string     `json:"entityType"`
	EntityID   uuid.UUID  `json:"entityId"`
	Previous   *time.Time `json:"previous,omitempty"`
	Computed   *time.Time `json:"computed,omitempty"`
}

type BulkRecalcResponse struct {
	DryRun  bool                 `json:"dryRun"`
	Count   int                  `json:"count"`
	Changes []LastActivityChange `json:"changes"`
}

type ResyncAllResponse struct {
	Evaluated int      `json:"evaluated"`
	Changed   int      `json:"changed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type AlertSweepResponse struct {
	Evaluated int `json:"evaluated"`
	Raised    int `json:"raised"`
	Refreshed int `json:"refreshed"`
	Resolved  int `json:"resolved"`
}
