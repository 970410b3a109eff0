package domain

import "time"

// OutcomeMapping is one default Activity→Purpose→Outcome→Stage row.
type OutcomeMapping struct {
	ActivityType string `json:"activityType" yaml:"activityType"`
	Purpose      string `json:"purpose" yaml:"purpose"`
	Outcome      string `json:"outcome" yaml:"outcome"`
	Stage        Stage  `json:"stage" yaml:"stage"`
	Score        int    `json:"score" yaml:"score"`
}

// OverrideRule takes precedence over the mapping table. Empty match fields
// are wildcards. Priority 1 is evaluated first; non-positive priorities sort
// last (as 99).
type OverrideRule struct {
	ID           string `json:"id" yaml:"id"`
	Priority     int    `json:"priority" yaml:"priority"`
	ActivityType string `json:"activityType,omitempty" yaml:"activityType"`
	Purpose      string `json:"purpose,omitempty" yaml:"purpose"`
	Outcome      string `json:"outcome,omitempty" yaml:"outcome"`
	Stage        Stage  `json:"stage" yaml:"stage"`
	IsActive     bool   `json:"isActive" yaml:"isActive"`
}

// EffectivePriority is the priority used for ordering.
func (r OverrideRule) EffectivePriority() int {
	if r.Priority <= 0 {
		return unsetPriority
	}
	return r.Priority
}

const unsetPriority = 99

// SyncCondition selects how a SyncRule inspects linked leads.
type SyncCondition string

const (
	ConditionAnyLead  SyncCondition = "ANY_LEAD"
	ConditionAllLeads SyncCondition = "ALL_LEADS"
	ConditionActivity SyncCondition = "ACTIVITY"
)

// IsValid reports whether c is a supported condition.
func (c SyncCondition) IsValid() bool {
	return c == ConditionAnyLead || c == ConditionAllLeads || c == ConditionActivity
}

// OwnerWithdrawalActivity is the activity type that marks a deal's owner as
// having withdrawn.
const OwnerWithdrawalActivity = "Owner Withdrawal"

// SyncRule derives a deal stage from its linked leads. Locked rules are
// built in and may be disabled but never deleted.
type SyncRule struct {
	ID                string        `json:"id" yaml:"id"`
	Priority          int           `json:"priority" yaml:"priority"`
	Label             string        `json:"label" yaml:"label"`
	Condition         SyncCondition `json:"condition" yaml:"condition"`
	ConditionStage    Stage         `json:"conditionStage,omitempty" yaml:"conditionStage"`
	ConditionActivity string        `json:"conditionActivity,omitempty" yaml:"conditionActivity"`
	DealStage         Stage         `json:"dealStage" yaml:"dealStage"`
	DealReason        string        `json:"dealReason,omitempty" yaml:"dealReason"`
	IsActive          bool          `json:"isActive" yaml:"isActive"`
	IsLocked          bool          `json:"isLocked" yaml:"isLocked"`
}

// StabilityLock is the minimum evidence required in a stage before the
// engine will move an entity down from it.
type StabilityLock struct {
	MinActivities int    `json:"minActivities" yaml:"minActivities"`
	MinDays       int    `json:"minDays" yaml:"minDays"`
	Label         string `json:"label" yaml:"label"`
}

// StabilityLocks is keyed by the stage being left.
type StabilityLocks map[Stage]StabilityLock

// Severity grades risk flags, stall verdicts and leakage alerts.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// RiskMetric selects which aging figure a RiskRule compares.
type RiskMetric string

const (
	MetricStageDays       RiskMetric = "stage_days"
	MetricActivityGapDays RiskMetric = "activity_gap_days"
)

// RiskRule raises a flag when Metric exceeds MaxDays. An empty Stage applies
// to every stage. Message may use {days} and {max} placeholders.
type RiskRule struct {
	Type     string     `json:"type" yaml:"type"`
	Stage    Stage      `json:"stage,omitempty" yaml:"stage"`
	Metric   RiskMetric `json:"metric" yaml:"metric"`
	MaxDays  int        `json:"maxDays" yaml:"maxDays"`
	Severity Severity   `json:"severity" yaml:"severity"`
	Message  string     `json:"message" yaml:"message"`
}

// AgingConfig holds risk flag thresholds and stall detection windows.
type AgingConfig struct {
	RiskRules              []RiskRule `json:"riskRules" yaml:"riskRules"`
	NegotiationStalledDays int        `json:"negotiationStalledDays" yaml:"negotiationStalledDays"`
	NegotiationWarnGapDays int        `json:"negotiationWarnGapDays" yaml:"negotiationWarnGapDays"`
	OpportunityStalledDays int        `json:"opportunityStalledDays" yaml:"opportunityStalledDays"`
	OpportunityGapDays     int        `json:"opportunityGapDays" yaml:"opportunityGapDays"`
}

// HealthBand is one labelled health threshold.
type HealthBand struct {
	Min   int    `json:"min" yaml:"min"`
	Label string `json:"label" yaml:"label"`
}

// HealthConfig configures deal health scoring.
type HealthConfig struct {
	StageScores map[Stage]int `json:"stageScores" yaml:"stageScores"`
	Green       HealthBand    `json:"green" yaml:"green"`
	Yellow      HealthBand    `json:"yellow" yaml:"yellow"`
	RedLabel    string        `json:"redLabel" yaml:"redLabel"`
}

// ForecastConfig configures win probabilities and commission math.
type ForecastConfig struct {
	CommissionRate   float64           `json:"commissionRate" yaml:"commissionRate"`
	LeakageThreshold float64           `json:"leakageThreshold" yaml:"leakageThreshold"`
	WinProbability   map[Stage]float64 `json:"winProbability" yaml:"winProbability"`
}

// Ruleset is an immutable, versioned snapshot of every admin-editable input
// to the engine. Each administrative edit publishes a new version; stage
// changes record the version they were computed under.
type Ruleset struct {
	Version         int              `json:"version"`
	PublishedAt     time.Time        `json:"publishedAt"`
	OutcomeMappings []OutcomeMapping `json:"outcomeMappings"`
	OverrideRules   []OverrideRule   `json:"overrideRules"`
	SyncRules       []SyncRule       `json:"syncRules"`
	StabilityLocks  StabilityLocks   `json:"stabilityLocks"`
	Aging           AgingConfig      `json:"aging"`
	Health          HealthConfig     `json:"health"`
	Forecast        ForecastConfig   `json:"forecast"`
	DensityTargets  map[Stage]int    `json:"densityTargets"`
}

const (
	defaultWinProbability = 5
	defaultDensityTarget  = 14
)

// WinProbability returns the configured win probability for s, or 5%.
func (r Ruleset) WinProbability(s Stage) float64 {
	if p, ok := r.Forecast.WinProbability[s]; ok {
		return p
	}
	return defaultWinProbability
}

// DensityTarget returns the target days for s, or 14.
func (r Ruleset) DensityTarget(s Stage) int {
	if d, ok := r.DensityTargets[s]; ok {
		return d
	}
	return defaultDensityTarget
}

// Clone returns a deep copy so a published snapshot can never be mutated
// through a caller's slice or map.
func (r Ruleset) Clone() Ruleset {
	out := r
	out.OutcomeMappings = append([]OutcomeMapping(nil), r.OutcomeMappings...)
	out.OverrideRules = append([]OverrideRule(nil), r.OverrideRules...)
	out.SyncRules = append([]SyncRule(nil), r.SyncRules...)
	out.Aging.RiskRules = append([]RiskRule(nil), r.Aging.RiskRules...)
	out.StabilityLocks = make(StabilityLocks, len(r.StabilityLocks))
	for k, v := range r.StabilityLocks {
		out.StabilityLocks[k] = v
	}
	out.Health.StageScores = copyMap(r.Health.StageScores)
	out.Forecast.WinProbability = copyMap(r.Forecast.WinProbability)
	out.DensityTargets = copyMap(r.DensityTargets)
	return out
}

func copyMap[V any](in map[Stage]V) map[Stage]V {
	out := make(map[Stage]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DefaultStabilityLocks is the built-in lock table.
func DefaultStabilityLocks() StabilityLocks {
	return StabilityLocks{
		StageNegotiation: {MinActivities: 1, MinDays: 0, Label: "Negotiation requires 1 activity before downgrade"},
		StageOpportunity: {MinActivities: 1, MinDays: 0, Label: "Opportunity requires 1 activity before downgrade"},
		StageQualified:   {MinActivities: 1, MinDays: 0, Label: "Qualified requires 1 activity before downgrade"},
		StageBooked:      {MinActivities: 2, MinDays: 1, Label: "Booked requires 2 activities + 1 day before downgrade"},
		StageClosedWon:   {MinActivities: 999, MinDays: 999, Label: "Closed Won cannot be downgraded automatically"},
	}
}

// DefaultSyncRules is the built-in sync rule set.
func DefaultSyncRules() []SyncRule {
	return []SyncRule{
		{
			ID: "rule_booked", Priority: 1, Label: "Any lead Booked → Deal Booked",
			Condition: ConditionAnyLead, ConditionStage: StageBooked, DealStage: StageBooked,
			IsActive: true, IsLocked: true,
		},
		{
			ID: "rule_closed_won", Priority: 2, Label: "Any lead Closed Won → Deal Closed Won",
			Condition: ConditionAnyLead, ConditionStage: StageClosedWon, DealStage: StageClosedWon,
			IsActive: true, IsLocked: true,
		},
		{
			ID: "rule_all_lost", Priority: 3, Label: "All leads Closed Lost → Deal Open",
			Condition: ConditionAllLeads, ConditionStage: StageClosedLost, DealStage: StageOpen,
			IsActive: true, IsLocked: true,
		},
		{
			ID: "rule_owner_withdrawal", Priority: 4, Label: "Owner Withdrawal activity → Deal Closed Lost",
			Condition: ConditionActivity, ConditionActivity: OwnerWithdrawalActivity,
			DealStage: StageClosedLost, DealReason: "Owner Withdrawn",
			IsActive: true, IsLocked: false,
		},
	}
}

// DefaultAgingConfig is the built-in aging and stall configuration.
func DefaultAgingConfig() AgingConfig {
	return AgingConfig{
		RiskRules: []RiskRule{
			{Type: "negotiation_stale", Stage: StageNegotiation, Metric: MetricStageDays, MaxDays: 15, Severity: SeverityHigh, Message: "Negotiation for {days} days (>{max})"},
			{Type: "activity_gap", Metric: MetricActivityGapDays, MaxDays: 7, Severity: SeverityMedium, Message: "No activity for {days} days"},
			{Type: "booked_no_agreement", Stage: StageBooked, Metric: MetricStageDays, MaxDays: 10, Severity: SeverityHigh, Message: "Booked {days} days without agreement"},
			{Type: "prospect_stale", Stage: StageProspect, Metric: MetricStageDays, MaxDays: 30, Severity: SeverityMedium, Message: "Prospect stale for {days} days"},
			{Type: "opportunity_stale", Stage: StageOpportunity, Metric: MetricStageDays, MaxDays: 21, Severity: SeverityHigh, Message: "Opportunity stale for {days} days"},
		},
		NegotiationStalledDays: 21,
		NegotiationWarnGapDays: 7,
		OpportunityStalledDays: 30,
		OpportunityGapDays:     14,
	}
}

// DefaultHealthConfig is the built-in health configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		StageScores: map[Stage]int{
			StageNew: 5, StageProspect: 15, StageQualified: 30, StageOpportunity: 50,
			StageNegotiation: 65, StageBooked: 80, StageClosedWon: 100, StageClosedLost: 0,
			StageOpen: 10, StageStalled: 20, StageQuote: 25,
		},
		Green:    HealthBand{Min: 70, Label: "Healthy"},
		Yellow:   HealthBand{Min: 40, Label: "Watch"},
		RedLabel: "At Risk",
	}
}

// DefaultForecastConfig is the built-in forecast configuration.
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{
		CommissionRate:   2.0,
		LeakageThreshold: 50000,
		WinProbability: map[Stage]float64{
			StageNew: 5, StageProspect: 10, StageQualified: 25, StageOpportunity: 40,
			StageNegotiation: 65, StageBooked: 85, StageClosedWon: 100, StageClosedLost: 0,
			StageStalled: 15, StageOpen: 5, StageQuote: 50,
		},
	}
}

// DefaultDensityTargets is the built-in days-per-stage benchmark.
func DefaultDensityTargets() map[Stage]int {
	return map[Stage]int{
		StageNew: 1, StageProspect: 7, StageQualified: 7,
		StageOpportunity: 14, StageNegotiation: 21, StageBooked: 30,
	}
}

// DefaultRuleset returns version 0 with built-in defaults and no mappings.
// The mapping table is seeded separately.
func DefaultRuleset() Ruleset {
	return Ruleset{
		SyncRules:      DefaultSyncRules(),
		StabilityLocks: DefaultStabilityLocks(),
		Aging:          DefaultAgingConfig(),
		Health:         DefaultHealthConfig(),
		Forecast:       DefaultForecastConfig(),
		DensityTargets: DefaultDensityTargets(),
	}
}
