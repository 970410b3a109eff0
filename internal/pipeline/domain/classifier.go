package domain

import "sort"

// ActivityMaster is the hierarchical activity configuration an admin edits:
// activities own purposes, purposes own outcomes, outcomes carry a stage.
type ActivityMaster struct {
	Activities []MasterActivity `json:"activities" yaml:"activities"`
}

type MasterActivity struct {
	Name     string          `json:"name" yaml:"name"`
	Purposes []MasterPurpose `json:"purposes" yaml:"purposes"`
}

type MasterPurpose struct {
	Name     string          `json:"name" yaml:"name"`
	Outcomes []MasterOutcome `json:"outcomes" yaml:"outcomes"`
}

type MasterOutcome struct {
	Label string `json:"label" yaml:"label"`
	Stage Stage  `json:"stage" yaml:"stage"`
	Score int    `json:"score" yaml:"score"`
}

// MappingRow is a flattened mapping with its stage win probability, as shown
// in the rule table.
type MappingRow struct {
	OutcomeMapping
	Probability float64 `json:"probability"`
}

// Flatten converts the hierarchy to mapping rows. Outcomes without a stage
// map to New.
func (m ActivityMaster) Flatten() []OutcomeMapping {
	var rows []OutcomeMapping
	for _, act := range m.Activities {
		for _, purp := range act.Purposes {
			for _, out := range purp.Outcomes {
				stage := out.Stage
				if stage == "" {
					stage = StageNew
				}
				rows = append(rows, OutcomeMapping{
					ActivityType: act.Name,
					Purpose:      purp.Name,
					Outcome:      out.Label,
					Stage:        stage,
					Score:        out.Score,
				})
			}
		}
	}
	return rows
}

// FlattenOutcomeMappings returns the rule table rows for rs.
func FlattenOutcomeMappings(rs Ruleset) []MappingRow {
	rows := make([]MappingRow, 0, len(rs.OutcomeMappings))
	for _, m := range rs.OutcomeMappings {
		rows = append(rows, MappingRow{OutcomeMapping: m, Probability: rs.WinProbability(m.Stage)})
	}
	return rows
}

// LookupMapping finds the mapping for an exact triple.
func LookupMapping(mappings []OutcomeMapping, activityType, purpose, outcome string) (OutcomeMapping, bool) {
	for _, m := range mappings {
		if m.ActivityType == activityType && m.Purpose == purpose && m.Outcome == outcome {
			return m, true
		}
	}
	return OutcomeMapping{}, false
}

// ActiveOverrides returns the active rules in evaluation order. The sort is
// stable so equal priorities keep the caller's order.
func ActiveOverrides(rules []OverrideRule) []OverrideRule {
	active := make([]OverrideRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].EffectivePriority() < active[j].EffectivePriority()
	})
	return active
}

func (r OverrideRule) matches(activityType, purpose, outcome string) bool {
	return (r.ActivityType == "" || r.ActivityType == activityType) &&
		(r.Purpose == "" || r.Purpose == purpose) &&
		(r.Outcome == "" || r.Outcome == outcome)
}

// Classification explains where a computed stage came from.
type Classification struct {
	Stage  Stage  `json:"stage"`
	Source string `json:"source"`
	RuleID string `json:"ruleId,omitempty"`
}

const (
	SourceOverride = "override_rule"
	SourceMapping  = "outcome_mapping"
	SourceDefault  = "default"
)

// Classify is ComputeStage with provenance.
func Classify(activityType, purpose, outcome string, overrides []OverrideRule, mappings []OutcomeMapping) Classification {
	for _, rule := range ActiveOverrides(overrides) {
		if !IsKnownStage(string(rule.Stage)) {
			continue
		}
		if rule.matches(activityType, purpose, outcome) {
			return Classification{Stage: rule.Stage, Source: SourceOverride, RuleID: rule.ID}
		}
	}

	if m, ok := LookupMapping(mappings, activityType, purpose, outcome); ok && m.Stage != "" {
		return Classification{Stage: m.Stage, Source: SourceMapping}
	}

	return Classification{Stage: StageNew, Source: SourceDefault}
}

// ComputeStage derives a stage from a completed activity. Active override
// rules are tried in priority order, then the mapping table, then New. It
// never fails.
func ComputeStage(activityType, purpose, outcome string, overrides []OverrideRule, mappings []OutcomeMapping) Stage {
	return Classify(activityType, purpose, outcome, overrides, mappings).Stage
}

// ActivityDetails carries the per-type outcome fields captured on completion.
type ActivityDetails struct {
	CallOutcome          string `json:"callOutcome,omitempty"`
	MeetingOutcomeStatus string `json:"meetingOutcomeStatus,omitempty"`
	CompletionResult     string `json:"completionResult,omitempty"`
	MailStatus           string `json:"mailStatus,omitempty"`
}

// ExtractOutcome picks the outcome field relevant to activityType.
func ExtractOutcome(activityType string, d ActivityDetails) string {
	switch activityType {
	case "Call":
		return d.CallOutcome
	case "Meeting":
		if d.MeetingOutcomeStatus != "" {
			return d.MeetingOutcomeStatus
		}
		return d.CompletionResult
	case "Site Visit":
		return d.MeetingOutcomeStatus
	case "Email":
		return d.MailStatus
	default:
		return d.CompletionResult
	}
}
