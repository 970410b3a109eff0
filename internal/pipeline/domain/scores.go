package domain

import (
	"math"
	"time"
)

// ListScore is the lightweight score shown in lead and deal lists.
type ListScore struct {
	Score int    `json:"score"`
	Label string `json:"label"`
}

var (
	leadStageWeights = map[Stage]int{
		StageNew: 10, StageProspect: 20, StageQualified: 40, StageOpportunity: 55,
		StageNegotiation: 70, StageBooked: 85, StageClosedWon: 100, StageClosedLost: 5, StageStalled: 15,
	}
	dealStageWeights = map[Stage]int{
		StageOpen: 20, StageQuote: 35, StageOpportunity: 45, StageNegotiation: 60,
		StageBooked: 85, StageClosedWon: 100, StageClosedLost: 5, StageStalled: 15,
	}
)

// noActivityDays stands in for "never" when no activity timestamp exists.
const noActivityDays = 999

func daysSince(t *time.Time, now time.Time) int {
	if t == nil || t.IsZero() {
		return noActivityDays
	}
	return DaysBetween(*t, now)
}

// LeadScoreInput carries what ComputeLeadScore reads from a lead.
type LeadScoreInput struct {
	Stage       Stage
	IntentIndex *float64
	Completed   []ActivitySignal
	// LastActivity falls back to the stage change time when unset.
	LastActivity *time.Time
}

// ComputeLeadScore returns a 0-100 temperature score. A positive intent index
// is used as is; otherwise the score is the stage weight plus the mapping
// scores of completed activities plus a recency bonus.
func ComputeLeadScore(in LeadScoreInput, mappings []OutcomeMapping, now time.Time) ListScore {
	var score int
	if in.IntentIndex != nil && *in.IntentIndex > 0 {
		score = int(math.Round(*in.IntentIndex))
	} else {
		weight, ok := leadStageWeights[in.Stage]
		if !ok {
			weight = 10
		}

		behaviour := 0
		for _, act := range in.Completed {
			if m, ok := LookupMapping(mappings, act.Type, act.Purpose, act.Outcome); ok {
				behaviour += m.Score
			}
		}

		bonus := 0
		switch d := daysSince(in.LastActivity, now); {
		case d <= 3:
			bonus = 10
		case d <= 7:
			bonus = 5
		}

		score = min(100, weight+behaviour+bonus)
	}

	return ListScore{Score: score, Label: leadTemperature(score)}
}

func leadTemperature(score int) string {
	switch {
	case score >= 81:
		return "Super Hot"
	case score >= 61:
		return "Hot"
	case score >= 31:
		return "Warm"
	default:
		return "Cold"
	}
}

// DealScoreInput carries what ComputeDealListScore reads from a deal.
type DealScoreInput struct {
	Stage        Stage
	LastActivity *time.Time
	HistoryDepth int
	Probability  *float64
}

// ComputeDealListScore blends stage weight, activity recency, stage history
// depth and the recorded deal probability.
func ComputeDealListScore(in DealScoreInput, now time.Time) ListScore {
	weight, ok := dealStageWeights[in.Stage]
	if !ok {
		weight = 20
	}

	bonus := 0
	switch d := daysSince(in.LastActivity, now); {
	case d <= 3:
		bonus = 15
	case d <= 7:
		bonus = 10
	case d <= 14:
		bonus = 5
	}

	depth := min(10, in.HistoryDepth*2)

	prob := 0
	if in.Probability != nil {
		prob = int(math.Round(*in.Probability * 0.1))
	}

	score := min(100, weight+bonus+depth+prob)

	var label string
	switch {
	case score >= 80:
		label = "Strong"
	case score >= 55:
		label = "Active"
	case score >= 30:
		label = "Open"
	default:
		label = "At Risk"
	}
	return ListScore{Score: score, Label: label}
}
