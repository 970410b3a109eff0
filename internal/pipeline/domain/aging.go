package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ActivityStatusCompleted is the only status that drives stage and health.
const ActivityStatusCompleted = "Completed"

// ActivitySignal is the slice of an activity the scoring functions need.
type ActivitySignal struct {
	Type        string     `json:"type"`
	Purpose     string     `json:"purpose,omitempty"`
	Outcome     string     `json:"outcome"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Aging is elapsed whole days for an entity.
type Aging struct {
	TotalDays       int `json:"totalDays"`
	StageDays       int `json:"stageDays"`
	ActivityGapDays int `json:"activityGapDays"`
}

// DaysBetween returns whole days elapsed from since to now, never negative.
func DaysBetween(since, now time.Time) int {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / day)
}

// ComputeAging derives elapsed days. Missing stage or activity timestamps
// fall back to the entity's total age.
func ComputeAging(createdAt time.Time, stageChangedAt, lastActivityAt *time.Time, now time.Time) Aging {
	total := DaysBetween(createdAt, now)
	a := Aging{TotalDays: total, StageDays: total, ActivityGapDays: total}
	if stageChangedAt != nil {
		a.StageDays = DaysBetween(*stageChangedAt, now)
	}
	if lastActivityAt != nil {
		a.ActivityGapDays = DaysBetween(*lastActivityAt, now)
	}
	return a
}

// RiskFlag is one aging rule that fired.
type RiskFlag struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ComputeRiskFlags evaluates every risk rule against the aging figures.
// Several flags may fire at once.
func ComputeRiskFlags(stage Stage, aging Aging, cfg AgingConfig) []RiskFlag {
	flags := make([]RiskFlag, 0)
	for _, rule := range cfg.RiskRules {
		if rule.Stage != "" && rule.Stage != stage {
			continue
		}
		value := aging.StageDays
		if rule.Metric == MetricActivityGapDays {
			value = aging.ActivityGapDays
		}
		if value <= rule.MaxDays {
			continue
		}
		flags = append(flags, RiskFlag{
			Type:     rule.Type,
			Message:  renderRiskMessage(rule.Message, value, rule.MaxDays),
			Severity: rule.Severity,
		})
	}
	return flags
}

func renderRiskMessage(tmpl string, days, maxDays int) string {
	return strings.NewReplacer("{days}", strconv.Itoa(days), "{max}", strconv.Itoa(maxDays)).Replace(tmpl)
}

// DealDeath is a stall verdict. Severity is empty when not stalled.
type DealDeath struct {
	Stalled         bool     `json:"stalled"`
	Reason          string   `json:"reason,omitempty"`
	Severity        Severity `json:"severity,omitempty"`
	SuggestedAction string   `json:"suggestedAction,omitempty"`
}

// ComputeDealDeath detects stalled Negotiation and Opportunity deals. With no
// recorded offer change the offer is considered as old as the stage.
func ComputeDealDeath(stage Stage, stageDays int, lastOfferChangedAt *time.Time, activityGapDays int, cfg AgingConfig, now time.Time) DealDeath {
	threshold := cfg.NegotiationStalledDays
	if threshold <= 0 {
		threshold = 21
	}

	switch stage {
	case StageNegotiation:
		offerDaysAgo := stageDays
		if lastOfferChangedAt != nil {
			offerDaysAgo = DaysBetween(*lastOfferChangedAt, now)
		}

		if stageDays > threshold && offerDaysAgo >= threshold {
			return DealDeath{
				Stalled:         true,
				Reason:          fmt.Sprintf("Negotiation stalled: %d days in stage, no offer change for %d days", stageDays, offerDaysAgo),
				Severity:        SeverityCritical,
				SuggestedAction: "Revive with new offer or mark Closed Lost",
			}
		}

		if float64(stageDays) > float64(threshold)*0.7 && activityGapDays > cfg.NegotiationWarnGapDays {
			return DealDeath{
				Stalled:         true,
				Reason:          fmt.Sprintf("Negotiation at risk: %d days in stage, last activity %d days ago", stageDays, activityGapDays),
				Severity:        SeverityWarning,
				SuggestedAction: "Schedule follow-up immediately",
			}
		}
	case StageOpportunity:
		if stageDays > cfg.OpportunityStalledDays && activityGapDays > cfg.OpportunityGapDays {
			return DealDeath{
				Stalled:         true,
				Reason:          fmt.Sprintf("Opportunity stalled: %d days in stage, no activity for %d days", stageDays, activityGapDays),
				Severity:        SeverityWarning,
				SuggestedAction: "Re-engage or re-qualify the lead",
			}
		}
	}

	return DealDeath{}
}

// ComputeOwnerResponseRate maps days since last activity to a 0-100 rate.
// A fast historical average response adds a bonus; the result never exceeds
// 100. The rate never increases as the gap grows.
func ComputeOwnerResponseRate(activityGapDays int, avgResponseDays *float64) int {
	var rate int
	switch {
	case activityGapDays <= 2:
		rate = 100
	case activityGapDays <= 5:
		rate = 85
	case activityGapDays <= 7:
		rate = 70
	case activityGapDays <= 14:
		rate = 50
	case activityGapDays <= 21:
		rate = 35
	case activityGapDays <= 30:
		rate = 20
	default:
		rate = 10
	}

	if avgResponseDays != nil {
		switch {
		case *avgResponseDays <= 1:
			rate += 10
		case *avgResponseDays <= 3:
			rate += 5
		}
		if rate > 100 {
			rate = 100
		}
	}

	return rate
}

var (
	positiveOutcomeKeywords = []string{
		"interested", "connected", "accepted", "conducted", "visited", "positive",
		"agreed", "shortlisted", "follow up", "booked", "offer accepted",
	}
	negativeOutcomeKeywords = []string{
		"not interested", "rejected", "no answer", "cancelled", "wrong number",
		"no show", "did not visit", "lost", "withdrawn", "no response",
	}
	activityTypeBonus = map[string]float64{
		"Site Visit": 5,
		"Meeting":    3,
		"Call":       1,
	}
)

const (
	maxActivityScore      = 25
	missingCompletionDays = 30
)

// OutcomePoints scores an outcome text. Negative phrases are checked first so
// "not interested" does not count as "interested".
func OutcomePoints(outcome string) float64 {
	text := strings.ToLower(outcome)
	for _, k := range negativeOutcomeKeywords {
		if strings.Contains(text, k) {
			return -5
		}
	}
	for _, k := range positiveOutcomeKeywords {
		if strings.Contains(text, k) {
			return 10
		}
	}
	return 3
}

func recencyMultiplier(daysAgo int) float64 {
	switch {
	case daysAgo <= 7:
		return 1.5
	case daysAgo <= 30:
		return 1.0
	default:
		return 0.5
	}
}

// ComputeActivityScore scores completed activities by outcome quality, type
// and recency. The result is clamped to [0, 25].
func ComputeActivityScore(activities []ActivitySignal, now time.Time) int {
	var raw float64
	for _, act := range activities {
		if act.Status != ActivityStatusCompleted {
			continue
		}
		daysAgo := missingCompletionDays
		if act.CompletedAt != nil {
			daysAgo = DaysBetween(*act.CompletedAt, now)
		}
		raw += (OutcomePoints(act.Outcome) + activityTypeBonus[act.Type]) * recencyMultiplier(daysAgo)
	}

	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > maxActivityScore {
		return maxActivityScore
	}
	return score
}

// StalledReportSeverity grades an entry of the stalled-deals report. Deals
// more than 30 days in stage or 21 days idle are critical.
func StalledReportSeverity(stageDays, activityGapDays int) DealDeath {
	if stageDays > 30 || activityGapDays > 21 {
		return DealDeath{
			Stalled:         true,
			Severity:        SeverityCritical,
			SuggestedAction: "Immediate follow-up required or mark as lost",
		}
	}
	return DealDeath{
		Stalled:         true,
		Severity:        SeverityWarning,
		SuggestedAction: "Schedule a call or send an offer update",
	}
}
