// Package domain holds the pure stage engine: classification, stability
// locks, lead-to-deal sync, aging, health and forecast. Nothing in this
// package performs I/O or reads ambient configuration; every function takes
// the Ruleset snapshot it needs.
package domain

// Stage is a canonical pipeline position of a lead or deal.
type Stage string

const (
	StageNew         Stage = "New"
	StageProspect    Stage = "Prospect"
	StageQualified   Stage = "Qualified"
	StageOpportunity Stage = "Opportunity"
	StageNegotiation Stage = "Negotiation"
	StageStalled     Stage = "Stalled"
	StageBooked      Stage = "Booked"
	StageClosedWon   Stage = "Closed Won"
	StageClosedLost  Stage = "Closed Lost"

	// Deal-only stages.
	StageOpen  Stage = "Open"
	StageQuote Stage = "Quote"
)

// stageRank orders lead stages for downgrade detection. Stalled sits between
// Negotiation and Booked as a sideways state; Closed Lost is the lowest.
var stageRank = map[Stage]int{
	StageClosedLost:  0,
	StageNew:         1,
	StageProspect:    2,
	StageQualified:   3,
	StageOpportunity: 4,
	StageNegotiation: 5,
	StageStalled:     6,
	StageBooked:      7,
	StageClosedWon:   8,
}

// dealStagePriority is the conflict-resolution order used when no sync rule
// fires. Later entries win.
var dealStagePriority = []Stage{
	StageOpen,
	StageProspect,
	StageQualified,
	StageOpportunity,
	StageQuote,
	StageNegotiation,
	StageBooked,
	StageClosedWon,
	StageClosedLost,
}

// FunnelStages is the forward path used by density analytics.
var FunnelStages = []Stage{
	StageNew,
	StageProspect,
	StageQualified,
	StageOpportunity,
	StageNegotiation,
	StageBooked,
	StageClosedWon,
}

// Rank returns the position of s in the lead stage order. Unknown labels rank
// as New.
func Rank(s Stage) int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return stageRank[StageNew]
}

// IsTerminal reports whether s is a terminal or sideways state. Leaving such
// a state is a recovery and is never blocked.
func IsTerminal(s Stage) bool {
	return s == StageStalled || s == StageClosedLost || s == StageClosedWon
}

// IsLeadStage reports whether s is a known lead stage.
func IsLeadStage(s Stage) bool {
	_, ok := stageRank[s]
	return ok
}

// IsDealStage reports whether s is a stage a deal may hold.
func IsDealStage(s Stage) bool {
	if s == StageNew || s == StageStalled {
		return true
	}
	return dealPriorityIndex(s) >= 0
}

// IsKnownStage reports whether s is any lead or deal stage.
func IsKnownStage(s string) bool {
	st := Stage(s)
	return IsLeadStage(st) || IsDealStage(st)
}

func dealPriorityIndex(s Stage) int {
	for i, candidate := range dealStagePriority {
		if candidate == s {
			return i
		}
	}
	return -1
}

// AllStages lists every stage label in a stable display order.
func AllStages() []Stage {
	return []Stage{
		StageNew, StageOpen, StageProspect, StageQualified, StageOpportunity, StageQuote,
		StageNegotiation, StageStalled, StageBooked, StageClosedWon, StageClosedLost,
	}
}
