package domain

import "fmt"

// TransitionResult is the stability lock verdict.
type TransitionResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ValidateStageTransition decides whether an entity may move from current to
// proposed given the evidence accumulated in current. Upgrades and recovery
// from terminal states are always allowed; downgrades must satisfy the lock
// configured for current. A denial means the entity stays at current and the
// proposed stage is discarded.
func ValidateStageTransition(current, proposed Stage, activitiesInStage, daysInStage int, locks StabilityLocks) TransitionResult {
	if Rank(proposed) >= Rank(current) {
		return TransitionResult{Allowed: true, Reason: "Upgrade: no lock check needed"}
	}
	if IsTerminal(current) {
		return TransitionResult{Allowed: true, Reason: "Recovery from terminal or stalled state"}
	}

	lock, ok := locks[current]
	if !ok {
		return TransitionResult{Allowed: true, Reason: "No stability lock configured for this stage"}
	}

	if activitiesInStage < lock.MinActivities {
		return TransitionResult{
			Allowed: false,
			Reason: fmt.Sprintf("Stage locked: %s. Current activities: %d, required: %d.",
				lock.Label, activitiesInStage, lock.MinActivities),
		}
	}

	if daysInStage < lock.MinDays {
		return TransitionResult{
			Allowed: false,
			Reason: fmt.Sprintf("Stage locked: Minimum %d day(s) required in %s. Current: %d.",
				lock.MinDays, current, daysInStage),
		}
	}

	return TransitionResult{Allowed: true, Reason: "Stability check passed"}
}
