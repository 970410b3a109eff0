package domain

import "sort"

// FallbackSyncReason is recorded when no sync rule fired.
const FallbackSyncReason = "Conflict resolution: highest priority lead stage"

// SyncResult is the deal stage derived from linked leads.
type SyncResult struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
	RuleID string `json:"ruleId,omitempty"`
}

// ActiveSyncRules returns the active rules ordered by priority. Ties keep the
// caller's order.
func ActiveSyncRules(rules []SyncRule) []SyncRule {
	active := make([]SyncRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}

// ComputeDealStageFromLeads derives a deal stage from the stages of its
// linked leads. Active rules fire in priority order; when none fires the
// highest lead stage in the deal priority order wins, defaulting to Open.
func ComputeDealStageFromLeads(leadStages []Stage, rules []SyncRule, hasOwnerWithdrawal bool) SyncResult {
	for _, rule := range ActiveSyncRules(rules) {
		switch rule.Condition {
		case ConditionActivity:
			if hasOwnerWithdrawal && rule.ConditionActivity == OwnerWithdrawalActivity {
				reason := rule.DealReason
				if reason == "" {
					reason = rule.Label
				}
				return SyncResult{Stage: rule.DealStage, Reason: reason, RuleID: rule.ID}
			}
		case ConditionAnyLead:
			if anyStage(leadStages, rule.ConditionStage) {
				return SyncResult{Stage: rule.DealStage, Reason: rule.Label, RuleID: rule.ID}
			}
		case ConditionAllLeads:
			if len(leadStages) > 0 && allStages(leadStages, rule.ConditionStage) {
				return SyncResult{Stage: rule.DealStage, Reason: rule.Label, RuleID: rule.ID}
			}
		}
	}

	best := StageOpen
	bestIdx := dealPriorityIndex(best)
	for _, s := range leadStages {
		if idx := dealPriorityIndex(s); idx > bestIdx {
			best, bestIdx = s, idx
		}
	}
	return SyncResult{Stage: best, Reason: FallbackSyncReason}
}

func anyStage(stages []Stage, target Stage) bool {
	for _, s := range stages {
		if s == target {
			return true
		}
	}
	return false
}

func allStages(stages []Stage, target Stage) bool {
	for _, s := range stages {
		if s != target {
			return false
		}
	}
	return true
}
