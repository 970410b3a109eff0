package domain

import "testing"

var testMappings = []OutcomeMapping{
	{ActivityType: "Call", Purpose: "Introduction", Outcome: "Interested", Stage: StageProspect, Score: 10},
	{ActivityType: "Meeting", Purpose: "Requirement Gathering", Outcome: "Requirements Shared", Stage: StageQualified, Score: 20},
	{ActivityType: "Site Visit", Purpose: "Property Tour", Outcome: "Liked Property", Stage: StageOpportunity, Score: 30},
}

func TestComputeStageIsTotal(t *testing.T) {
	cases := []struct {
		activityType, purpose, outcome string
	}{
		{"", "", ""},
		{"Call", "Introduction", "Unknown Outcome"},
		{"Carrier Pigeon", "Hello", "Delivered"},
	}

	for _, tc := range cases {
		got := Classify(tc.activityType, tc.purpose, tc.outcome, nil, testMappings)
		if got.Stage != StageNew || got.Source != SourceDefault {
			t.Fatalf("Classify(%q, %q, %q) = %+v, want New from default", tc.activityType, tc.purpose, tc.outcome, got)
		}
	}
}

func TestComputeStageUsesMapping(t *testing.T) {
	got := ComputeStage("Meeting", "Requirement Gathering", "Requirements Shared", nil, testMappings)
	if got != StageQualified {
		t.Fatalf("expected Qualified, got %s", got)
	}
}

func TestOverrideTakesPrecedenceOverMapping(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "ov-1", Priority: 1, Outcome: "Interested", Stage: StageQualified, IsActive: true},
	}

	got := Classify("Call", "Introduction", "Interested", overrides, testMappings)
	if got.Stage != StageQualified {
		t.Fatalf("expected override stage Qualified, got %s", got.Stage)
	}
	if got.Source != SourceOverride || got.RuleID != "ov-1" {
		t.Fatalf("expected provenance from ov-1, got %+v", got)
	}
}

func TestInactiveOverrideIsIgnored(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "ov-1", Priority: 1, Outcome: "Interested", Stage: StageBooked, IsActive: false},
	}

	if got := ComputeStage("Call", "Introduction", "Interested", overrides, testMappings); got != StageProspect {
		t.Fatalf("expected mapping stage Prospect, got %s", got)
	}
}

func TestOverrideWithUnknownStageIsSkipped(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "bad", Priority: 1, ActivityType: "Call", Stage: "Teleported", IsActive: true},
		{ID: "good", Priority: 2, ActivityType: "Call", Stage: StageNegotiation, IsActive: true},
	}

	got := Classify("Call", "Introduction", "Interested", overrides, testMappings)
	if got.RuleID != "good" || got.Stage != StageNegotiation {
		t.Fatalf("expected rule good to fire, got %+v", got)
	}
}

func TestOverrideTieKeepsSuppliedOrder(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "first", Priority: 2, ActivityType: "Call", Stage: StageQualified, IsActive: true},
		{ID: "second", Priority: 2, ActivityType: "Call", Stage: StageOpportunity, IsActive: true},
	}

	for i := 0; i < 20; i++ {
		got := Classify("Call", "Introduction", "Interested", overrides, testMappings)
		if got.RuleID != "first" {
			t.Fatalf("iteration %d: expected first rule to win the tie, got %s", i, got.RuleID)
		}
	}
}

func TestUnsetPrioritySortsLast(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "unset", Priority: 0, ActivityType: "Call", Stage: StageBooked, IsActive: true},
		{ID: "five", Priority: 5, ActivityType: "Call", Stage: StageQualified, IsActive: true},
	}

	ordered := ActiveOverrides(overrides)
	if len(ordered) != 2 || ordered[0].ID != "five" || ordered[1].ID != "unset" {
		t.Fatalf("unexpected order: %+v", ordered)
	}
}

func TestActiveOverridesDoesNotMutateInput(t *testing.T) {
	overrides := []OverrideRule{
		{ID: "b", Priority: 3, IsActive: true},
		{ID: "a", Priority: 1, IsActive: true},
	}

	_ = ActiveOverrides(overrides)
	if overrides[0].ID != "b" || overrides[1].ID != "a" {
		t.Fatalf("input was reordered: %+v", overrides)
	}
}

func TestActivityMasterFlattenDefaultsStage(t *testing.T) {
	master := ActivityMaster{Activities: []MasterActivity{{
		Name: "Call",
		Purposes: []MasterPurpose{{
			Name: "Introduction",
			Outcomes: []MasterOutcome{
				{Label: "Interested", Stage: StageProspect, Score: 10},
				{Label: "Call Back Later"},
			},
		}},
	}}}

	rows := master.Flatten()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Stage != StageNew {
		t.Fatalf("expected empty stage to flatten to New, got %q", rows[1].Stage)
	}
	if rows[0].ActivityType != "Call" || rows[0].Purpose != "Introduction" || rows[0].Score != 10 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
}

func TestFlattenOutcomeMappingsAttachesProbability(t *testing.T) {
	rs := DefaultRuleset()
	rs.OutcomeMappings = testMappings

	rows := FlattenOutcomeMappings(rs)
	if len(rows) != len(testMappings) {
		t.Fatalf("expected %d rows, got %d", len(testMappings), len(rows))
	}
	if rows[2].Probability != 40 {
		t.Fatalf("expected Opportunity probability 40, got %v", rows[2].Probability)
	}
}

func TestExtractOutcome(t *testing.T) {
	cases := []struct {
		activityType string
		details      ActivityDetails
		want         string
	}{
		{"Call", ActivityDetails{CallOutcome: "Interested", CompletionResult: "ignored"}, "Interested"},
		{"Meeting", ActivityDetails{MeetingOutcomeStatus: "Conducted"}, "Conducted"},
		{"Meeting", ActivityDetails{CompletionResult: "Rescheduled"}, "Rescheduled"},
		{"Site Visit", ActivityDetails{MeetingOutcomeStatus: "Visited"}, "Visited"},
		{"Email", ActivityDetails{MailStatus: "Opened"}, "Opened"},
		{"Task", ActivityDetails{CompletionResult: "Done"}, "Done"},
	}

	for _, tc := range cases {
		if got := ExtractOutcome(tc.activityType, tc.details); got != tc.want {
			t.Errorf("ExtractOutcome(%q) = %q, want %q", tc.activityType, got, tc.want)
		}
	}
}
