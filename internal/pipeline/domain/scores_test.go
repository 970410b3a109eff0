package domain

import "testing"

func TestComputeLeadScore(t *testing.T) {
	intent := 72.4
	got := ComputeLeadScore(LeadScoreInput{Stage: StageNew, IntentIndex: &intent}, nil, testNow)
	if got.Score != 72 || got.Label != "Hot" {
		t.Fatalf("expected intent index to win, got %+v", got)
	}

	completed := []ActivitySignal{
		{Type: "Meeting", Purpose: "Requirement Gathering", Outcome: "Requirements Shared", Status: ActivityStatusCompleted},
		{Type: "Meeting", Purpose: "Requirement Gathering", Outcome: "Requirements Shared", Status: ActivityStatusCompleted},
		{Type: "Call", Purpose: "Introduction", Outcome: "Not In Table", Status: ActivityStatusCompleted},
	}
	got = ComputeLeadScore(LeadScoreInput{Stage: StageNew, Completed: completed, LastActivity: daysAgo(2)}, testMappings, testNow)
	if got.Score != 60 || got.Label != "Warm" {
		t.Fatalf("expected 10+40+10 Warm, got %+v", got)
	}

	got = ComputeLeadScore(LeadScoreInput{Stage: StageClosedWon, LastActivity: daysAgo(1)}, nil, testNow)
	if got.Score != 100 || got.Label != "Super Hot" {
		t.Fatalf("expected capped Super Hot, got %+v", got)
	}

	got = ComputeLeadScore(LeadScoreInput{Stage: "Archived"}, nil, testNow)
	if got.Score != 10 || got.Label != "Cold" {
		t.Fatalf("expected Cold default, got %+v", got)
	}
}

func TestComputeDealListScore(t *testing.T) {
	prob := 65.0
	got := ComputeDealListScore(DealScoreInput{Stage: StageNegotiation, LastActivity: daysAgo(1), HistoryDepth: 3, Probability: &prob}, testNow)
	if got.Score != 88 || got.Label != "Strong" {
		t.Fatalf("expected 60+15+6+7 Strong, got %+v", got)
	}

	got = ComputeDealListScore(DealScoreInput{Stage: StageQuote, LastActivity: daysAgo(10), HistoryDepth: 1}, testNow)
	if got.Score != 42 || got.Label != "Open" {
		t.Fatalf("expected 35+5+2 Open, got %+v", got)
	}

	got = ComputeDealListScore(DealScoreInput{Stage: "Archived"}, testNow)
	if got.Score != 20 || got.Label != "At Risk" {
		t.Fatalf("expected At Risk default, got %+v", got)
	}
}
