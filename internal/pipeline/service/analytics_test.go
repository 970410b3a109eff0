package service

import (
	"context"
	"testing"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyUsesPersistedLeadCounters(t *testing.T) {
	h := newHarness()
	lead := h.repo.addLead(repository.Lead{Stage: domain.StageQualified, StageChangedAt: daysAgo(3)})

	resp, err := h.svc.Classify(context.Background(), transport.ClassifyRequest{
		ActivityType: "Call", Purpose: "Intro", Outcome: "Not Interested",
		LeadID: &lead.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StageClosedLost, resp.Classification.Stage)
	assert.Equal(t, domain.StageQualified, resp.CurrentStage)
	require.NotNil(t, resp.Transition)
	assert.False(t, resp.Transition.Allowed)
	assert.Empty(t, h.repo.activities)
}

func TestClassifyWithoutCurrentStageSkipsLockCheck(t *testing.T) {
	h := newHarness()

	resp, err := h.svc.Classify(context.Background(), transport.ClassifyRequest{
		ActivityType: "Site Visit", Purpose: "Tour", Outcome: "Visited",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StageOpportunity, resp.Classification.Stage)
	assert.Nil(t, resp.Transition)
	assert.Equal(t, float64(40), resp.WinProbability)
}

func TestDealHealthReport(t *testing.T) {
	h := newHarness()
	deal := h.repo.addDeal(repository.Deal{
		Stage:          domain.StageNegotiation,
		StageChangedAt: daysAgo(5),
		LastActivityAt: daysAgo(1),
		DealValue:      100000,
	})

	resp, err := h.svc.DealHealth(context.Background(), deal.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, resp.Aging.StageDays)
	assert.Equal(t, 1, resp.Aging.ActivityGapDays)
	assert.Empty(t, resp.RiskFlags)
	assert.Equal(t, 0, resp.LeadScore)
	assert.Equal(t, float64(65), resp.WinProbability)
	assert.InDelta(t, 65000, resp.Forecast.WeightedValue, 0.001)
	assert.InDelta(t, 2000, resp.Forecast.Commission, 0.001)
	assert.InDelta(t, 1300, resp.Forecast.ExpectedCommission, 0.001)
	assert.False(t, resp.Death.Stalled)
	assert.Equal(t, 100, resp.Health.OwnerRisk.Rate)
}

func TestDealHealthUnknownDeal(t *testing.T) {
	h := newHarness()
	_, err := h.svc.DealHealth(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestStalledDealsReport(t *testing.T) {
	h := newHarness()
	stuck := h.repo.addDeal(repository.Deal{Title: "stuck", Stage: domain.StageNegotiation, StageChangedAt: daysAgo(25), LastActivityAt: daysAgo(3)})
	idle := h.repo.addDeal(repository.Deal{Title: "idle", Stage: domain.StageProspect, StageChangedAt: daysAgo(40), LastActivityAt: daysAgo(30)})
	h.repo.addDeal(repository.Deal{Title: "active", Stage: domain.StageQualified, StageChangedAt: daysAgo(2), LastActivityAt: daysAgo(1)})
	h.repo.addDeal(repository.Deal{Title: "won", Stage: domain.StageClosedWon})

	resp, err := h.svc.StalledDeals(context.Background(), 0, 0)
	require.NoError(t, err)

	require.Equal(t, 2, resp.Count)
	assert.Equal(t, idle.ID, resp.Items[0].DealID)
	assert.Equal(t, domain.SeverityCritical, resp.Items[0].Death.Severity)
	assert.Equal(t, stuck.ID, resp.Items[1].DealID)
	assert.Equal(t, domain.SeverityWarning, resp.Items[1].Death.Severity)
}

func TestForecastTotals(t *testing.T) {
	h := newHarness()
	h.repo.addDeal(repository.Deal{Stage: domain.StageNegotiation, DealValue: 100000})
	h.repo.addDeal(repository.Deal{Stage: domain.StageBooked, DealValue: 200000})

	resp, err := h.svc.Forecast(context.Background())
	require.NoError(t, err)

	require.Len(t, resp.Stages, 2)
	assert.Equal(t, domain.StageNegotiation, resp.Stages[0].Stage)
	assert.Equal(t, domain.StageBooked, resp.Stages[1].Stage)
	assert.InDelta(t, 300000, resp.TotalValue, 0.001)
	assert.InDelta(t, 235000, resp.WeightedValue, 0.001)
	assert.InDelta(t, 4700, resp.ExpectedCommission, 0.001)
}

func TestLeadScoresCoverEveryLead(t *testing.T) {
	h := newHarness()
	intent := 88.0
	hot := h.repo.addLead(repository.Lead{Stage: domain.StageNew, IntentIndex: &intent})
	h.repo.addLead(repository.Lead{Stage: domain.StageProspect})

	resp, err := h.svc.LeadScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 88, resp.Scores[hot.ID.String()].Score)
}

func TestDensityDefaultsToLeads(t *testing.T) {
	h := newHarness()
	h.repo.addLead(repository.Lead{Stage: domain.StageNew})
	h.repo.addLead(repository.Lead{Stage: domain.StageBooked})
	h.repo.addDeal(repository.Deal{Stage: domain.StageOpen})

	report, err := h.svc.Density(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)

	deals, err := h.svc.Density(context.Background(), repository.EntityDeal)
	require.NoError(t, err)
	assert.Equal(t, 1, deals.Total)
}

func TestEvaluateAlertsLifecycle(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	deal := h.repo.addDeal(repository.Deal{
		Stage:          domain.StageNegotiation,
		StageChangedAt: daysAgo(30),
		LastActivityAt: daysAgo(10),
		DealValue:      3000000,
	})

	first, err := h.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Evaluated)
	assert.Equal(t, 2, first.Raised)
	assert.Equal(t, []string{
		events.PipelineAlertRaised{}.EventName(),
		events.PipelineAlertRaised{}.EventName(),
	}, h.bus.names())

	second, err := h.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Raised)
	assert.Equal(t, 2, second.Refreshed)

	d := h.repo.deals[deal.ID]
	d.Stage = domain.StageBooked
	d.StageChangedAt = daysAgo(1)
	d.LastActivityAt = daysAgo(0)
	d.DealValue = 1000
	h.repo.deals[deal.ID] = d

	third, err := h.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Resolved)
	open, _ := h.repo.ListOpenAlerts(ctx)
	assert.Empty(t, open)
}

func TestResyncAllDealsCountsChanges(t *testing.T) {
	h := newHarness()
	a := h.repo.addDeal(repository.Deal{Stage: domain.StageOpen})
	h.repo.addLead(repository.Lead{Stage: domain.StageQualified, DealID: &a.ID})
	h.repo.addDeal(repository.Deal{Stage: domain.StageOpen})

	resp, err := h.svc.ResyncAllDeals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Evaluated)
	assert.Equal(t, 1, resp.Changed)
	assert.Equal(t, 0, resp.Failed)
}
