package service

import (
	"context"
	"sort"
	"time"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultStalledStageDays = 21
	DefaultStalledIdleDays  = 14
)

// dealInputs is everything a health report reads for one deal.
type dealInputs struct {
	deal       repository.Deal
	activities []repository.Activity
	leads      []repository.Lead
	leadActs   map[uuid.UUID][]repository.Activity
}

func completedSignals(acts []repository.Activity) []domain.ActivitySignal {
	out := make([]domain.ActivitySignal, 0, len(acts))
	for _, a := range acts {
		if a.Status == domain.ActivityStatusCompleted {
			out = append(out, a.Signal())
		}
	}
	return out
}

func leadScore(lead repository.Lead, acts []repository.Activity, rs domain.Ruleset, now time.Time) domain.ListScore {
	last := lead.LastActivityAt
	if last == nil {
		last = lead.StageChangedAt
	}
	return domain.ComputeLeadScore(domain.LeadScoreInput{
		Stage:        lead.Stage,
		IntentIndex:  lead.IntentIndex,
		Completed:    completedSignals(acts),
		LastActivity: last,
	}, rs.OutcomeMappings, now)
}

// healthReport computes aging, risk, health, forecast, leakage and the stall
// verdict for one deal. The best linked lead score stands in for lead
// quality; a deal without leads scores 0 there.
func healthReport(in dealInputs, rs domain.Ruleset, now time.Time) transport.HealthResponse {
	deal := in.deal
	aging := domain.ComputeAging(deal.CreatedAt, deal.StageChangedAt, deal.LastActivityAt, now)
	flags := domain.ComputeRiskFlags(deal.Stage, aging, rs.Aging)

	best := 0
	for _, lead := range in.leads {
		if sc := leadScore(lead, in.leadActs[lead.ID], rs, now).Score; sc > best {
			best = sc
		}
	}

	health := domain.ComputeDealHealth(domain.HealthInput{
		LeadScore:     best,
		Stage:         deal.Stage,
		RiskFlags:     flags,
		ResponseRate:  domain.ComputeOwnerResponseRate(aging.ActivityGapDays, nil),
		ActivityScore: domain.ComputeActivityScore(completedSignals(in.activities), now),
	}, rs.Health)

	win := rs.WinProbability(deal.Stage)
	forecast := domain.ComputeForecast(deal.DealValue, win, rs.Forecast.CommissionRate)

	return transport.HealthResponse{
		DealID:         deal.ID,
		Stage:          deal.Stage,
		Aging:          aging,
		RiskFlags:      flags,
		Health:         health,
		Forecast:       forecast,
		Leakage:        domain.DetectCommissionLeakage(health.Score, forecast.Commission, rs.Forecast.LeakageThreshold),
		Death:          domain.ComputeDealDeath(deal.Stage, aging.StageDays, deal.LastOfferChangedAt, aging.ActivityGapDays, rs.Aging, now),
		WinProbability: win,
		LeadScore:      best,
		RulesetVersion: rs.Version,
	}
}

// DealHealth reads one deal and its linked leads and reports its health.
func (s *Service) DealHealth(ctx context.Context, dealID uuid.UUID) (transport.HealthResponse, error) {
	rs := s.rules.Current(ctx)

	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return transport.HealthResponse{}, err
	}
	acts, err := s.repo.ListActivities(ctx, repository.EntityDeal, dealID)
	if err != nil {
		return transport.HealthResponse{}, err
	}
	leads, err := s.repo.ListLeadsForDeal(ctx, dealID)
	if err != nil {
		return transport.HealthResponse{}, err
	}

	leadActs := make(map[uuid.UUID][]repository.Activity, len(leads))
	for _, lead := range leads {
		la, err := s.repo.ListActivities(ctx, repository.EntityLead, lead.ID)
		if err != nil {
			return transport.HealthResponse{}, err
		}
		leadActs[lead.ID] = la
	}

	return healthReport(dealInputs{deal: deal, activities: acts, leads: leads, leadActs: leadActs}, rs, s.clock()), nil
}

// StalledDeals lists Negotiation deals older than stageDays in stage plus
// any open deal idle for more than idleDays. Each deal appears once.
func (s *Service) StalledDeals(ctx context.Context, stageDays, idleDays int) (transport.StalledListResponse, error) {
	if stageDays <= 0 {
		stageDays = DefaultStalledStageDays
	}
	if idleDays <= 0 {
		idleDays = DefaultStalledIdleDays
	}

	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return transport.StalledListResponse{}, err
	}

	rs := s.rules.Current(ctx)
	now := s.clock()
	items := make([]transport.StalledDealResponse, 0)
	for _, d := range deals {
		if d.Stage == domain.StageClosedWon || d.Stage == domain.StageClosedLost {
			continue
		}
		aging := domain.ComputeAging(d.CreatedAt, d.StageChangedAt, d.LastActivityAt, now)
		stuck := d.Stage == domain.StageNegotiation && d.StageChangedAt != nil && aging.StageDays > stageDays
		idle := d.LastActivityAt == nil || aging.ActivityGapDays > idleDays
		if !stuck && !idle {
			continue
		}

		verdict := domain.StalledReportSeverity(aging.StageDays, aging.ActivityGapDays)
		if death := domain.ComputeDealDeath(d.Stage, aging.StageDays, d.LastOfferChangedAt, aging.ActivityGapDays, rs.Aging, now); death.Stalled {
			verdict.Reason = death.Reason
		}
		items = append(items, transport.StalledDealResponse{
			DealID:          d.ID,
			Title:           d.Title,
			Stage:           d.Stage,
			StageDays:       aging.StageDays,
			ActivityGapDays: aging.ActivityGapDays,
			Death:           verdict,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StageDays > items[j].StageDays
	})
	return transport.StalledListResponse{Items: items, Count: len(items)}, nil
}

// Density builds the stage funnel for leads or deals.
func (s *Service) Density(ctx context.Context, entity repository.EntityType) (domain.DensityReport, error) {
	rs := s.rules.Current(ctx)

	var entities []domain.DensityEntity
	switch entity {
	case repository.EntityDeal:
		deals, err := s.repo.ListDeals(ctx)
		if err != nil {
			return domain.DensityReport{}, err
		}
		for _, d := range deals {
			entities = append(entities, domain.DensityEntity{Stage: d.Stage, StageChangedAt: d.StageChangedAt, CreatedAt: d.CreatedAt})
		}
	default:
		leads, err := s.repo.ListLeads(ctx)
		if err != nil {
			return domain.DensityReport{}, err
		}
		for _, l := range leads {
			entities = append(entities, domain.DensityEntity{Stage: l.Stage, StageChangedAt: l.StageChangedAt, CreatedAt: l.CreatedAt})
		}
	}

	return domain.ComputeStageDensity(entities, rs, s.clock()), nil
}

// Forecast totals probability-weighted deal value per stage.
func (s *Service) Forecast(ctx context.Context) (transport.ForecastResponse, error) {
	rs := s.rules.Current(ctx)

	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return transport.ForecastResponse{}, err
	}

	byStage := make(map[domain.Stage]*transport.StageForecast)
	resp := transport.ForecastResponse{
		Stages:         make([]transport.StageForecast, 0),
		CommissionRate: rs.Forecast.CommissionRate,
		RulesetVersion: rs.Version,
	}
	for _, d := range deals {
		win := rs.WinProbability(d.Stage)
		f := domain.ComputeForecast(d.DealValue, win, rs.Forecast.CommissionRate)

		row, ok := byStage[d.Stage]
		if !ok {
			row = &transport.StageForecast{Stage: d.Stage, WinProbability: win}
			byStage[d.Stage] = row
		}
		row.Count++
		row.TotalValue += d.DealValue
		row.WeightedValue += f.WeightedValue
		row.ExpectedCommission += f.ExpectedCommission

		resp.TotalValue += d.DealValue
		resp.WeightedValue += f.WeightedValue
		resp.ExpectedCommission += f.ExpectedCommission
	}

	for _, stage := range domain.AllStages() {
		if row, ok := byStage[stage]; ok {
			resp.Stages = append(resp.Stages, *row)
			delete(byStage, stage)
		}
	}
	// Legacy labels not in the canonical list still get a row.
	rest := make([]domain.Stage, 0, len(byStage))
	for stage := range byStage {
		rest = append(rest, stage)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, stage := range rest {
		resp.Stages = append(resp.Stages, *byStage[stage])
	}
	return resp, nil
}

// LeadScores returns a list score for every lead.
func (s *Service) LeadScores(ctx context.Context) (transport.ScoresResponse, error) {
	rs := s.rules.Current(ctx)

	leads, err := s.repo.ListLeads(ctx)
	if err != nil {
		return transport.ScoresResponse{}, err
	}
	acts, err := s.repo.ListCompletedActivities(ctx, repository.EntityLead)
	if err != nil {
		return transport.ScoresResponse{}, err
	}

	now := s.clock()
	scores := make(map[string]domain.ListScore, len(leads))
	for _, lead := range leads {
		scores[lead.ID.String()] = leadScore(lead, acts[lead.ID], rs, now)
	}
	return transport.ScoresResponse{Count: len(scores), Scores: scores}, nil
}

// DealScores returns a list score for every deal.
func (s *Service) DealScores(ctx context.Context) (transport.ScoresResponse, error) {
	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return transport.ScoresResponse{}, err
	}
	depth, err := s.repo.CountHistoryByEntity(ctx, repository.EntityDeal)
	if err != nil {
		return transport.ScoresResponse{}, err
	}

	now := s.clock()
	scores := make(map[string]domain.ListScore, len(deals))
	for _, d := range deals {
		scores[d.ID.String()] = domain.ComputeDealListScore(domain.DealScoreInput{
			Stage:        d.Stage,
			LastActivity: d.LastActivityAt,
			HistoryDepth: depth[d.ID],
			Probability:  d.Probability,
		}, now)
	}
	return transport.ScoresResponse{Count: len(scores), Scores: scores}, nil
}

// RecalculateLastActivity realigns last_activity_at with recorded activities.
func (s *Service) RecalculateLastActivity(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error) {
	changes, err := s.repo.RecalculateLastActivity(ctx, dryRun)
	if err != nil {
		return transport.BulkRecalcResponse{}, err
	}

	out := make([]transport.LastActivityChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, transport.LastActivityChange{
			EntityType: string(c.EntityType),
			EntityID:   c.EntityID,
			Previous:   c.Previous,
			Computed:   c.Computed,
		})
	}
	if !dryRun {
		s.log.Info("last activity recalculated", "count", len(out))
	}
	return transport.BulkRecalcResponse{DryRun: dryRun, Count: len(out), Changes: out}, nil
}

// healthReports computes a report for every open deal with bounded
// concurrency. Closed deals are skipped.
func (s *Service) healthReports(ctx context.Context, rs domain.Ruleset) ([]transport.HealthResponse, error) {
	deals, err := s.repo.ListDeals(ctx)
	if err != nil {
		return nil, err
	}
	dealActs, err := s.repo.ListCompletedActivities(ctx, repository.EntityDeal)
	if err != nil {
		return nil, err
	}
	linked, err := s.repo.ListLinkedLeads(ctx)
	if err != nil {
		return nil, err
	}
	leadActs, err := s.repo.ListCompletedActivities(ctx, repository.EntityLead)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	open := make([]repository.Deal, 0, len(deals))
	for _, d := range deals {
		if d.Stage != domain.StageClosedWon && d.Stage != domain.StageClosedLost {
			open = append(open, d)
		}
	}

	reports := make([]transport.HealthResponse, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, d := range open {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = healthReport(dealInputs{
				deal:       d,
				activities: dealActs[d.ID],
				leads:      linked[d.ID],
				leadActs:   leadActs,
			}, rs, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
