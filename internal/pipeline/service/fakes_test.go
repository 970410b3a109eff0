package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

type staticRules struct{ rs domain.Ruleset }

func (s staticRules) Current(context.Context) domain.Ruleset { return s.rs }

func testRuleset() domain.Ruleset {
	rs := domain.DefaultRuleset()
	rs.Version = 3
	rs.OutcomeMappings = []domain.OutcomeMapping{
		{ActivityType: "Call", Purpose: "Intro", Outcome: "Connected", Stage: domain.StageProspect, Score: 5},
		{ActivityType: "Call", Purpose: "Intro", Outcome: "Not Interested", Stage: domain.StageClosedLost},
		{ActivityType: "Meeting", Purpose: "Requirement", Outcome: "Interested", Stage: domain.StageQualified, Score: 10},
		{ActivityType: "Site Visit", Purpose: "Tour", Outcome: "Visited", Stage: domain.StageOpportunity, Score: 15},
		{ActivityType: "Meeting", Purpose: "Closing", Outcome: "Booked", Stage: domain.StageBooked, Score: 25},
	}
	return rs
}

type setDealCall struct {
	id     uuid.UUID
	stage  domain.Stage
	reason string
}

// fakeRepo is an in-memory repository.Repository.
type fakeRepo struct {
	mu         sync.Mutex
	leads      map[uuid.UUID]repository.Lead
	deals      map[uuid.UUID]repository.Deal
	activities []repository.Activity
	alerts     map[string]repository.Alert

	setLeadCalls []domain.Stage
	setDealCalls []setDealCall
	leadMetas    []repository.StageChangeMeta

	setLeadErr error
	setDealErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		leads:  make(map[uuid.UUID]repository.Lead),
		deals:  make(map[uuid.UUID]repository.Deal),
		alerts: make(map[string]repository.Alert),
	}
}

var _ repository.Repository = (*fakeRepo)(nil)

func (f *fakeRepo) addLead(l repository.Lead) repository.Lead {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = testNow.Add(-60 * 24 * time.Hour)
	}
	f.leads[l.ID] = l
	return l
}

func (f *fakeRepo) addDeal(d repository.Deal) repository.Deal {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = testNow.Add(-60 * 24 * time.Hour)
	}
	f.deals[d.ID] = d
	return d
}

func (f *fakeRepo) GetLead(_ context.Context, id uuid.UUID) (repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (f *fakeRepo) SetLeadStage(_ context.Context, id uuid.UUID, stage domain.Stage, meta repository.StageChangeMeta) (repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLeadCalls = append(f.setLeadCalls, stage)
	if f.setLeadErr != nil {
		return repository.Lead{}, f.setLeadErr
	}
	l := f.leads[id]
	l.Stage = stage
	now := testNow
	l.StageChangedAt = &now
	l.ActivitiesInStage = 0
	l.RulesetVersion = meta.RulesetVersion
	f.leads[id] = l
	f.leadMetas = append(f.leadMetas, meta)
	return l, nil
}

func (f *fakeRepo) RecordLeadActivity(_ context.Context, id uuid.UUID, at time.Time) (repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	l.ActivitiesInStage++
	l.LastActivityAt = &at
	f.leads[id] = l
	return l, nil
}

func (f *fakeRepo) ListLeadStagesForDeal(_ context.Context, dealID uuid.UUID) ([]domain.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stages []domain.Stage
	for _, l := range f.leads {
		if l.DealID != nil && *l.DealID == dealID {
			stages = append(stages, l.Stage)
		}
	}
	return stages, nil
}

func (f *fakeRepo) GetDeal(_ context.Context, id uuid.UUID) (repository.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return repository.Deal{}, apperr.NotFound("deal not found")
	}
	return d, nil
}

func (f *fakeRepo) SetDealStage(_ context.Context, id uuid.UUID, stage domain.Stage, reason string, _ repository.StageChangeMeta) (repository.DealWriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setDealErr != nil {
		return repository.DealWriteResult{}, f.setDealErr
	}
	d, ok := f.deals[id]
	if !ok {
		return repository.DealWriteResult{}, apperr.NotFound("deal not found")
	}
	if d.Stage == stage {
		return repository.DealWriteResult{PreviousStage: stage, Stage: stage, Deal: d}, nil
	}
	f.setDealCalls = append(f.setDealCalls, setDealCall{id: id, stage: stage, reason: reason})
	prev := d.Stage
	d.Stage = stage
	d.StageSyncReason = &reason
	f.deals[id] = d
	return repository.DealWriteResult{Changed: true, PreviousStage: prev, Stage: stage, Deal: d}, nil
}

func (f *fakeRepo) TouchDealActivity(_ context.Context, id uuid.UUID, at time.Time, offerChanged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return apperr.NotFound("deal not found")
	}
	d.LastActivityAt = &at
	if offerChanged {
		d.LastOfferChangedAt = &at
	}
	f.deals[id] = d
	return nil
}

func (f *fakeRepo) HasOwnerWithdrawal(_ context.Context, dealID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.activities {
		if a.EntityType == repository.EntityDeal && a.EntityID == dealID &&
			a.Type == domain.OwnerWithdrawalActivity && a.Status == domain.ActivityStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) GetHistory(ctx context.Context, entityType repository.EntityType, id uuid.UUID) (repository.History, error) {
	if entityType == repository.EntityDeal {
		d, err := f.GetDeal(ctx, id)
		return repository.History{CurrentStage: d.Stage}, err
	}
	l, err := f.GetLead(ctx, id)
	return repository.History{CurrentStage: l.Stage}, err
}

func (f *fakeRepo) CountHistoryByEntity(context.Context, repository.EntityType) (map[uuid.UUID]int, error) {
	return map[uuid.UUID]int{}, nil
}

func (f *fakeRepo) CreateActivity(_ context.Context, p repository.CreateActivityParams) (repository.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := repository.Activity{
		ID:          uuid.New(),
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		Type:        p.Type,
		Purpose:     p.Purpose,
		Outcome:     p.Outcome,
		Status:      p.Status,
		CompletedAt: p.CompletedAt,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   testNow,
	}
	f.activities = append(f.activities, a)
	return a, nil
}

func (f *fakeRepo) ListActivities(_ context.Context, entityType repository.EntityType, entityID uuid.UUID) ([]repository.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Activity
	for _, a := range f.activities {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListCompletedActivities(_ context.Context, entityType repository.EntityType) (map[uuid.UUID][]repository.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID][]repository.Activity)
	for _, a := range f.activities {
		if a.EntityType == entityType && a.Status == domain.ActivityStatusCompleted {
			out[a.EntityID] = append(out[a.EntityID], a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListLeads(context.Context) ([]repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Lead, 0, len(f.leads))
	for _, l := range f.leads {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRepo) ListDeals(context.Context) ([]repository.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Deal, 0, len(f.deals))
	for _, d := range f.deals {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeRepo) ListLinkedLeads(context.Context) (map[uuid.UUID][]repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID][]repository.Lead)
	for _, l := range f.leads {
		if l.DealID != nil {
			out[*l.DealID] = append(out[*l.DealID], l)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListLeadsForDeal(ctx context.Context, dealID uuid.UUID) ([]repository.Lead, error) {
	grouped, _ := f.ListLinkedLeads(ctx)
	return grouped[dealID], nil
}

func (f *fakeRepo) RecalculateLastActivity(context.Context, bool) ([]repository.LastActivityChange, error) {
	return nil, nil
}

func alertKey(dealID uuid.UUID, kind repository.AlertKind) string {
	return dealID.String() + "/" + string(kind)
}

func (f *fakeRepo) UpsertAlert(_ context.Context, p repository.UpsertAlertParams) (repository.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := alertKey(p.DealID, p.Kind)
	if a, ok := f.alerts[key]; ok {
		a.Severity, a.Message, a.Action = p.Severity, p.Message, p.Action
		f.alerts[key] = a
		return a, false, nil
	}
	a := repository.Alert{ID: uuid.New(), DealID: p.DealID, Kind: p.Kind, Severity: p.Severity, Message: p.Message, Action: p.Action, RaisedAt: testNow}
	f.alerts[key] = a
	return a, true, nil
}

func (f *fakeRepo) ResolveAlert(_ context.Context, dealID uuid.UUID, kind repository.AlertKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := alertKey(dealID, kind)
	if _, ok := f.alerts[key]; !ok {
		return false, nil
	}
	delete(f.alerts, key)
	return true, nil
}

func (f *fakeRepo) ListOpenAlerts(context.Context) ([]repository.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a)
	}
	return out, nil
}

// fakeOutbox records inserts only.
type fakeOutbox struct {
	mu      sync.Mutex
	inserts []outbox.InsertParams
}

var _ outbox.Store = (*fakeOutbox)(nil)

func (o *fakeOutbox) Insert(_ context.Context, p outbox.InsertParams) (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inserts = append(o.inserts, p)
	return uuid.New(), nil
}

var errNotImplemented = errors.New("not implemented")

func (o *fakeOutbox) GetByID(context.Context, uuid.UUID) (outbox.Record, error) {
	return outbox.Record{}, errNotImplemented
}
func (o *fakeOutbox) ClaimPending(context.Context, int) ([]outbox.Record, error) { return nil, nil }
func (o *fakeOutbox) MarkPending(context.Context, uuid.UUID, *string) error      { return nil }
func (o *fakeOutbox) MarkProcessing(context.Context, uuid.UUID) error            { return nil }
func (o *fakeOutbox) MarkSucceeded(context.Context, uuid.UUID) error             { return nil }
func (o *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string) error        { return nil }
func (o *fakeOutbox) ScheduleRetry(context.Context, uuid.UUID, time.Time, string) error {
	return nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, evt events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) PublishSync(ctx context.Context, evt events.Event) error {
	b.Publish(ctx, evt)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

type harness struct {
	svc    *Service
	repo   *fakeRepo
	outbox *fakeOutbox
	bus    *recordingBus
}

func newHarness() *harness {
	return newHarnessWithLocker(locker.NewMemory())
}

func newHarnessWithLocker(locks locker.Locker) *harness {
	h := &harness{repo: newFakeRepo(), outbox: &fakeOutbox{}, bus: &recordingBus{}}
	log := logger.NewWithWriter("production", io.Discard)
	h.svc = New(h.repo, staticRules{rs: testRuleset()}, locks, h.outbox, h.bus, log,
		WithClock(func() time.Time { return testNow }))
	return h
}

// unavailableLocker fails every Lock call, like an unreachable Redis.
type unavailableLocker struct{}

func (unavailableLocker) Lock(context.Context, string) (locker.Unlock, error) {
	return nil, errors.New("dial tcp: connection refused")
}
