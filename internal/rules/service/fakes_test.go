package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"pipeline_backend/internal/adapters/storage"
	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/repository"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeRepo struct {
	mu        sync.Mutex
	overrides map[string]domain.OverrideRule
	syncRules map[string]domain.SyncRule
	locks     domain.StabilityLocks
	settings  map[string]repository.Setting
	snapshots []repository.Snapshot
	seeded    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		overrides: map[string]domain.OverrideRule{},
		syncRules: map[string]domain.SyncRule{},
		locks:     domain.StabilityLocks{},
		settings:  map[string]repository.Setting{},
	}
}

var _ repository.Repository = (*fakeRepo)(nil)

func (f *fakeRepo) ListOverrideRules(context.Context) ([]domain.OverrideRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OverrideRule, 0, len(f.overrides))
	for _, r := range f.overrides {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (f *fakeRepo) GetOverrideRule(_ context.Context, id string) (domain.OverrideRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.overrides[id]
	if !ok {
		return domain.OverrideRule{}, apperr.NotFound("override rule not found")
	}
	return r, nil
}

func (f *fakeRepo) overridePriorityTaken(rule domain.OverrideRule) bool {
	for id, r := range f.overrides {
		if id != rule.ID && r.IsActive && rule.IsActive && r.Priority == rule.Priority {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CreateOverrideRule(_ context.Context, rule domain.OverrideRule) (domain.OverrideRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.overrides[rule.ID]; ok || f.overridePriorityTaken(rule) {
		return domain.OverrideRule{}, apperr.Conflict("conflict")
	}
	f.overrides[rule.ID] = rule
	return rule, nil
}

func (f *fakeRepo) UpdateOverrideRule(_ context.Context, rule domain.OverrideRule) (domain.OverrideRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.overrides[rule.ID]; !ok {
		return domain.OverrideRule{}, apperr.NotFound("override rule not found")
	}
	if f.overridePriorityTaken(rule) {
		return domain.OverrideRule{}, apperr.Conflict("conflict")
	}
	f.overrides[rule.ID] = rule
	return rule, nil
}

func (f *fakeRepo) DeleteOverrideRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.overrides[id]; !ok {
		return apperr.NotFound("override rule not found")
	}
	delete(f.overrides, id)
	return nil
}

func (f *fakeRepo) ListSyncRules(context.Context) ([]domain.SyncRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SyncRule, 0, len(f.syncRules))
	for _, r := range f.syncRules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (f *fakeRepo) GetSyncRule(_ context.Context, id string) (domain.SyncRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.syncRules[id]
	if !ok {
		return domain.SyncRule{}, apperr.NotFound("sync rule not found")
	}
	return r, nil
}

func (f *fakeRepo) CreateSyncRule(_ context.Context, rule domain.SyncRule) (domain.SyncRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.syncRules[rule.ID]; ok {
		return domain.SyncRule{}, apperr.Conflict("conflict")
	}
	f.syncRules[rule.ID] = rule
	return rule, nil
}

func (f *fakeRepo) UpdateSyncRule(_ context.Context, rule domain.SyncRule) (domain.SyncRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.syncRules[rule.ID]
	if !ok {
		return domain.SyncRule{}, apperr.NotFound("sync rule not found")
	}
	rule.IsLocked = cur.IsLocked
	f.syncRules[rule.ID] = rule
	return rule, nil
}

func (f *fakeRepo) DeleteSyncRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.syncRules[id]; !ok || r.IsLocked {
		return apperr.NotFound("sync rule not found")
	}
	delete(f.syncRules, id)
	return nil
}

func (f *fakeRepo) ListStabilityLocks(context.Context) (domain.StabilityLocks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := domain.StabilityLocks{}
	for k, v := range f.locks {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRepo) UpsertStabilityLock(_ context.Context, stage domain.Stage, lock domain.StabilityLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[stage] = lock
	return nil
}

func (f *fakeRepo) DeleteStabilityLock(_ context.Context, stage domain.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.locks[stage]; !ok {
		return apperr.NotFound("stability lock not found")
	}
	delete(f.locks, stage)
	return nil
}

func (f *fakeRepo) ListSettings(context.Context) ([]repository.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Setting, 0, len(f.settings))
	for _, s := range f.settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeRepo) GetSetting(_ context.Context, key string) (repository.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[key]
	if !ok {
		return repository.Setting{}, apperr.NotFound("setting not found")
	}
	return s, nil
}

func (f *fakeRepo) PutSetting(_ context.Context, key string, value json.RawMessage, by *uuid.UUID) (repository.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := repository.Setting{Key: key, Value: value, UpdatedBy: by, UpdatedAt: time.Now()}
	f.settings[key] = s
	return s, nil
}

func (f *fakeRepo) Seed(_ context.Context, seed repository.SeedData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded++
	for _, r := range seed.OverrideRules {
		if _, ok := f.overrides[r.ID]; !ok {
			f.overrides[r.ID] = r
		}
	}
	for _, r := range seed.SyncRules {
		if _, ok := f.syncRules[r.ID]; !ok {
			f.syncRules[r.ID] = r
		}
	}
	for k, v := range seed.StabilityLocks {
		if _, ok := f.locks[k]; !ok {
			f.locks[k] = v
		}
	}
	for k, v := range seed.Settings {
		if _, ok := f.settings[k]; !ok {
			f.settings[k] = repository.Setting{Key: k, Value: v}
		}
	}
	return nil
}

func (f *fakeRepo) LatestSnapshot(context.Context) (repository.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return repository.Snapshot{}, apperr.NotFound("ruleset snapshot not found")
	}
	return f.snapshots[len(f.snapshots)-1], nil
}

func (f *fakeRepo) LatestVersion(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots), nil
}

func (f *fakeRepo) GetSnapshot(_ context.Context, version int) (repository.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if version < 1 || version > len(f.snapshots) {
		return repository.Snapshot{}, apperr.NotFound("ruleset snapshot not found")
	}
	return f.snapshots[version-1], nil
}

func (f *fakeRepo) InsertSnapshot(_ context.Context, body json.RawMessage, by *uuid.UUID) (repository.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := repository.Snapshot{
		Version:     len(f.snapshots) + 1,
		Body:        body,
		PublishedBy: by,
		PublishedAt: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	f.snapshots = append(f.snapshots, snap)
	return snap, nil
}

func (f *fakeRepo) SetArchiveKey(_ context.Context, version int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[version-1].ArchiveKey = &key
	return nil
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) EnsureBucketExists(context.Context, string) error { return nil }

func (a *memArchive) PutSnapshot(_ context.Context, bucket string, version int, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	key := fmt.Sprintf("%s/v%d.json", bucket, version)
	a.objects[key] = body
	return key, nil
}

func (a *memArchive) GetSnapshot(_ context.Context, _ string, key string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.objects[key]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

type harness struct {
	repo    *fakeRepo
	archive *memArchive
	bus     *recordingBus
	svc     *Service
}

func newHarness() *harness {
	repo := newFakeRepo()
	archive := &memArchive{}
	bus := &recordingBus{}
	svc := New(repo, NewProvider(domain.DefaultRuleset()), locker.NewMemory(), bus,
		logger.NewWithWriter("test", io.Discard), WithArchive(archive, "rulesets"))
	return &harness{repo: repo, archive: archive, bus: bus, svc: svc}
}
