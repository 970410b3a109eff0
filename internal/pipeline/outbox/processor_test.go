package outbox

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	now     time.Time

	succeededErr error
	pendingErr   error
}

func newMemoryStore(recs ...Record) *memoryStore {
	s := &memoryStore{records: make(map[uuid.UUID]*Record), now: time.Now()}
	for i := range recs {
		rec := recs[i]
		s.records[rec.ID] = &rec
	}
	return s
}

func (s *memoryStore) get(id uuid.UUID) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memoryStore) Insert(_ context.Context, p InsertParams) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.records[id] = &Record{ID: id, DealID: p.DealID, LeadID: p.LeadID, Reason: p.Reason, RunAt: p.RunAt, Status: StatusPending}
	return id, nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, apperr.NotFound("outbox record not found")
	}
	return *rec, nil
}

func (s *memoryStore) ClaimPending(context.Context, int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if !rec.Claimable(s.now) {
			continue
		}
		if rec.Status != StatusPending {
			rec.RunAt = s.now
		}
		rec.Status = StatusEnqueued
		rec.UpdatedAt = s.now
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memoryStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *memoryStore) setStatus(id uuid.UUID, status Status, lastError *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = status
	s.records[id].LastError = lastError
	s.records[id].UpdatedAt = s.now
}

func (s *memoryStore) MarkPending(_ context.Context, id uuid.UUID, lastError *string) error {
	if s.pendingErr != nil {
		return s.pendingErr
	}
	s.setStatus(id, StatusPending, lastError)
	return nil
}

func (s *memoryStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = StatusProcessing
	s.records[id].Attempts++
	s.records[id].UpdatedAt = s.now
	return nil
}

func (s *memoryStore) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	if s.succeededErr != nil {
		return s.succeededErr
	}
	s.setStatus(id, StatusSucceeded, nil)
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	s.setStatus(id, StatusFailed, &lastError)
	return nil
}

func (s *memoryStore) ScheduleRetry(_ context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = StatusPending
	s.records[id].RunAt = runAt
	s.records[id].LastError = &lastError
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter("test", io.Discard)
}

func TestProcessMarksSucceeded(t *testing.T) {
	dealID := uuid.New()
	rec := Record{ID: uuid.New(), DealID: dealID, Status: StatusEnqueued}
	store := newMemoryStore(rec)

	var synced uuid.UUID
	p := NewProcessor(store, func(_ context.Context, id uuid.UUID) error {
		synced = id
		return nil
	}, nil, 3, testLogger())

	require.NoError(t, p.Process(context.Background(), rec.ID))
	assert.Equal(t, dealID, synced)

	got := store.get(rec.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestProcessSchedulesRetryWithBackoff(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued, Attempts: 1}
	store := newMemoryStore(rec)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p := NewProcessor(store, func(context.Context, uuid.UUID) error {
		return errors.New("connection reset")
	}, nil, 5, testLogger())
	p.now = func() time.Time { return now }

	require.NoError(t, p.Process(context.Background(), rec.ID))

	got := store.get(rec.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, now.Add(60*time.Second), got.RunAt)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "connection reset", *got.LastError)
}

func TestProcessMarksFailedWhenExhausted(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued, Attempts: 2}
	store := newMemoryStore(rec)
	bus := events.NewInMemoryBus(testLogger())

	var received events.DealSyncFailed
	bus.Subscribe(events.DealSyncFailed{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		received = e.(events.DealSyncFailed)
		return nil
	}))

	p := NewProcessor(store, func(context.Context, uuid.UUID) error {
		return errors.New("still broken")
	}, bus, 3, testLogger())

	require.NoError(t, p.Process(context.Background(), rec.ID))
	bus.Wait()

	assert.Equal(t, StatusFailed, store.get(rec.ID).Status)
	assert.True(t, received.Exhausted)
	assert.Equal(t, 3, received.Attempt)
	assert.Equal(t, rec.DealID, received.DealID)
}

func TestProcessFailsFastWhenDealIsGone(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued}
	store := newMemoryStore(rec)

	p := NewProcessor(store, func(context.Context, uuid.UUID) error {
		return apperr.NotFound("deal not found")
	}, nil, 8, testLogger())

	require.NoError(t, p.Process(context.Background(), rec.ID))
	assert.Equal(t, StatusFailed, store.get(rec.ID).Status)
}

func TestProcessSkipsFinishedRecords(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusSucceeded}
	store := newMemoryStore(rec)

	called := false
	p := NewProcessor(store, func(context.Context, uuid.UUID) error {
		called = true
		return nil
	}, nil, 3, testLogger())

	require.NoError(t, p.Process(context.Background(), rec.ID))
	assert.False(t, called)
	assert.Equal(t, 0, store.get(rec.ID).Attempts)
}

func TestProcessReleasesRowWhenOutboxWriteFails(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued}
	store := newMemoryStore(rec)
	store.succeededErr = errors.New("conn reset")

	p := NewProcessor(store, func(context.Context, uuid.UUID) error { return nil }, nil, 3, testLogger())

	require.EqualError(t, p.Process(context.Background(), rec.ID), "conn reset")

	got := store.get(rec.ID)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "conn reset", *got.LastError)

	claimed, err := store.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, rec.ID, claimed[0].ID)
}

func TestStrandedRowIsReclaimedAfterLease(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued}
	store := newMemoryStore(rec)
	store.succeededErr = errors.New("conn reset")
	store.pendingErr = errors.New("conn reset")

	p := NewProcessor(store, func(context.Context, uuid.UUID) error { return nil }, nil, 3, testLogger())
	require.Error(t, p.Process(context.Background(), rec.ID))
	assert.Equal(t, StatusProcessing, store.get(rec.ID).Status)

	claimed, err := store.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "row is still leased")

	store.advance(ClaimLease + time.Second)
	claimed, err = store.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, StatusEnqueued, claimed[0].Status)
	assert.Equal(t, store.now, claimed[0].RunAt, "reclaimed row needs a fresh task id")

	store.succeededErr = nil
	require.NoError(t, p.Process(context.Background(), rec.ID))
	got := store.get(rec.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcessFailsRowThatUsedEveryAttempt(t *testing.T) {
	rec := Record{ID: uuid.New(), DealID: uuid.New(), Status: StatusEnqueued, Attempts: 3}
	store := newMemoryStore(rec)

	called := false
	p := NewProcessor(store, func(context.Context, uuid.UUID) error {
		called = true
		return nil
	}, nil, 3, testLogger())

	require.NoError(t, p.Process(context.Background(), rec.ID))
	assert.False(t, called)
	assert.Equal(t, StatusFailed, store.get(rec.ID).Status)
}

func TestRecordClaimable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"due pending", Record{Status: StatusPending, RunAt: now}, true},
		{"future pending", Record{Status: StatusPending, RunAt: now.Add(time.Minute)}, false},
		{"fresh enqueued", Record{Status: StatusEnqueued, UpdatedAt: now.Add(-time.Minute)}, false},
		{"stale enqueued", Record{Status: StatusEnqueued, UpdatedAt: now.Add(-ClaimLease - time.Second)}, true},
		{"stale processing", Record{Status: StatusProcessing, UpdatedAt: now.Add(-ClaimLease - time.Second)}, true},
		{"succeeded", Record{Status: StatusSucceeded, UpdatedAt: now.Add(-time.Hour)}, false},
		{"failed", Record{Status: StatusFailed, UpdatedAt: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Claimable(now))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(0))
	assert.Equal(t, 30*time.Second, RetryDelay(1))
	assert.Equal(t, 2*time.Minute, RetryDelay(3))
	assert.Equal(t, 30*time.Minute, RetryDelay(10))
	assert.Equal(t, 30*time.Minute, RetryDelay(100))
}
