package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewWithWriter("test", io.Discard)
}

type fakeStore struct {
	outbox.Store
	mu      sync.Mutex
	pending []outbox.Record
	reset   map[uuid.UUID]string
}

func (s *fakeStore) ClaimPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := s.pending[:limit]
	s.pending = s.pending[limit:]
	return out, nil
}

func (s *fakeStore) MarkPending(_ context.Context, id uuid.UUID, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset == nil {
		s.reset = map[uuid.UUID]string{}
	}
	s.reset[id] = *lastError
	return nil
}

type fakeEnqueuer struct {
	failFor uuid.UUID
	got     []uuid.UUID
}

func (e *fakeEnqueuer) EnqueueDealSync(_ context.Context, id uuid.UUID, _ time.Time) error {
	if id == e.failFor {
		return errors.New("redis down")
	}
	e.got = append(e.got, id)
	return nil
}

func TestDispatchEnqueuesAndResetsFailures(t *testing.T) {
	ok, bad := uuid.New(), uuid.New()
	store := &fakeStore{pending: []outbox.Record{{ID: ok, RunAt: time.Now()}, {ID: bad, RunAt: time.Now()}}}
	enq := &fakeEnqueuer{failFor: bad}

	d := NewDealSyncDispatcher(enq, store, 0, testLogger())
	n := d.dispatch(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{ok}, enq.got)
	assert.Equal(t, "redis down", store.reset[bad])
	assert.Equal(t, defaultDispatchInterval, d.interval)
}

type fakeProcessor struct {
	got uuid.UUID
}

func (p *fakeProcessor) Process(_ context.Context, id uuid.UUID) error {
	p.got = id
	return nil
}

func TestHandleDealSyncRoutesToProcessor(t *testing.T) {
	proc := &fakeProcessor{}
	w := &Worker{processor: proc, log: testLogger()}
	id := uuid.New()

	task, err := NewDealSyncTask(DealSyncPayload{OutboxID: id.String()})
	require.NoError(t, err)
	require.NoError(t, w.handleDealSync(context.Background(), task))
	assert.Equal(t, id, proc.got)

	err = w.handleDealSync(context.Background(), asynq.NewTask(TaskDealSync, []byte(`{"outboxId":"nope"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type countingEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEvaluator) EvaluateAlerts(context.Context) (transport.AlertSweepResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return transport.AlertSweepResponse{Evaluated: 1, Raised: 1}, nil
}

func (e *countingEvaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestAlertSweeperRunsImmediatelyAndOnTicker(t *testing.T) {
	eval := &countingEvaluator{}
	s := NewAlertSweeper(eval, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return eval.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
