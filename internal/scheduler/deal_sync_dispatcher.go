package scheduler

import (
	"context"
	"time"

	"pipeline_backend/internal/pipeline/outbox"
	"pipeline_backend/platform/logger"
)

const (
	defaultDispatchInterval = 2 * time.Second
	dispatchBatchSize       = 50
)

// DealSyncDispatcher moves due outbox rows onto the worker queue.
type DealSyncDispatcher struct {
	enqueuer DealSyncEnqueuer
	store    outbox.Store
	log      *logger.Logger
	interval time.Duration
}

func NewDealSyncDispatcher(enqueuer DealSyncEnqueuer, store outbox.Store, interval time.Duration, log *logger.Logger) *DealSyncDispatcher {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	return &DealSyncDispatcher{
		enqueuer: enqueuer,
		store:    store,
		log:      log,
		interval: interval,
	}
}

func (d *DealSyncDispatcher) Run(ctx context.Context) {
	if d == nil || d.enqueuer == nil || d.store == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.dispatch(ctx)
	}
}

// dispatch claims one batch and reports how many rows were enqueued.
func (d *DealSyncDispatcher) dispatch(ctx context.Context) int {
	records, err := d.store.ClaimPending(ctx, dispatchBatchSize)
	if err != nil {
		d.log.Warn("deal sync outbox claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, rec := range records {
		if err := d.enqueuer.EnqueueDealSync(ctx, rec.ID, rec.RunAt); err != nil {
			msg := err.Error()
			_ = d.store.MarkPending(ctx, rec.ID, &msg)
			continue
		}
		enqueued++
	}
	return enqueued
}
