package outbox

import (
	"context"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 8
	retryBaseDelay     = 30 * time.Second
	retryMaxDelay      = 30 * time.Minute
)

// ResyncFunc recomputes and persists one deal's stage.
type ResyncFunc func(ctx context.Context, dealID uuid.UUID) error

// Processor replays a claimed outbox row through the deal resync and
// schedules a backoff retry on failure.
type Processor struct {
	store       Store
	resync      ResyncFunc
	bus         events.Bus
	log         *logger.Logger
	maxAttempts int
	now         func() time.Time
}

func NewProcessor(store Store, resync ResyncFunc, bus events.Bus, maxAttempts int, log *logger.Logger) *Processor {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Processor{
		store:       store,
		resync:      resync,
		bus:         bus,
		log:         log,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Process handles one outbox row. Sync failures are recorded on the row and
// never returned, so the queue does not retry on top of the outbox. Outbox
// write errors are returned after the row is handed back to pending; if that
// also fails, ClaimPending takes the row again once its lease runs out.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusSucceeded || rec.Status == StatusFailed {
		p.log.Debug("deal sync outbox record already finished; skipping", "outboxId", rec.ID.String(), "status", rec.Status)
		return nil
	}
	if rec.Attempts >= p.maxAttempts {
		// Workers died mid-task often enough to use up every attempt.
		p.log.Warn("deal sync outbox record reclaimed too often; marked failed",
			"outboxId", rec.ID.String(), "dealId", rec.DealID.String(), "attempts", rec.Attempts)
		return p.store.MarkFailed(ctx, rec.ID, "attempts exhausted without a recorded result")
	}
	if err := p.store.MarkProcessing(ctx, rec.ID); err != nil {
		p.release(ctx, rec, err)
		return err
	}

	syncErr := p.resync(ctx, rec.DealID)
	if syncErr == nil {
		if err := p.store.MarkSucceeded(ctx, rec.ID); err != nil {
			p.release(ctx, rec, err)
			return err
		}
		p.log.Info("deal sync outbox record processed", "outboxId", rec.ID.String(), "dealId", rec.DealID.String())
		return nil
	}

	p.handleSyncError(ctx, rec, syncErr)
	return nil
}

func (p *Processor) release(ctx context.Context, rec Record, cause error) {
	msg := cause.Error()
	if err := p.store.MarkPending(ctx, rec.ID, &msg); err != nil {
		p.log.Warn("deal sync outbox record left for lease reclaim",
			"outboxId", rec.ID.String(), "error", cause, "releaseError", err)
	}
}

func (p *Processor) handleSyncError(ctx context.Context, rec Record, syncErr error) {
	attempt := rec.Attempts + 1
	exhausted := attempt >= p.maxAttempts || apperr.Is(syncErr, apperr.KindNotFound)

	if !exhausted {
		retryAt := p.now().UTC().Add(RetryDelay(attempt))
		if err := p.store.ScheduleRetry(ctx, rec.ID, retryAt, syncErr.Error()); err != nil {
			p.log.Error("deal sync retry scheduling failed; marked failed", "outboxId", rec.ID.String(), "error", err)
			exhausted = true
		} else {
			p.log.Warn("deal sync scheduled retry",
				"outboxId", rec.ID.String(),
				"dealId", rec.DealID.String(),
				"attempt", attempt,
				"maxAttempts", p.maxAttempts,
				"retryAt", retryAt,
				"error", syncErr,
			)
		}
	}

	if exhausted {
		_ = p.store.MarkFailed(ctx, rec.ID, syncErr.Error())
		p.log.Warn("deal sync outbox exhausted retries",
			"outboxId", rec.ID.String(),
			"dealId", rec.DealID.String(),
			"attempt", attempt,
			"error", syncErr,
		)
	}

	if p.bus != nil {
		p.bus.Publish(ctx, events.DealSyncFailed{
			BaseEvent: events.NewBaseEvent(),
			DealID:    rec.DealID,
			LeadID:    rec.LeadID,
			Error:     syncErr.Error(),
			Attempt:   attempt,
			Exhausted: exhausted,
		})
	}
}

// RetryDelay doubles from 30s per attempt, capped at 30m.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return retryMaxDelay
	}
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}
