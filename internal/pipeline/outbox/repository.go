// Package outbox is the durable retry queue for lead-to-deal stage syncs
// whose cascade failed. Rows are claimed by the scheduler and replayed
// through the deal resync operation until they succeed or exhaust attempts.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusEnqueued       Status = "enqueued"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "deal sync outbox repository not configured"
)

// ClaimLease is how long a row may stay enqueued or processing before a
// claimer treats its task as lost and takes the row again.
const ClaimLease = 5 * time.Minute

type Record struct {
	ID        uuid.UUID
	DealID    uuid.UUID
	LeadID    *uuid.UUID
	Reason    string
	RunAt     time.Time
	Status    Status
	Attempts  int
	LastError *string
	UpdatedAt time.Time
}

// Claimable reports whether a claimer may take the row at now: due pending
// rows, and enqueued or processing rows whose lease ran out.
func (r Record) Claimable(now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return !r.RunAt.After(now)
	case StatusEnqueued, StatusProcessing:
		return r.UpdatedAt.Before(now.Add(-ClaimLease))
	default:
		return false
	}
}

type InsertParams struct {
	DealID    uuid.UUID
	LeadID    *uuid.UUID
	Reason    string
	RunAt     time.Time
	LastError *string
}

// Store is the outbox surface used by the orchestrator and scheduler.
type Store interface {
	Insert(ctx context.Context, p InsertParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (Record, error)
	ClaimPending(ctx context.Context, limit int) ([]Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const recordColumns = `id, deal_id, lead_id, reason, run_at, status, attempts, last_error, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.ID, &rec.DealID, &rec.LeadID, &rec.Reason, &rec.RunAt, &status, &rec.Attempts, &rec.LastError, &rec.UpdatedAt)
	rec.Status = Status(status)
	return rec, err
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	if p.DealID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("dealId is required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO deal_sync_outbox (deal_id, lead_id, reason, run_at, status, last_error)
		 VALUES ($1, $2, $3, $4, 'pending', $5)
		 RETURNING id`,
		p.DealID, p.LeadID, p.Reason, p.RunAt, p.LastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}
	return scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM deal_sync_outbox WHERE id = $1`, id))
}

// ClaimPending moves up to limit claimable rows to enqueued. Concurrent
// claimers skip each other's rows. A row reclaimed after its lease expired
// gets a fresh run_at so its queue task id differs from the lost one.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM deal_sync_outbox
		WHERE (status = 'pending' AND run_at <= now())
		   OR (status IN ('enqueued', 'processing') AND updated_at < now() - make_interval(secs => $2))
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE deal_sync_outbox o
	SET status = 'enqueued',
	    run_at = CASE WHEN o.status = 'pending' THEN o.run_at ELSE now() END,
	    updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.deal_id, o.lead_id, o.reason, o.run_at, o.status, o.attempts, o.last_error, o.updated_at`, limit, ClaimLease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deal_sync_outbox
		 SET status = 'pending', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deal_sync_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deal_sync_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deal_sync_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deal_sync_outbox
		 SET status = 'pending', run_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, runAt, lastError,
	)
	return err
}
