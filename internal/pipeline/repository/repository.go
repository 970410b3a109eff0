package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	msgLeadNotFound = "lead not found"
	msgDealNotFound = "deal not found"
)

// Repo implements Repository on PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new pipeline repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

const leadColumns = `id, deal_id, name, stage, stage_changed_at, activities_in_stage,
	last_activity_at, intent_index, ruleset_version, created_at, updated_at`

const dealColumns = `id, title, stage, stage_changed_at, stage_sync_reason, deal_value,
	probability, last_activity_at, last_offer_changed_at, ruleset_version, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	var stage string
	err := row.Scan(&l.ID, &l.DealID, &l.Name, &stage, &l.StageChangedAt, &l.ActivitiesInStage,
		&l.LastActivityAt, &l.IntentIndex, &l.RulesetVersion, &l.CreatedAt, &l.UpdatedAt)
	l.Stage = domain.Stage(stage)
	return l, err
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	var stage string
	err := row.Scan(&d.ID, &d.Title, &stage, &d.StageChangedAt, &d.StageSyncReason, &d.DealValue,
		&d.Probability, &d.LastActivityAt, &d.LastOfferChangedAt, &d.RulesetVersion, &d.CreatedAt, &d.UpdatedAt)
	d.Stage = domain.Stage(stage)
	return d, err
}

func (r *Repo) GetLead(ctx context.Context, id uuid.UUID) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM pipeline_leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound(msgLeadNotFound)
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (r *Repo) SetLeadStage(ctx context.Context, id uuid.UUID, stage domain.Stage, meta StageChangeMeta) (Lead, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Lead{}, fmt.Errorf("begin lead stage tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previous string
	err = tx.QueryRow(ctx, `SELECT stage FROM pipeline_leads WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound(msgLeadNotFound)
	}
	if err != nil {
		return Lead{}, fmt.Errorf("lock lead: %w", err)
	}

	now := time.Now().UTC()
	if err := writeHistory(ctx, tx, EntityLead, id, stage, previous, now, meta); err != nil {
		return Lead{}, err
	}

	lead, err := scanLead(tx.QueryRow(ctx, `
		UPDATE pipeline_leads
		SET stage = $2, stage_changed_at = $3, activities_in_stage = 0,
			last_activity_at = CASE WHEN $4 THEN $3 ELSE last_activity_at END,
			ruleset_version = $5, updated_at = $3
		WHERE id = $1
		RETURNING `+leadColumns,
		id, string(stage), now, meta.TriggeredBy == TriggerActivity, meta.RulesetVersion))
	if err != nil {
		return Lead{}, fmt.Errorf("update lead stage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Lead{}, fmt.Errorf("commit lead stage: %w", err)
	}
	return lead, nil
}

func (r *Repo) RecordLeadActivity(ctx context.Context, id uuid.UUID, at time.Time) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE pipeline_leads
		SET activities_in_stage = activities_in_stage + 1,
			last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2),
			updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound(msgLeadNotFound)
	}
	if err != nil {
		return Lead{}, fmt.Errorf("record lead activity: %w", err)
	}
	return lead, nil
}

func (r *Repo) ListLeadStagesForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.Stage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage FROM pipeline_leads
		WHERE deal_id = $1
		ORDER BY created_at ASC, id ASC`, dealID)
	if err != nil {
		return nil, fmt.Errorf("list lead stages: %w", err)
	}
	defer rows.Close()

	stages := make([]domain.Stage, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan lead stage: %w", err)
		}
		stages = append(stages, domain.Stage(s))
	}
	return stages, rows.Err()
}

func (r *Repo) GetDeal(ctx context.Context, id uuid.UUID) (Deal, error) {
	deal, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM pipeline_deals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, apperr.NotFound(msgDealNotFound)
	}
	if err != nil {
		return Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return deal, nil
}

func (r *Repo) SetDealStage(ctx context.Context, id uuid.UUID, stage domain.Stage, reason string, meta StageChangeMeta) (DealWriteResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return DealWriteResult{}, fmt.Errorf("begin deal stage tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanDeal(tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM pipeline_deals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DealWriteResult{}, apperr.NotFound(msgDealNotFound)
	}
	if err != nil {
		return DealWriteResult{}, fmt.Errorf("lock deal: %w", err)
	}

	if current.Stage == stage {
		return DealWriteResult{Changed: false, PreviousStage: current.Stage, Stage: stage, Deal: current}, nil
	}

	now := time.Now().UTC()
	if meta.Reason == "" {
		meta.Reason = reason
	}
	if err := writeHistory(ctx, tx, EntityDeal, id, stage, string(current.Stage), now, meta); err != nil {
		return DealWriteResult{}, err
	}

	updated, err := scanDeal(tx.QueryRow(ctx, `
		UPDATE pipeline_deals
		SET stage = $2, stage_changed_at = $3, stage_sync_reason = $4,
			ruleset_version = $5, updated_at = $3
		WHERE id = $1
		RETURNING `+dealColumns,
		id, string(stage), now, reason, meta.RulesetVersion))
	if err != nil {
		return DealWriteResult{}, fmt.Errorf("update deal stage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DealWriteResult{}, fmt.Errorf("commit deal stage: %w", err)
	}
	return DealWriteResult{Changed: true, PreviousStage: current.Stage, Stage: stage, Deal: updated}, nil
}

func (r *Repo) TouchDealActivity(ctx context.Context, id uuid.UUID, at time.Time, offerChanged bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_deals
		SET last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2),
			last_offer_changed_at = CASE WHEN $3 THEN $2 ELSE last_offer_changed_at END,
			updated_at = now()
		WHERE id = $1`, id, at, offerChanged)
	if err != nil {
		return fmt.Errorf("touch deal activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgDealNotFound)
	}
	return nil
}

func (r *Repo) HasOwnerWithdrawal(ctx context.Context, dealID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pipeline_activities
			WHERE entity_type = 'deal' AND entity_id = $1
				AND type = $2 AND status = $3
		)`, dealID, domain.OwnerWithdrawalActivity, domain.ActivityStatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check owner withdrawal: %w", err)
	}
	return exists, nil
}
