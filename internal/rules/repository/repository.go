package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	msgOverrideRuleNotFound = "override rule not found"
	msgSyncRuleNotFound     = "sync rule not found"
	msgPriorityTaken        = "another active rule already uses this priority"
	msgRuleIDTaken          = "a rule with this id already exists"

	pgUniqueViolation = "23505"
)

// Repo implements Repository on PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new rules repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// conflictOr maps unique violations to Conflict errors and wraps the rest.
func conflictOr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if strings.HasSuffix(pgErr.ConstraintName, "_pkey") {
			return apperr.Conflict(msgRuleIDTaken).WithOp(op)
		}
		return apperr.Conflict(msgPriorityTaken).WithOp(op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// =============================================================================
// Override rules
// =============================================================================

const overrideColumns = `id, priority, activity_type, purpose, outcome, stage, is_active`

func scanOverride(row pgx.Row) (domain.OverrideRule, error) {
	var r domain.OverrideRule
	var stage string
	err := row.Scan(&r.ID, &r.Priority, &r.ActivityType, &r.Purpose, &r.Outcome, &stage, &r.IsActive)
	r.Stage = domain.Stage(stage)
	return r, err
}

func (r *Repo) ListOverrideRules(ctx context.Context) ([]domain.OverrideRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+overrideColumns+` FROM override_rules ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list override rules: %w", err)
	}
	defer rows.Close()

	var out []domain.OverrideRule
	for rows.Next() {
		rule, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repo) GetOverrideRule(ctx context.Context, id string) (domain.OverrideRule, error) {
	rule, err := scanOverride(r.pool.QueryRow(ctx, `SELECT `+overrideColumns+` FROM override_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OverrideRule{}, apperr.NotFound(msgOverrideRuleNotFound)
	}
	if err != nil {
		return domain.OverrideRule{}, fmt.Errorf("get override rule: %w", err)
	}
	return rule, nil
}

func (r *Repo) CreateOverrideRule(ctx context.Context, rule domain.OverrideRule) (domain.OverrideRule, error) {
	created, err := scanOverride(r.pool.QueryRow(ctx, `
		INSERT INTO override_rules (id, priority, activity_type, purpose, outcome, stage, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+overrideColumns,
		rule.ID, rule.Priority, rule.ActivityType, rule.Purpose, rule.Outcome, string(rule.Stage), rule.IsActive))
	if err != nil {
		return domain.OverrideRule{}, conflictOr(err, "create override rule")
	}
	return created, nil
}

func (r *Repo) UpdateOverrideRule(ctx context.Context, rule domain.OverrideRule) (domain.OverrideRule, error) {
	updated, err := scanOverride(r.pool.QueryRow(ctx, `
		UPDATE override_rules
		SET priority = $2, activity_type = $3, purpose = $4, outcome = $5, stage = $6,
			is_active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+overrideColumns,
		rule.ID, rule.Priority, rule.ActivityType, rule.Purpose, rule.Outcome, string(rule.Stage), rule.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OverrideRule{}, apperr.NotFound(msgOverrideRuleNotFound)
	}
	if err != nil {
		return domain.OverrideRule{}, conflictOr(err, "update override rule")
	}
	return updated, nil
}

func (r *Repo) DeleteOverrideRule(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM override_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete override rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgOverrideRuleNotFound)
	}
	return nil
}

// =============================================================================
// Sync rules
// =============================================================================

const syncColumns = `id, priority, label, condition, condition_stage, condition_activity,
	deal_stage, deal_reason, is_active, is_locked`

func scanSync(row pgx.Row) (domain.SyncRule, error) {
	var r domain.SyncRule
	var condition, condStage, dealStage string
	err := row.Scan(&r.ID, &r.Priority, &r.Label, &condition, &condStage, &r.ConditionActivity,
		&dealStage, &r.DealReason, &r.IsActive, &r.IsLocked)
	r.Condition = domain.SyncCondition(condition)
	r.ConditionStage = domain.Stage(condStage)
	r.DealStage = domain.Stage(dealStage)
	return r, err
}

func (r *Repo) ListSyncRules(ctx context.Context) ([]domain.SyncRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+syncColumns+` FROM sync_rules ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list sync rules: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncRule
	for rows.Next() {
		rule, err := scanSync(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repo) GetSyncRule(ctx context.Context, id string) (domain.SyncRule, error) {
	rule, err := scanSync(r.pool.QueryRow(ctx, `SELECT `+syncColumns+` FROM sync_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncRule{}, apperr.NotFound(msgSyncRuleNotFound)
	}
	if err != nil {
		return domain.SyncRule{}, fmt.Errorf("get sync rule: %w", err)
	}
	return rule, nil
}

func (r *Repo) CreateSyncRule(ctx context.Context, rule domain.SyncRule) (domain.SyncRule, error) {
	created, err := scanSync(r.pool.QueryRow(ctx, `
		INSERT INTO sync_rules (id, priority, label, condition, condition_stage, condition_activity,
			deal_stage, deal_reason, is_active, is_locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+syncColumns,
		rule.ID, rule.Priority, rule.Label, string(rule.Condition), string(rule.ConditionStage),
		rule.ConditionActivity, string(rule.DealStage), rule.DealReason, rule.IsActive, rule.IsLocked))
	if err != nil {
		return domain.SyncRule{}, conflictOr(err, "create sync rule")
	}
	return created, nil
}

// UpdateSyncRule never changes is_locked.
func (r *Repo) UpdateSyncRule(ctx context.Context, rule domain.SyncRule) (domain.SyncRule, error) {
	updated, err := scanSync(r.pool.QueryRow(ctx, `
		UPDATE sync_rules
		SET priority = $2, label = $3, condition = $4, condition_stage = $5, condition_activity = $6,
			deal_stage = $7, deal_reason = $8, is_active = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+syncColumns,
		rule.ID, rule.Priority, rule.Label, string(rule.Condition), string(rule.ConditionStage),
		rule.ConditionActivity, string(rule.DealStage), rule.DealReason, rule.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncRule{}, apperr.NotFound(msgSyncRuleNotFound)
	}
	if err != nil {
		return domain.SyncRule{}, conflictOr(err, "update sync rule")
	}
	return updated, nil
}

func (r *Repo) DeleteSyncRule(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_rules WHERE id = $1 AND NOT is_locked`, id)
	if err != nil {
		return fmt.Errorf("delete sync rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgSyncRuleNotFound)
	}
	return nil
}
