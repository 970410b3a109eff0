package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	msgLockNotFound     = "stability lock not found"
	msgSettingNotFound  = "setting not found"
	msgSnapshotNotFound = "ruleset snapshot not found"

	// snapshotLockID serializes version allocation across publishers.
	snapshotLockID = 7_340_021
)

func (r *Repo) ListStabilityLocks(ctx context.Context) (domain.StabilityLocks, error) {
	rows, err := r.pool.Query(ctx, `SELECT stage, min_activities, min_days, label FROM stability_locks`)
	if err != nil {
		return nil, fmt.Errorf("list stability locks: %w", err)
	}
	defer rows.Close()

	out := domain.StabilityLocks{}
	for rows.Next() {
		var stage string
		var lock domain.StabilityLock
		if err := rows.Scan(&stage, &lock.MinActivities, &lock.MinDays, &lock.Label); err != nil {
			return nil, fmt.Errorf("scan stability lock: %w", err)
		}
		out[domain.Stage(stage)] = lock
	}
	return out, rows.Err()
}

func (r *Repo) UpsertStabilityLock(ctx context.Context, stage domain.Stage, lock domain.StabilityLock) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stability_locks (stage, min_activities, min_days, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stage) DO UPDATE
		SET min_activities = EXCLUDED.min_activities, min_days = EXCLUDED.min_days,
			label = EXCLUDED.label, updated_at = now()`,
		string(stage), lock.MinActivities, lock.MinDays, lock.Label)
	if err != nil {
		return fmt.Errorf("upsert stability lock: %w", err)
	}
	return nil
}

func (r *Repo) DeleteStabilityLock(ctx context.Context, stage domain.Stage) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stability_locks WHERE stage = $1`, string(stage))
	if err != nil {
		return fmt.Errorf("delete stability lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgLockNotFound)
	}
	return nil
}

func (r *Repo) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, updated_by, updated_at FROM engine_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) GetSetting(ctx context.Context, key string) (Setting, error) {
	var s Setting
	err := r.pool.QueryRow(ctx, `SELECT key, value, updated_by, updated_at FROM engine_settings WHERE key = $1`, key).
		Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, apperr.NotFound(msgSettingNotFound)
	}
	if err != nil {
		return Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return s, nil
}

func (r *Repo) PutSetting(ctx context.Context, key string, value json.RawMessage, updatedBy *uuid.UUID) (Setting, error) {
	var s Setting
	err := r.pool.QueryRow(ctx, `
		INSERT INTO engine_settings (key, value, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()
		RETURNING key, value, updated_by, updated_at`,
		key, value, updatedBy).Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		return Setting{}, fmt.Errorf("put setting: %w", err)
	}
	return s, nil
}

func (r *Repo) Seed(ctx context.Context, seed SeedData) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, rule := range seed.OverrideRules {
		batch.Queue(`
			INSERT INTO override_rules (id, priority, activity_type, purpose, outcome, stage, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING`,
			rule.ID, rule.Priority, rule.ActivityType, rule.Purpose, rule.Outcome, string(rule.Stage), rule.IsActive)
	}
	for _, rule := range seed.SyncRules {
		batch.Queue(`
			INSERT INTO sync_rules (id, priority, label, condition, condition_stage, condition_activity,
				deal_stage, deal_reason, is_active, is_locked)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT DO NOTHING`,
			rule.ID, rule.Priority, rule.Label, string(rule.Condition), string(rule.ConditionStage),
			rule.ConditionActivity, string(rule.DealStage), rule.DealReason, rule.IsActive, rule.IsLocked)
	}
	for stage, lock := range seed.StabilityLocks {
		batch.Queue(`
			INSERT INTO stability_locks (stage, min_activities, min_days, label)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (stage) DO NOTHING`,
			string(stage), lock.MinActivities, lock.MinDays, lock.Label)
	}
	for key, value := range seed.Settings {
		batch.Queue(`
			INSERT INTO engine_settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING`, key, value)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

const snapshotColumns = `version, body, published_by, published_at, archive_key`

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.Version, &s.Body, &s.PublishedBy, &s.PublishedAt, &s.ArchiveKey)
	return s, err
}

func (r *Repo) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	snap, err := scanSnapshot(r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM ruleset_snapshots ORDER BY version DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, apperr.NotFound(msgSnapshotNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repo) LatestVersion(ctx context.Context) (int, error) {
	var version int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM ruleset_snapshots`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest snapshot version: %w", err)
	}
	return version, nil
}

func (r *Repo) GetSnapshot(ctx context.Context, version int) (Snapshot, error) {
	snap, err := scanSnapshot(r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM ruleset_snapshots WHERE version = $1`, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, apperr.NotFound(msgSnapshotNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repo) InsertSnapshot(ctx context.Context, body json.RawMessage, publishedBy *uuid.UUID) (Snapshot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, snapshotLockID); err != nil {
		return Snapshot{}, fmt.Errorf("lock snapshot versions: %w", err)
	}

	snap, err := scanSnapshot(tx.QueryRow(ctx, `
		INSERT INTO ruleset_snapshots (version, body, published_by)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2 FROM ruleset_snapshots
		RETURNING `+snapshotColumns, body, publishedBy))
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return snap, nil
}

func (r *Repo) SetArchiveKey(ctx context.Context, version int, key string) error {
	_, err := r.pool.Exec(ctx, `UPDATE ruleset_snapshots SET archive_key = $2 WHERE version = $1`, version, key)
	if err != nil {
		return fmt.Errorf("set snapshot archive key: %w", err)
	}
	return nil
}
