package repository

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// writeHistory closes the open history entry for the entity and appends one
// for the new stage. It runs inside the caller's stage-change transaction.
func writeHistory(ctx context.Context, tx pgx.Tx, entityType EntityType, entityID uuid.UUID, stage domain.Stage, previous string, now time.Time, meta StageChangeMeta) error {
	_, err := tx.Exec(ctx, `
		UPDATE stage_history
		SET exited_at = $3,
			days_in_stage = FLOOR(EXTRACT(EPOCH FROM ($3 - entered_at)) / 86400)::int
		WHERE entity_type = $1 AND entity_id = $2 AND exited_at IS NULL`,
		string(entityType), entityID, now)
	if err != nil {
		return fmt.Errorf("close stage history: %w", err)
	}

	triggeredBy := meta.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = TriggerSystem
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stage_history (
			entity_type, entity_id, stage, previous_stage, entered_at, triggered_by,
			activity_type, outcome, reason, activity_id, user_id, ruleset_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(entityType), entityID, string(stage), nullIfEmpty(previous), now, string(triggeredBy),
		nullIfEmpty(meta.ActivityType), nullIfEmpty(meta.Outcome), nullIfEmpty(meta.Reason),
		meta.ActivityID, meta.UserID, meta.RulesetVersion)
	if err != nil {
		return fmt.Errorf("insert stage history: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repo) GetHistory(ctx context.Context, entityType EntityType, id uuid.UUID) (History, error) {
	var current domain.Stage
	var err error
	switch entityType {
	case EntityLead:
		var lead Lead
		lead, err = r.GetLead(ctx, id)
		current = lead.Stage
	case EntityDeal:
		var deal Deal
		deal, err = r.GetDeal(ctx, id)
		current = deal.Stage
	default:
		return History{}, fmt.Errorf("unknown entity type %q", entityType)
	}
	if err != nil {
		return History{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, stage, previous_stage, entered_at, exited_at, days_in_stage, triggered_by,
			activity_type, outcome, reason, activity_id, user_id, ruleset_version
		FROM stage_history
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY entered_at ASC, id ASC`, string(entityType), id)
	if err != nil {
		return History{}, fmt.Errorf("query stage history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var stage, trigger string
		if err := rows.Scan(&e.ID, &stage, &e.PreviousStage, &e.EnteredAt, &e.ExitedAt, &e.DaysInStage, &trigger,
			&e.ActivityType, &e.Outcome, &e.Reason, &e.ActivityID, &e.UserID, &e.RulesetVersion); err != nil {
			return History{}, fmt.Errorf("scan stage history: %w", err)
		}
		e.Stage = domain.Stage(stage)
		e.TriggeredBy = Trigger(trigger)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return History{}, err
	}

	return History{CurrentStage: current, StageHistory: entries}, nil
}

func (r *Repo) CountHistoryByEntity(ctx context.Context, entityType EntityType) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_id, COUNT(*)
		FROM stage_history
		WHERE entity_type = $1
		GROUP BY entity_id`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("count stage history: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan history count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
