package repository

import (
	"context"
	"fmt"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const activityColumns = `id, entity_type, entity_id, type, purpose, outcome, status, completed_at, created_by, created_at`

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	var entityType string
	err := row.Scan(&a.ID, &entityType, &a.EntityID, &a.Type, &a.Purpose, &a.Outcome, &a.Status,
		&a.CompletedAt, &a.CreatedBy, &a.CreatedAt)
	a.EntityType = EntityType(entityType)
	return a, err
}

func (r *Repo) CreateActivity(ctx context.Context, p CreateActivityParams) (Activity, error) {
	act, err := scanActivity(r.pool.QueryRow(ctx, `
		INSERT INTO pipeline_activities (entity_type, entity_id, type, purpose, outcome, status, completed_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+activityColumns,
		string(p.EntityType), p.EntityID, p.Type, p.Purpose, p.Outcome, p.Status, p.CompletedAt, p.CreatedBy))
	if err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return act, nil
}

func (r *Repo) ListActivities(ctx context.Context, entityType EntityType, entityID uuid.UUID) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+activityColumns+`
		FROM pipeline_activities
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, act)
	}
	return items, rows.Err()
}

func (r *Repo) ListCompletedActivities(ctx context.Context, entityType EntityType) (map[uuid.UUID][]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+activityColumns+`
		FROM pipeline_activities
		WHERE entity_type = $1 AND status = $2
		ORDER BY created_at DESC`, string(entityType), domain.ActivityStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed activities: %w", err)
	}
	defer rows.Close()

	grouped := make(map[uuid.UUID][]Activity)
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		grouped[act.EntityID] = append(grouped[act.EntityID], act)
	}
	return grouped, rows.Err()
}
