package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UpsertAlert opens an alert for (deal, kind) or refreshes the open one. The
// boolean is true when a new alert was raised.
func (r *Repo) UpsertAlert(ctx context.Context, p UpsertAlertParams) (Alert, bool, error) {
	var a Alert
	var kind string
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pipeline_alerts (deal_id, kind, severity, message, action)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deal_id, kind) WHERE resolved_at IS NULL
		DO UPDATE SET severity = EXCLUDED.severity, message = EXCLUDED.message, action = EXCLUDED.action
		RETURNING id, deal_id, kind, severity, message, action, raised_at, resolved_at, (xmax = 0)`,
		p.DealID, string(p.Kind), p.Severity, p.Message, p.Action,
	).Scan(&a.ID, &a.DealID, &kind, &a.Severity, &a.Message, &a.Action, &a.RaisedAt, &a.ResolvedAt, &inserted)
	if err != nil {
		return Alert{}, false, fmt.Errorf("upsert alert: %w", err)
	}
	a.Kind = AlertKind(kind)
	return a, inserted, nil
}

func (r *Repo) ResolveAlert(ctx context.Context, dealID uuid.UUID, kind AlertKind) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_alerts
		SET resolved_at = now()
		WHERE deal_id = $1 AND kind = $2 AND resolved_at IS NULL`, dealID, string(kind))
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repo) ListOpenAlerts(ctx context.Context) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, kind, severity, message, action, raised_at, resolved_at
		FROM pipeline_alerts
		WHERE resolved_at IS NULL
		ORDER BY raised_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	defer rows.Close()

	items := make([]Alert, 0)
	for rows.Next() {
		var a Alert
		var kind string
		if err := rows.Scan(&a.ID, &a.DealID, &kind, &a.Severity, &a.Message, &a.Action, &a.RaisedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = AlertKind(kind)
		items = append(items, a)
	}
	return items, rows.Err()
}
