package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (r *Repo) ListLeads(ctx context.Context) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM pipeline_leads ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, lead)
	}
	return items, rows.Err()
}

func (r *Repo) ListDeals(ctx context.Context) ([]Deal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dealColumns+` FROM pipeline_deals ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	items := make([]Deal, 0)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		items = append(items, deal)
	}
	return items, rows.Err()
}

// ListLinkedLeads groups leads by the deal they belong to.
func (r *Repo) ListLinkedLeads(ctx context.Context) (map[uuid.UUID][]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM pipeline_leads
		WHERE deal_id IS NOT NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list linked leads: %w", err)
	}
	defer rows.Close()

	grouped := make(map[uuid.UUID][]Lead)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		grouped[*lead.DealID] = append(grouped[*lead.DealID], lead)
	}
	return grouped, rows.Err()
}

func (r *Repo) ListLeadsForDeal(ctx context.Context, dealID uuid.UUID) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM pipeline_leads
		WHERE deal_id = $1
		ORDER BY created_at ASC, id ASC`, dealID)
	if err != nil {
		return nil, fmt.Errorf("list deal leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, lead)
	}
	return items, rows.Err()
}

var lastActivityTables = []struct {
	entity EntityType
	table  string
}{
	{EntityLead, "pipeline_leads"},
	{EntityDeal, "pipeline_deals"},
}

// RecalculateLastActivity sets last_activity_at to the latest recorded
// activity for every lead and deal whose column disagrees. With dryRun the
// differences are reported without writing.
func (r *Repo) RecalculateLastActivity(ctx context.Context, dryRun bool) ([]LastActivityChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin recalc tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	changes := make([]LastActivityChange, 0)
	for _, t := range lastActivityTables {
		latest := `
			WITH latest AS (
				SELECT entity_id, MAX(COALESCE(completed_at, created_at)) AS at
				FROM pipeline_activities
				WHERE entity_type = $1
				GROUP BY entity_id
			)`

		rows, err := tx.Query(ctx, latest+`
			SELECT e.id, e.last_activity_at, latest.at
			FROM `+t.table+` e
			JOIN latest ON latest.entity_id = e.id
			WHERE e.last_activity_at IS DISTINCT FROM latest.at`, string(t.entity))
		if err != nil {
			return nil, fmt.Errorf("diff %s last activity: %w", t.entity, err)
		}
		for rows.Next() {
			c := LastActivityChange{EntityType: t.entity}
			if err := rows.Scan(&c.EntityID, &c.Previous, &c.Computed); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan last activity diff: %w", err)
			}
			changes = append(changes, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if dryRun {
			continue
		}
		if _, err := tx.Exec(ctx, latest+`
			UPDATE `+t.table+` e
			SET last_activity_at = latest.at, updated_at = now()
			FROM latest
			WHERE latest.entity_id = e.id AND e.last_activity_at IS DISTINCT FROM latest.at`, string(t.entity)); err != nil {
			return nil, fmt.Errorf("update %s last activity: %w", t.entity, err)
		}
	}

	if dryRun {
		return changes, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recalc: %w", err)
	}
	return changes, nil
}
