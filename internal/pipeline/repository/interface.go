package repository

import (
	"context"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// LeadStore is the lead side of the persistence boundary.
type LeadStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (Lead, error)
	// SetLeadStage writes a new stage, resets the in-stage counter and closes
	// the previous history entry in one transaction.
	SetLeadStage(ctx context.Context, id uuid.UUID, stage domain.Stage, meta StageChangeMeta) (Lead, error)
	// RecordLeadActivity counts an activity against the current stage without
	// changing it.
	RecordLeadActivity(ctx context.Context, id uuid.UUID, at time.Time) (Lead, error)
	ListLeadStagesForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.Stage, error)
}

// DealStore is the deal side of the persistence boundary.
type DealStore interface {
	GetDeal(ctx context.Context, id uuid.UUID) (Deal, error)
	// SetDealStage is a no-op when stage equals the persisted stage.
	SetDealStage(ctx context.Context, id uuid.UUID, stage domain.Stage, reason string, meta StageChangeMeta) (DealWriteResult, error)
	TouchDealActivity(ctx context.Context, id uuid.UUID, at time.Time, offerChanged bool) error
	HasOwnerWithdrawal(ctx context.Context, dealID uuid.UUID) (bool, error)
}

// HistoryReader reads stage timelines.
type HistoryReader interface {
	GetHistory(ctx context.Context, entityType EntityType, id uuid.UUID) (History, error)
	CountHistoryByEntity(ctx context.Context, entityType EntityType) (map[uuid.UUID]int, error)
}

// ActivityStore records and lists activities.
type ActivityStore interface {
	CreateActivity(ctx context.Context, params CreateActivityParams) (Activity, error)
	ListActivities(ctx context.Context, entityType EntityType, entityID uuid.UUID) ([]Activity, error)
	ListCompletedActivities(ctx context.Context, entityType EntityType) (map[uuid.UUID][]Activity, error)
}

// AnalyticsReader lists entities for dashboard computations.
type AnalyticsReader interface {
	ListLeads(ctx context.Context) ([]Lead, error)
	ListDeals(ctx context.Context) ([]Deal, error)
	ListLinkedLeads(ctx context.Context) (map[uuid.UUID][]Lead, error)
	ListLeadsForDeal(ctx context.Context, dealID uuid.UUID) ([]Lead, error)
}

// Maintenance recalculates derived columns.
type Maintenance interface {
	RecalculateLastActivity(ctx context.Context, dryRun bool) ([]LastActivityChange, error)
}

// AlertStore persists pipeline alerts raised by the sweeper.
type AlertStore interface {
	UpsertAlert(ctx context.Context, params UpsertAlertParams) (Alert, bool, error)
	ResolveAlert(ctx context.Context, dealID uuid.UUID, kind AlertKind) (bool, error)
	ListOpenAlerts(ctx context.Context) ([]Alert, error)
}

// Repository is the full pipeline persistence surface.
type Repository interface {
	LeadStore
	DealStore
	HistoryReader
	ActivityStore
	AnalyticsReader
	Maintenance
	AlertStore
}
