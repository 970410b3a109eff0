// Package repository persists the admin-editable stage engine rules and the
// versioned ruleset snapshots published from them.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// Setting is one JSON-valued engine setting.
type Setting struct {
	Key       string
	Value     json.RawMessage
	UpdatedBy *uuid.UUID
	UpdatedAt time.Time
}

// Snapshot is a published ruleset version.
type Snapshot struct {
	Version     int
	Body        json.RawMessage
	PublishedBy *uuid.UUID
	PublishedAt time.Time
	ArchiveKey  *string
}

// SeedData is written once into empty rule tables.
type SeedData struct {
	OverrideRules  []domain.OverrideRule
	SyncRules      []domain.SyncRule
	StabilityLocks domain.StabilityLocks
	Settings       map[string]json.RawMessage
}

// Repository is the persistence surface of the rules module.
type Repository interface {
	ListOverrideRules(ctx context.Context) ([]domain.OverrideRule, error)
	GetOverrideRule(ctx context.Context, id string) (domain.OverrideRule, error)
	CreateOverrideRule(ctx context.Context, rule domain.OverrideRule) (domain.OverrideRule, error)
	UpdateOverrideRule(ctx context.Context, rule domain.OverrideRule) (domain.OverrideRule, error)
	DeleteOverrideRule(ctx context.Context, id string) error

	ListSyncRules(ctx context.Context) ([]domain.SyncRule, error)
	GetSyncRule(ctx context.Context, id string) (domain.SyncRule, error)
	CreateSyncRule(ctx context.Context, rule domain.SyncRule) (domain.SyncRule, error)
	UpdateSyncRule(ctx context.Context, rule domain.SyncRule) (domain.SyncRule, error)
	DeleteSyncRule(ctx context.Context, id string) error

	ListStabilityLocks(ctx context.Context) (domain.StabilityLocks, error)
	UpsertStabilityLock(ctx context.Context, stage domain.Stage, lock domain.StabilityLock) error
	DeleteStabilityLock(ctx context.Context, stage domain.Stage) error

	ListSettings(ctx context.Context) ([]Setting, error)
	GetSetting(ctx context.Context, key string) (Setting, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage, updatedBy *uuid.UUID) (Setting, error)

	// Seed fills the rule tables with defaults. Existing rows are kept.
	Seed(ctx context.Context, seed SeedData) error

	LatestSnapshot(ctx context.Context) (Snapshot, error)
	// LatestVersion is 0 when nothing has been published.
	LatestVersion(ctx context.Context) (int, error)
	GetSnapshot(ctx context.Context, version int) (Snapshot, error)
	// InsertSnapshot stores body under the next version number.
	InsertSnapshot(ctx context.Context, body json.RawMessage, publishedBy *uuid.UUID) (Snapshot, error)
	SetArchiveKey(ctx context.Context, version int, key string) error
}
