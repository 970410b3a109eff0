// Package service administers the stage engine rules. Every edit is
// followed by publishing a new immutable ruleset version, which is archived
// and installed in the Provider the pipeline engine reads from.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pipeline_backend/internal/adapters/storage"
	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/repository"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/locker"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const publishLockKey = "rules:publish"

type Service struct {
	repo     repository.Repository
	provider *Provider
	locks    locker.Locker
	bus      events.Bus
	log      *logger.Logger
	archive  storage.Archive
	bucket   string
}

// Option customises a Service.
type Option func(*Service)

// WithArchive copies every published snapshot into bucket.
func WithArchive(archive storage.Archive, bucket string) Option {
	return func(s *Service) {
		s.archive = archive
		s.bucket = bucket
	}
}

func New(repo repository.Repository, provider *Provider, locks locker.Locker, bus events.Bus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		provider: provider,
		locks:    locks,
		bus:      bus,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the snapshot holder read by the engine.
func (s *Service) Provider() *Provider {
	return s.provider
}

// Bootstrap installs the latest published ruleset. On an empty database it
// seeds the rule tables with defaults and publishes version 1.
func (s *Service) Bootstrap(ctx context.Context) (domain.Ruleset, error) {
	rs, err := s.LoadLatest(ctx)
	if err == nil {
		s.provider.Set(rs)
		return rs, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return domain.Ruleset{}, err
	}

	unlock, err := s.locks.Lock(ctx, publishLockKey)
	if err != nil {
		return domain.Ruleset{}, fmt.Errorf("acquire publish lock: %w", err)
	}
	defer unlock()

	// Another replica may have seeded while we waited.
	if rs, err := s.LoadLatest(ctx); err == nil {
		s.provider.Set(rs)
		return rs, nil
	}

	seed, err := DefaultSeed()
	if err != nil {
		return domain.Ruleset{}, err
	}
	if err := s.repo.Seed(ctx, seed); err != nil {
		return domain.Ruleset{}, err
	}
	s.log.Info("rule tables seeded with defaults")
	return s.publishLocked(ctx, nil, "bootstrap")
}

// LoadLatest decodes the newest published snapshot.
func (s *Service) LoadLatest(ctx context.Context) (domain.Ruleset, error) {
	snap, err := s.repo.LatestSnapshot(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}
	return decodeSnapshot(snap)
}

// Refresh installs the newest snapshot when it is ahead of the provider.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	latest, err := s.repo.LatestVersion(ctx)
	if err != nil {
		return false, err
	}
	if latest <= s.provider.Version() {
		return false, nil
	}
	rs, err := s.LoadLatest(ctx)
	if err != nil {
		return false, err
	}
	return s.provider.Set(rs), nil
}

// Watch refreshes the provider every interval until ctx is done, so
// versions published by another process reach this one.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			installed, err := s.Refresh(ctx)
			if err != nil {
				s.log.Warn("ruleset refresh failed", "error", err)
				continue
			}
			if installed {
				s.log.Info("ruleset refreshed", "version", s.provider.Version())
			}
		}
	}
}

func decodeSnapshot(snap repository.Snapshot) (domain.Ruleset, error) {
	var rs domain.Ruleset
	if err := json.Unmarshal(snap.Body, &rs); err != nil {
		return domain.Ruleset{}, fmt.Errorf("decode ruleset v%d: %w", snap.Version, err)
	}
	rs.Version = snap.Version
	rs.PublishedAt = snap.PublishedAt
	return rs, nil
}

// build assembles a ruleset from the current rule tables.
func (s *Service) build(ctx context.Context) (domain.Ruleset, error) {
	rs := domain.DefaultRuleset()

	overrides, err := s.repo.ListOverrideRules(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}
	syncRules, err := s.repo.ListSyncRules(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}
	locks, err := s.repo.ListStabilityLocks(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}
	settings, err := s.repo.ListSettings(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}

	rs.OverrideRules = overrides
	rs.SyncRules = syncRules
	rs.StabilityLocks = locks
	for _, setting := range settings {
		if err := applySetting(&rs, setting.Key, setting.Value); err != nil {
			s.log.Warn("skipping invalid engine setting", "key", setting.Key, "error", err)
		}
	}
	return rs, nil
}

func (s *Service) publish(ctx context.Context, userID *uuid.UUID, change string) (domain.Ruleset, error) {
	unlock, err := s.locks.Lock(ctx, publishLockKey)
	if err != nil {
		return domain.Ruleset{}, fmt.Errorf("acquire publish lock: %w", err)
	}
	defer unlock()
	return s.publishLocked(ctx, userID, change)
}

func (s *Service) publishLocked(ctx context.Context, userID *uuid.UUID, change string) (domain.Ruleset, error) {
	rs, err := s.build(ctx)
	if err != nil {
		return domain.Ruleset{}, err
	}
	body, err := json.Marshal(rs)
	if err != nil {
		return domain.Ruleset{}, fmt.Errorf("encode ruleset: %w", err)
	}

	snap, err := s.repo.InsertSnapshot(ctx, body, userID)
	if err != nil {
		return domain.Ruleset{}, err
	}
	rs.Version = snap.Version
	rs.PublishedAt = snap.PublishedAt

	key := s.archiveSnapshot(ctx, rs)
	s.provider.Set(rs)
	s.log.RulesetPublished(rs.Version, change, key)

	if s.bus != nil {
		s.bus.Publish(ctx, events.RulesetPublished{
			BaseEvent:   events.NewBaseEvent(),
			Version:     rs.Version,
			PublishedBy: userID,
			Change:      change,
		})
	}
	return rs, nil
}

// archiveSnapshot copies rs to object storage. Failures are logged; the
// database row stays the source of truth.
func (s *Service) archiveSnapshot(ctx context.Context, rs domain.Ruleset) string {
	if s.archive == nil {
		return ""
	}
	body, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		s.log.Warn("ruleset archive encode failed", "version", rs.Version, "error", err)
		return ""
	}
	key, err := s.archive.PutSnapshot(ctx, s.bucket, rs.Version, body)
	if err != nil {
		s.log.Warn("ruleset archive upload failed", "version", rs.Version, "error", err)
		return ""
	}
	if err := s.repo.SetArchiveKey(ctx, rs.Version, key); err != nil {
		s.log.Warn("ruleset archive key not recorded", "version", rs.Version, "error", err)
	}
	return key
}
