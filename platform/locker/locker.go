// Package locker serialises work per entity key. The pipeline orchestrator
// holds "lead:<id>" and "deal:<id>" while it reads, decides and writes so
// concurrent activity completions on the same entity cannot interleave.
// This is part of the platform layer and contains no business logic.
package locker

import (
	"context"
	"fmt"
	"sync"

	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Unlock releases a held key. Calling it more than once is safe.
type Unlock func()

// Locker acquires exclusive access to a key, blocking until the key is free
// or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// New returns a Redis-backed locker when REDIS_URL is configured so several
// API replicas share one critical section, and an in-process locker otherwise.
// The returned close function releases the Redis client.
func New(cfg config.LockConfig, log *logger.Logger) (Locker, func() error, error) {
	if cfg.GetRedisURL() == "" {
		log.Info("entity locker running in-process")
		return NewMemory(), func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	log.Info("entity locker backed by redis", "addr", opt.Addr, "ttl", cfg.GetLockTTL())
	return NewRedis(client, cfg.GetLockTTL()), client.Close, nil
}

// Memory is an in-process keyed mutex. Entries are dropped once no goroutine
// holds or waits for them.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.release(key, s)
		})
	}, nil
}

func (m *Memory) release(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

var _ Locker = (*Memory)(nil)
