package service

import (
	"context"
	"sync/atomic"

	"pipeline_backend/internal/pipeline/domain"
)

// Provider holds the ruleset snapshot every engine computation reads. It is
// swapped atomically when a new version is published or observed.
type Provider struct {
	current atomic.Pointer[domain.Ruleset]
}

// NewProvider starts with initial installed.
func NewProvider(initial domain.Ruleset) *Provider {
	p := &Provider{}
	rs := initial.Clone()
	p.current.Store(&rs)
	return p
}

// Current returns the installed snapshot. Callers must treat it as read-only.
func (p *Provider) Current(context.Context) domain.Ruleset {
	return *p.current.Load()
}

// Version is the installed snapshot version.
func (p *Provider) Version() int {
	return p.current.Load().Version
}

// Set installs rs unless the same or a newer version is already installed.
// It reports whether rs was installed.
func (p *Provider) Set(rs domain.Ruleset) bool {
	next := rs.Clone()
	for {
		cur := p.current.Load()
		if cur.Version >= next.Version && cur.Version != 0 {
			return false
		}
		if p.current.CompareAndSwap(cur, &next) {
			return true
		}
	}
}
