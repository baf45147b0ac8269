// Package cache stores enriched pull requests between fetches.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

type entry struct {
	expires time.Time
	pr      cycletime.PullRequest
}

// Memory is an in-process cycletime.Cache with per-entry expiry.
type Memory struct {
	now     func() time.Time
	entries map[string]entry
	mu      sync.RWMutex
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// Get returns the unexpired pull request stored under key.
func (m *Memory) Get(_ context.Context, key string) (cycletime.PullRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return cycletime.PullRequest{}, false
	}
	return e.pr, true
}

// Set stores pr under key for ttl.
func (m *Memory) Set(_ context.Context, key string, pr cycletime.PullRequest, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{pr: pr, expires: m.now().Add(ttl)}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Prune removes expired entries and returns how many were removed.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// PruneEvery prunes expired entries every interval until ctx is done.
func (m *Memory) PruneEvery(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				logger.InfoContext(ctx, "Pruned cache", "removed", n, "remaining", m.Len())
			}
		}
	}
}
