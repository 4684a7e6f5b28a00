// Package cache keeps the latest system state and cycle result in a shared
// key/value cache so API reads do not contend with the tick pipeline.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	pkgcache "MarketGuard/pkg/cache"
)

const (
	keyPrefix = "risk"
	stateKey  = "state"
	cycleKey  = "cycle"
	lockKey   = "lock"
)

// ErrMiss is returned when nothing fresh is cached.
var ErrMiss = pkgcache.ErrCacheMiss

// StateCache implements domain StateCache over pkg/cache.
type StateCache struct {
	c   pkgcache.Service
	ttl time.Duration
}

var _ drepo.StateCache = (*StateCache)(nil)

// NewStateCache stores entries with the given freshness window.
func NewStateCache(c pkgcache.Service, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StateCache{c: c, ttl: ttl}
}

func key(parts ...interface{}) string { return pkgcache.Key(keyPrefix, parts...) }

func (s *StateCache) SaveState(ctx context.Context, st *models.SystemState) error {
	if st == nil {
		return nil
	}
	if err := s.c.Set(ctx, key(stateKey), st, s.ttl); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *StateCache) LoadState(ctx context.Context) (*models.SystemState, error) {
	var st models.SystemState
	if err := s.c.Get(ctx, key(stateKey), &st); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &st, nil
}

// SaveCycle stores the cycle as the global latest and as the latest for its symbol.
func (s *StateCache) SaveCycle(ctx context.Context, c *models.CycleResult) error {
	if c == nil {
		return nil
	}
	if err := s.c.MSet(ctx, map[string]interface{}{
		key(cycleKey):           c,
		key(cycleKey, c.Symbol): c,
	}, s.ttl); err != nil {
		return fmt.Errorf("save cycle: %w", err)
	}
	return nil
}

func (s *StateCache) LoadCycle(ctx context.Context) (*models.CycleResult, error) {
	return s.loadCycle(ctx, key(cycleKey))
}

// LoadSymbolCycle returns the latest cached cycle for one symbol.
func (s *StateCache) LoadSymbolCycle(ctx context.Context, symbol string) (*models.CycleResult, error) {
	return s.loadCycle(ctx, key(cycleKey, symbol))
}

func (s *StateCache) loadCycle(ctx context.Context, k string) (*models.CycleResult, error) {
	var c models.CycleResult
	if err := s.c.Get(ctx, k, &c); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("load cycle: %w", err)
	}
	return &c, nil
}

// TryLock takes a named job lock so only one instance runs a scheduled job.
func (s *StateCache) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return s.c.TryLock(ctx, key(lockKey, name), ttl)
}

func (s *StateCache) Unlock(ctx context.Context, name string) error {
	return s.c.Unlock(ctx, key(lockKey, name))
}

// Clear drops every cached risk entry.
func (s *StateCache) Clear(ctx context.Context) error {
	return s.c.DeleteByPattern(ctx, pkgcache.Pattern(keyPrefix))
}
