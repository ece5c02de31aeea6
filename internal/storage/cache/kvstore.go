// --- File: internal/storage/cache/kvstore.go ---
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedStore is a Decorator that adds Read-Aside caching of values to any
// KVStore. Set membership is always served by the real store: the index is
// read once per dispatch and must reflect every removal immediately.
type CachedStore struct {
	realStore dispatch.KVStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedStore creates the decorator.
func NewCachedStore(realStore dispatch.KVStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	var cached []byte
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down, we
	// just serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedStore) SMembers(ctx context.Context, set string) ([]string, error) {
	return s.realStore.SMembers(ctx, set)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

// Set and Del report only the real store's result. Once that write has
// committed a failed invalidation is logged, not returned: callers such as
// the registry must go on to update the index.

func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.realStore.Set(ctx, key, value); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedStore) Del(ctx context.Context, key string) error {
	if err := s.realStore.Del(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// invalidate drops key from the cache; on failure the stale entry lives
// until its TTL.
func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.cache.Del(ctx, key); err != nil {
		s.logger.Warn("Cache invalidation failed; entry expires with TTL", "key", key, "ttl", s.ttl, "err", err)
	}
}

func (s *CachedStore) SAdd(ctx context.Context, set, member string) error {
	return s.realStore.SAdd(ctx, set, member)
}

func (s *CachedStore) SRem(ctx context.Context, set, member string) error {
	return s.realStore.SRem(ctx, set, member)
}
