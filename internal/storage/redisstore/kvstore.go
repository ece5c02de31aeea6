// --- File: internal/storage/redisstore/kvstore.go ---
// Package redisstore implements the subscription KVStore on Redis, using
// plain string keys for records and a Redis SET for the endpoint index.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
)

// NewClient opens a Redis connection and pings it.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Store implements dispatch.KVStore.
type Store struct {
	rdb    redis.Cmdable
	prefix string
}

// NewStore wraps a Redis client. prefix namespaces every key and set
// (e.g. "webpush:"), and may be empty.
func NewStore(rdb redis.Cmdable, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, set, member string) error {
	if err := s.rdb.SAdd(ctx, s.prefix+set, member).Err(); err != nil {
		return fmt.Errorf("redis sadd %q: %w", set, err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, set, member string) error {
	if err := s.rdb.SRem(ctx, s.prefix+set, member).Err(); err != nil {
		return fmt.Errorf("redis srem %q: %w", set, err)
	}
	return nil
}

// SMembers walks the set with SSCAN so large indexes are never fetched in
// a single reply. SSCAN may return a member more than once; duplicates are
// dropped here.
func (s *Store) SMembers(ctx context.Context, set string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	iter := s.rdb.SScan(ctx, s.prefix+set, 0, "", 500).Iterator()
	for iter.Next(ctx) {
		m := iter.Val()
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis sscan %q: %w", set, err)
	}
	return out, nil
}
