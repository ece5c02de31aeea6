// --- File: internal/storage/cache/kvstore_test.go ---
package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-webpush-broadcaster/internal/registry"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/cache"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/memory"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockRealStore) Set(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}
func (m *MockRealStore) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockRealStore) SAdd(ctx context.Context, set, member string) error {
	return m.Called(ctx, set, member).Error(0)
}
func (m *MockRealStore) SRem(ctx context.Context, set, member string) error {
	return m.Called(ctx, set, member).Error(0)
}
func (m *MockRealStore) SMembers(ctx context.Context, set string) ([]string, error) {
	args := m.Called(ctx, set)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedStore(mockDB, mockCache, 1*time.Hour, newTestLogger())
	key := "subscription:https://old.endpoint"

	t.Run("Del invalidates cache immediately", func(t *testing.T) {
		mockDB.On("Del", ctx, key).Return(nil).Once()
		mockCache.On("Del", ctx, key).Return(nil).Once()

		err := store.Del(ctx, key)

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent Get hits DB (Cache Miss)", func(t *testing.T) {
		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError).Once()
		mockDB.On("Get", ctx, key).Return(nil, dispatch.ErrNotFound).Once()

		_, err := store.Get(ctx, key)

		assert.ErrorIs(t, err, dispatch.ErrNotFound)
		mockDB.AssertExpectations(t)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Miss populates cache", func(t *testing.T) {
		value := []byte(`{"endpoint":"https://old.endpoint"}`)
		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError).Once()
		mockDB.On("Get", ctx, key).Return(value, nil).Once()
		mockCache.On("Set", ctx, key, value, 1*time.Hour).Return(nil).Once()

		got, err := store.Get(ctx, key)

		require.NoError(t, err)
		assert.Equal(t, value, got)
		mockCache.AssertExpectations(t)
	})

	t.Run("Set invalidates cache", func(t *testing.T) {
		value := []byte(`{"endpoint":"https://old.endpoint","keys":{"p256dh":"new"}}`)
		mockDB.On("Set", ctx, key, value).Return(nil).Once()
		mockCache.On("Del", ctx, key).Return(nil).Once()

		require.NoError(t, store.Set(ctx, key, value))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})
}

func TestCachedStore_SetsBypassCache(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedStore(mockDB, mockCache, time.Minute, newTestLogger())

	mockDB.On("SAdd", ctx, "idx", "a").Return(nil)
	mockDB.On("SRem", ctx, "idx", "b").Return(nil)
	mockDB.On("SMembers", ctx, "idx").Return([]string{"a"}, nil)

	require.NoError(t, store.SAdd(ctx, "idx", "a"))
	require.NoError(t, store.SRem(ctx, "idx", "b"))
	members, err := store.SMembers(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	mockDB.AssertExpectations(t)
	mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedStore_InvalidationFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	redisDown := errors.New("redis down")

	newStore := func() (*cache.CachedStore, *MockCache, *memory.Store) {
		mockCache := new(MockCache)
		mockCache.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(redisDown)
		mockCache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(redisDown)
		mockCache.On("Del", mock.Anything, mock.Anything).Return(redisDown)
		db := memory.NewStore()
		return cache.NewCachedStore(db, mockCache, time.Minute, newTestLogger()), mockCache, db
	}

	t.Run("Set and Del report the real store result", func(t *testing.T) {
		store, mockCache, db := newStore()

		require.NoError(t, store.Set(ctx, "k", []byte("v")))
		got, err := db.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, store.Del(ctx, "k"))
		_, err = db.Get(ctx, "k")
		assert.ErrorIs(t, err, dispatch.ErrNotFound)
		mockCache.AssertNumberOfCalls(t, "Del", 2)
	})

	t.Run("Registry stays consistent", func(t *testing.T) {
		store, _, _ := newStore()
		reg := registry.New(store)
		sub := notification.Subscription{Endpoint: "https://push.example/b", Keys: notification.Keys{P256dh: "p", Auth: "a"}}

		require.NoError(t, reg.Upsert(ctx, sub))
		endpoints, err := reg.ListEndpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{sub.Endpoint}, endpoints)

		require.NoError(t, reg.Remove(ctx, sub.Endpoint))
		endpoints, err = reg.ListEndpoints(ctx)
		require.NoError(t, err)
		assert.Empty(t, endpoints)
	})

	t.Run("Real store failure is still returned", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		mockDB.On("Set", ctx, "k", []byte("v")).Return(redisDown)
		store := cache.NewCachedStore(mockDB, mockCache, time.Minute, newTestLogger())

		assert.ErrorIs(t, store.Set(ctx, "k", []byte("v")), redisDown)
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}
