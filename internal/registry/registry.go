// Package registry maintains the authoritative set of push subscriptions on
// top of a dispatch.KVStore.
//
// Each subscription is stored as a JSON record at "subscription:<endpoint>"
// and its endpoint is a member of the "subscriptions_endpoints" set, which is
// what dispatch enumerates. Only this package writes either structure.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

const (
	IndexKey     = "subscriptions_endpoints"
	RecordPrefix = "subscription:"
)

// RecordKey returns the store key holding the record of an endpoint.
func RecordKey(endpoint string) string {
	return RecordPrefix + endpoint
}

// Registry implements dispatch.Registry.
type Registry struct {
	store dispatch.KVStore
}

func New(store dispatch.KVStore) *Registry {
	return &Registry{store: store}
}

// Upsert writes the record before indexing it, so an interrupted upsert
// never leaves an index entry without a record.
func (r *Registry) Upsert(ctx context.Context, sub notification.Subscription) error {
	if !sub.Valid() {
		return dispatch.ErrInvalidSubscription
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := r.store.Set(ctx, RecordKey(sub.Endpoint), raw); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	if err := r.store.SAdd(ctx, IndexKey, sub.Endpoint); err != nil {
		return fmt.Errorf("failed to index subscription: %w", err)
	}
	return nil
}

// Remove deletes the record before the index entry. If the second step
// fails the dangling index entry is healed by the next dispatch. An empty
// endpoint is accepted so a stray "" index member can be healed too.
func (r *Registry) Remove(ctx context.Context, endpoint string) error {
	if err := r.store.Del(ctx, RecordKey(endpoint)); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if err := r.store.SRem(ctx, IndexKey, endpoint); err != nil {
		return fmt.Errorf("failed to unindex subscription: %w", err)
	}
	return nil
}

func (r *Registry) ListEndpoints(ctx context.Context) ([]string, error) {
	endpoints, err := r.store.SMembers(ctx, IndexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return endpoints, nil
}

func (r *Registry) Get(ctx context.Context, endpoint string) (notification.Subscription, error) {
	var sub notification.Subscription
	raw, err := r.store.Get(ctx, RecordKey(endpoint))
	if errors.Is(err, dispatch.ErrNotFound) {
		return sub, dispatch.ErrNotFound
	}
	if errors.Is(err, dispatch.ErrCorruptRecord) {
		return sub, err
	}
	if err != nil {
		return sub, fmt.Errorf("failed to load subscription: %w", err)
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, fmt.Errorf("%w: %v", dispatch.ErrCorruptRecord, err)
	}
	if sub.Endpoint != endpoint {
		return sub, fmt.Errorf("%w: record endpoint %q does not match key", dispatch.ErrCorruptRecord, sub.Endpoint)
	}
	return sub, nil
}
