// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// Transport defines the contract for a component that can deliver a single
// push message to a single subscription (e.g., the Web Push protocol).
type Transport interface {
	// Send delivers the payload bytes to the subscription.
	// A *SendError is returned when the push service answered with a non-2xx
	// status; any other error is a transport failure (DNS, timeout, ...).
	Send(ctx context.Context, sub notification.Subscription, payload []byte) error
}

// Registry defines the contract for the authoritative set of subscriptions.
// It allows the broadcaster to remember "where" to send notifications.
type Registry interface {
	// Upsert stores or overwrites the subscription addressed by its endpoint.
	Upsert(ctx context.Context, sub notification.Subscription) error

	// Remove deletes the subscription. Removing an unknown endpoint is not an error.
	Remove(ctx context.Context, endpoint string) error

	// ListEndpoints returns a fresh snapshot of all registered endpoints, unordered.
	ListEndpoints(ctx context.Context) ([]string, error)

	// Get returns the subscription for an endpoint, ErrNotFound when no record
	// exists, or ErrCorruptRecord when the stored record cannot be decoded.
	Get(ctx context.Context, endpoint string) (notification.Subscription, error)
}

// KVStore is the storage adapter the Registry is built on: plain values
// addressed by key, plus string sets.
type KVStore interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the value at key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Del removes the key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// SAdd adds member to the set. Adding an existing member is a no-op.
	SAdd(ctx context.Context, set, member string) error
	// SRem removes member from the set. Removing a missing member is a no-op.
	SRem(ctx context.Context, set, member string) error
	// SMembers returns all members of the set, unordered.
	SMembers(ctx context.Context, set string) ([]string, error)
}
