// Package notification contains the public domain models for the
// web-push broadcaster: subscriptions, notification payloads and the
// aggregate result of a dispatch.
package notification

import "strings"

// Keys holds the client-side encryption material of a push subscription,
// exactly as the browser's PushSubscription.toJSON() reports it (base64url).
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a single browser push channel. The Endpoint is its identity.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Valid reports whether the subscription carries an endpoint.
// Keys are not enforced: a subscription without keys is stored as-is and
// the push service decides whether it can be delivered to.
func (s Subscription) Valid() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

// DispatchResult is the aggregate outcome of one broadcast.
type DispatchResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
