package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrVapidNotConfigured is returned when no VAPID key pair has been set.
	ErrVapidNotConfigured = errors.New("vapid keys are not configured")
	// ErrVapidInvalid is returned when the configured VAPID key pair cannot be used.
	ErrVapidInvalid = errors.New("vapid keys are invalid")

	// ErrInvalidSubscription is returned when a subscription has no endpoint.
	ErrInvalidSubscription = errors.New("invalid subscription: missing endpoint")

	// ErrNotFound is returned by stores and registries for missing keys.
	ErrNotFound = errors.New("not found")
	// ErrCorruptRecord is returned when a stored subscription cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt subscription record")
)

// SendError is a push service rejection carrying the HTTP status it answered with.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether the endpoint is gone for good (410 Gone, 404 Not Found).
func (e *SendError) Permanent() bool {
	return e.StatusCode == http.StatusGone || e.StatusCode == http.StatusNotFound
}

// IsPermanent reports whether err means the subscription must be deregistered.
// Everything that is not a permanent SendError is transient.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent()
	}
	return false
}
