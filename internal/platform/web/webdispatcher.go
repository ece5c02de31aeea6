package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-webpush-broadcaster/broadcasterservice/config"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// maxErrorBody caps how much of a rejection body is kept in the SendError.
const maxErrorBody = 512

// Dispatcher performs the Web Push protocol exchange for one subscription
// at a time, signing every request with the configured VAPID key pair.
type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	urgency    webpush.Urgency
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// NewDispatcher builds the transport. The per-send timeout is enforced by
// the HTTP client, so a stuck push service cannot hold a worker forever.
func NewDispatcher(vapid config.VapidConfig, push config.PushConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		privateKey: vapid.PrivateKey,
		publicKey:  vapid.PublicKey,
		subscriber: vapid.SubscriberEmail,
		ttl:        push.TTLSeconds,
		urgency:    webpush.Urgency(push.Urgency),
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: push.SendTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers payload to a single subscription.
// A 2xx answer is success. Any other status becomes a *dispatch.SendError;
// transport failures (DNS, timeout, encryption) are returned wrapped.
func (d *Dispatcher) Send(ctx context.Context, sub notification.Subscription, payload []byte) error {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		Urgency:         d.urgency,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) - never a reason to deregister
		d.logger.Debug("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sendErr := &dispatch.SendError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
	d.logger.Debug("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	return sendErr
}
