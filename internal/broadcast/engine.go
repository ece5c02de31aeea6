// Package broadcast contains the dispatch engine: it fans one notification
// out to every registered subscription and reconciles the registry with
// what the push services report.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-webpush-broadcaster/broadcasterservice/config"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/metrics"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

type outcome int

const (
	outcomeSent outcome = iota
	outcomeExpired
	outcomeFailed
	outcomeSkipped
)

// Engine implements the broadcast. It is safe for concurrent use; two
// overlapping dispatches only ever race on idempotent removals.
type Engine struct {
	registry  dispatch.Registry
	transport dispatch.Transport
	vapidErr  error
	workers   int
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine wires the engine. The VAPID key pair is validated once here;
// if it is unusable every Dispatch is refused with that error.
func NewEngine(
	registry dispatch.Registry,
	transport dispatch.Transport,
	vapid config.VapidConfig,
	push config.PushConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		registry:  registry,
		transport: transport,
		vapidErr:  vapid.Validate(),
		workers:   push.Workers,
		metrics:   m,
		logger:    logger.With("component", "BroadcastEngine"),
	}
	if e.workers <= 0 {
		e.workers = 1
	}
	if push.RatePerSec > 0 {
		burst := int(push.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(push.RatePerSec), burst)
	}
	if e.vapidErr != nil {
		e.logger.Warn("VAPID configuration unusable; dispatch is disabled", "err", e.vapidErr)
	}
	return e
}

// Dispatch sends payload to every registered endpoint and returns the
// aggregate. Individual endpoint failures never fail the call; only an
// unusable VAPID configuration, an unserializable payload or a failed
// enumeration of the registry do.
func (e *Engine) Dispatch(ctx context.Context, payload notification.Payload) (notification.DispatchResult, error) {
	var result notification.DispatchResult
	start := time.Now()

	if e.vapidErr != nil {
		e.metrics.DispatchFailed()
		return result, fmt.Errorf("refusing to dispatch: %w", e.vapidErr)
	}

	// Serialized once: every endpoint receives the same bytes.
	body, err := json.Marshal(payload)
	if err != nil {
		e.metrics.DispatchFailed()
		return result, fmt.Errorf("failed to serialize payload: %w", err)
	}

	endpoints, err := e.registry.ListEndpoints(ctx)
	if err != nil {
		e.metrics.DispatchFailed()
		return result, fmt.Errorf("failed to enumerate subscriptions: %w", err)
	}
	endpoints = unique(endpoints)
	result.Total = len(endpoints)

	log := e.logger.With("dispatch_id", uuid.NewString())
	log.Info("Dispatch started", "total", result.Total, "title", payload.Title(), "bytes", len(body))

	for o := range e.fanOut(ctx, log, endpoints, body) {
		switch o {
		case outcomeSent:
			result.Sent++
		case outcomeExpired, outcomeFailed:
			result.Failed++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	took := time.Since(start)
	e.metrics.Dispatched(result, took)
	fields := []any{
		"total", result.Total,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"dur", took,
	}
	if result.Failed > 0 {
		log.Warn("Dispatch finished with failures", fields...)
	} else {
		log.Info("Dispatch finished", fields...)
	}
	return result, nil
}

// fanOut runs deliver for every endpoint on a bounded pool of workers.
// The returned channel yields exactly one outcome per endpoint and is
// closed once every worker has returned.
func (e *Engine) fanOut(ctx context.Context, log *slog.Logger, endpoints []string, body []byte) <-chan outcome {
	results := make(chan outcome, len(endpoints))
	if len(endpoints) == 0 {
		close(results)
		return results
	}

	jobs := make(chan string)
	workers := min(e.workers, len(endpoints))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				results <- e.deliver(ctx, log, endpoint, body)
			}
		}()
	}

	go func() {
		for _, endpoint := range endpoints {
			jobs <- endpoint
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	return results
}

// deliver resolves one endpoint. Any registry repair it decides on is
// finished before it returns, and runs even if ctx has been canceled: the
// push service's verdict is already known.
func (e *Engine) deliver(ctx context.Context, log *slog.Logger, endpoint string, body []byte) outcome {
	repairCtx := context.WithoutCancel(ctx)

	sub, err := e.registry.Get(ctx, endpoint)
	switch {
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, dispatch.ErrCorruptRecord):
		log.Warn("Stale index entry; removing", "endpoint", endpoint, "err", err)
		if err := e.registry.Remove(repairCtx, endpoint); err != nil {
			log.Warn("Failed to heal index entry", "endpoint", endpoint, "err", err)
		}
		return outcomeSkipped
	case err != nil:
		// The store is unreachable for this key; try again next dispatch.
		log.Error("Failed to load subscription", "endpoint", endpoint, "err", err)
		return outcomeFailed
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			log.Warn("Send not attempted", "endpoint", endpoint, "err", err)
			return outcomeFailed
		}
	}

	err = e.transport.Send(ctx, sub, body)
	if err == nil {
		return outcomeSent
	}

	if dispatch.IsPermanent(err) {
		log.Info("Subscription expired; removing", "endpoint", endpoint, "err", err)
		if err := e.registry.Remove(repairCtx, endpoint); err != nil {
			log.Warn("Failed to remove expired subscription", "endpoint", endpoint, "err", err)
		} else {
			e.metrics.Pruned()
		}
		return outcomeExpired
	}

	log.Warn("Send failed", "endpoint", endpoint, "err", err)
	return outcomeFailed
}

func unique(endpoints []string) []string {
	seen := make(map[string]struct{}, len(endpoints))
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := seen[ep]; dup {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
