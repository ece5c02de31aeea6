package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-webpush-broadcaster/internal/metrics"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// maxBodyBytes caps request bodies; a push payload has to fit in ~4KB anyway.
const maxBodyBytes = 64 << 10

// Broadcaster is the part of the dispatch engine the API needs.
type Broadcaster interface {
	Dispatch(ctx context.Context, payload notification.Payload) (notification.DispatchResult, error)
}

type SubscriptionAPI struct {
	Registry       dispatch.Registry
	Broadcaster    Broadcaster
	VapidPublicKey string
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

func NewSubscriptionAPI(
	registry dispatch.Registry,
	broadcaster Broadcaster,
	vapidPublicKey string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SubscriptionAPI {
	return &SubscriptionAPI{
		Registry:       registry,
		Broadcaster:    broadcaster,
		VapidPublicKey: vapidPublicKey,
		Metrics:        m,
		Logger:         logger,
	}
}

type successResponse struct {
	Success bool `json:"success"`
}

type notifyResponse struct {
	Success bool `json:"success"`
	notification.DispatchResult
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Subscribe stores (or replaces) the subscription a browser reported.
func (api *SubscriptionAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	var sub notification.Subscription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		api.Logger.Warn("Subscribe: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription object")
		return
	}
	if !sub.Valid() {
		api.Logger.Warn("Subscribe: validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription object")
		return
	}

	if err := api.Registry.Upsert(r.Context(), sub); err != nil {
		if errors.Is(err, dispatch.ErrInvalidSubscription) {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription object")
			return
		}
		api.Logger.Error("Subscribe: failed to save subscription", "endpoint", sub.Endpoint, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	api.Metrics.Registered()
	api.Logger.Info("Subscription saved", "endpoint", sub.Endpoint)

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Unsubscribe removes a subscription. Removing an unknown endpoint succeeds.
func (api *SubscriptionAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.Logger.Warn("Unsubscribe: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription object")
		return
	}
	if req.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription object")
		return
	}

	if err := api.Registry.Remove(r.Context(), req.Endpoint); err != nil {
		api.Logger.Error("Unsubscribe: failed to remove subscription", "endpoint", req.Endpoint, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	api.Metrics.Unregistered()
	api.Logger.Info("Subscription removed", "endpoint", req.Endpoint)

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Notify broadcasts the request body, which must be a JSON object, to every
// registered subscription. The broadcast outlives a client that hangs up:
// sends already started and their registry repairs still complete.
func (api *SubscriptionAPI) Notify(w http.ResponseWriter, r *http.Request) {
	var payload notification.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil || payload == nil {
		response.WriteJSONError(w, http.StatusBadRequest, "notification payload must be a JSON object")
		return
	}

	result, err := api.Broadcaster.Dispatch(context.WithoutCancel(r.Context()), payload)
	if err != nil {
		if errors.Is(err, dispatch.ErrVapidNotConfigured) || errors.Is(err, dispatch.ErrVapidInvalid) {
			api.Logger.Error("Notify: push is not configured", "err", err)
			response.WriteJSONError(w, http.StatusServiceUnavailable, "VAPID keys are not configured")
			return
		}
		api.Logger.Error("Notify: dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to send notifications")
		return
	}

	writeJSON(w, http.StatusOK, notifyResponse{Success: true, DispatchResult: result})
}

// PublicKey returns the VAPID public key browsers need for subscribing.
func (api *SubscriptionAPI) PublicKey(w http.ResponseWriter, _ *http.Request) {
	if api.VapidPublicKey == "" {
		response.WriteJSONError(w, http.StatusInternalServerError, "VAPID public key not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(api.VapidPublicKey))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
