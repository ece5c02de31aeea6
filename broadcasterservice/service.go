// --- File: broadcasterservice/service.go ---
package broadcasterservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-webpush-broadcaster/broadcasterservice/config"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/api"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/metrics"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/pipeline"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// Broadcaster fans a payload out to every registered subscription.
type Broadcaster interface {
	Dispatch(ctx context.Context, payload notification.Payload) (notification.DispatchResult, error)
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.Payload]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case broadcasts
// are only accepted over HTTP.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	broadcaster Broadcaster,
	registry dispatch.Registry,
	m *metrics.Metrics,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var streamingService *messagepipeline.StreamingService[notification.Payload]
	if consumer != nil {
		processor := pipeline.NewProcessor(broadcaster, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PayloadTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	subscriptionAPI := api.NewSubscriptionAPI(registry, broadcaster, cfg.Vapid.PublicKey, m, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	public := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}
	protected := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Browsers register themselves without credentials.
	public("POST /api/subscribe", subscriptionAPI.Subscribe)
	public("DELETE /api/unsubscribe", subscriptionAPI.Unsubscribe)
	public("POST /api/unsubscribe", subscriptionAPI.Unsubscribe)

	protected("POST /api/notify", subscriptionAPI.Notify)
	protected("GET /api/vapid-public-key", subscriptionAPI.PublicKey)

	mux.Handle("GET /metrics", m.Handler())

	// CORS preflight for the API namespace.
	mux.Handle("OPTIONS /api/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Broadcast ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
