// --- File: cmd/broadcaster/runbroadcaster.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-webpush-broadcaster/broadcasterservice"
	"github.com/tinywideclouds/go-webpush-broadcaster/broadcasterservice/config"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/api"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/broadcast"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/metrics"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/platform/web"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/registry"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/firestore"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/memory"
	"github.com/tinywideclouds/go-webpush-broadcaster/internal/storage/redisstore"
	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-webpush-broadcaster")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Subscription Store ---
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Subscription store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()
	subscriptions := registry.New(store)

	// --- Push Transport ---
	if !cfg.Vapid.Configured() {
		logger.Warn("VAPID keys missing in configuration. Notify will answer 503 until they are set.")
	} else {
		logger.Info("Web Push enabled", "public_key", cfg.Vapid.PublicKey)
	}
	webDispatcher := web.NewDispatcher(cfg.Vapid, cfg.Push, logger)

	m := metrics.New()
	engine := broadcast.NewEngine(subscriptions, webDispatcher, cfg.Vapid, cfg.Push, m, logger)

	// --- Auth ---
	authMiddleware, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		logger.Error("Auth setup failed", "err", err)
		os.Exit(1)
	}

	// --- Optional Pub/Sub Ingestion ---
	var consumer messagepipeline.MessageConsumer
	if cfg.IngestionEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := broadcasterservice.New(cfg, consumer, engine, subscriptions, m, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "storage", cfg.Storage.Backend, "ingestion", cfg.IngestionEnabled())
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}
}

// newStore builds the KV store for the configured backend. The returned
// func releases its clients.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.KVStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory subscription store; subscriptions are lost on restart")
		return memory.NewStore(), func() {}, nil

	case config.BackendRedis:
		rdb, err := redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Subscription store initialized", "type", "redis", "addr", cfg.Redis.Addr)
		return redisstore.NewStore(rdb, cfg.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil

	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		var store dispatch.KVStore = fsStore.NewFirestoreStore(fsClient, cfg.Storage.FirestoreRoot)
		logger.Info("Subscription store initialized", "type", "firestore")

		if !cfg.Redis.Enabled {
			return store, func() { _ = fsClient.Close() }, nil
		}

		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		rdb, err := redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = fsClient.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = cache.NewCachedStore(store, cache.NewRedisClient(rdb), cfg.Redis.CacheTTL, logger)
		logger.Info("Subscription store upgraded", "type", "redis_cached_firestore")
		return store, func() {
			_ = rdb.Close()
			_ = fsClient.Close()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// newAuthMiddleware prefers JWT auth against the identity service when one
// is configured, and falls back to the shared API secret.
func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.IdentityServiceURL == "" {
		logger.Info("Notify endpoint protected by API secret")
		return api.NewBearerAuthMiddleware(cfg.Auth.APISecretKey, logger), nil
	}

	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.Auth.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("jwt discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return nil, fmt.Errorf("jwks middleware failed: %w", err)
	}
	logger.Info("Notify endpoint protected by JWT", "jwks_url", jwksURL)
	return authMiddleware, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
