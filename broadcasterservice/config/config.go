// --- File: broadcasterservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

const (
	defaultPushWorkers     = 16
	defaultPushTTLSeconds  = 24 * 60 * 60
	defaultPushSendTimeout = 10 * time.Second
	defaultCacheTTL        = time.Hour
)

type RedisConfig struct {
	// Enabled turns on the read-aside cache in front of the Firestore backend.
	// The redis backend always connects regardless of this flag.
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	CacheTTL  time.Duration
}

type StorageConfig struct {
	Backend       string
	FirestoreRoot string
}

// PushConfig tunes the dispatch fan-out and the Web Push request options.
type PushConfig struct {
	Workers     int
	RatePerSec  float64
	TTLSeconds  int
	Urgency     string
	SendTimeout time.Duration
}

type AuthConfig struct {
	APISecretKey       string
	IdentityServiceURL string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Push       PushConfig
	Storage    StorageConfig
	Auth       AuthConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// IngestionEnabled reports whether broadcasts are also consumed from Pub/Sub.
func (c *Config) IngestionEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.Storage.Backend = strings.ToLower(val)
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	// Keys pasted into env files or secrets often carry a trailing newline.
	cfg.Vapid.PublicKey = strings.TrimSpace(cfg.Vapid.PublicKey)
	cfg.Vapid.PrivateKey = strings.TrimSpace(cfg.Vapid.PrivateKey)
	cfg.Vapid.SubscriberEmail = strings.TrimSpace(cfg.Vapid.SubscriberEmail)

	// Push Overrides
	if val := os.Getenv("PUSH_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "PUSH_WORKERS", "source", "env")
			cfg.Push.Workers = workers
		}
	}
	if val := os.Getenv("PUSH_RATE_PER_SEC"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil && rps >= 0 {
			logger.Debug("Overriding config value", "key", "PUSH_RATE_PER_SEC", "source", "env")
			cfg.Push.RatePerSec = rps
		}
	}
	if val := os.Getenv("PUSH_TTL_SECONDS"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil && ttl >= 0 {
			logger.Debug("Overriding config value", "key", "PUSH_TTL_SECONDS", "source", "env")
			cfg.Push.TTLSeconds = ttl
		}
	}
	if val := os.Getenv("PUSH_URGENCY"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_URGENCY", "source", "env")
		cfg.Push.Urgency = val
	}
	if val := os.Getenv("PUSH_SEND_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			logger.Debug("Overriding config value", "key", "PUSH_SEND_TIMEOUT_SECONDS", "source", "env")
			cfg.Push.SendTimeout = time.Duration(secs) * time.Second
		}
	}

	// Auth Overrides
	if val := os.Getenv("API_SECRET_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "API_SECRET_KEY", "source", "env")
		cfg.Auth.APISecretKey = val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.Auth.IdentityServiceURL = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendRedis
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = defaultCacheTTL
	}
	if cfg.Push.Workers <= 0 {
		cfg.Push.Workers = defaultPushWorkers
	}
	if cfg.Push.TTLSeconds <= 0 {
		cfg.Push.TTLSeconds = defaultPushTTLSeconds
	}
	if cfg.Push.SendTimeout <= 0 {
		cfg.Push.SendTimeout = defaultPushSendTimeout
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	switch cfg.Storage.Backend {
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required for the redis storage backend (set via YAML or REDIS_ADDR env var)")
		}
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore storage backend (set via YAML or PROJECT_ID env var)")
		}
		if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis cache is enabled but no addr is set")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.IngestionEnabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Auth.APISecretKey == "" && cfg.Auth.IdentityServiceURL == "" {
		return nil, fmt.Errorf("api_secret_key or identity_service_url is required to protect the notify endpoint")
	}
	if !validUrgency(cfg.Push.Urgency) {
		return nil, fmt.Errorf("invalid push urgency %q (want very-low, low, normal or high)", cfg.Push.Urgency)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validUrgency(u string) bool {
	switch u {
	case "", "very-low", "low", "normal", "high":
		return true
	}
	return false
}
