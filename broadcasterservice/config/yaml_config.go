// --- File: broadcasterservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	Enabled         bool   `yaml:"enabled"`
	KeyPrefix       string `yaml:"key_prefix"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlPushConfig struct {
	Workers            int     `yaml:"workers"`
	RatePerSec         float64 `yaml:"rate_per_sec"`
	TTLSeconds         int     `yaml:"ttl_seconds"`
	Urgency            string  `yaml:"urgency"`
	SendTimeoutSeconds int     `yaml:"send_timeout_seconds"`
}

type YamlStorageConfig struct {
	Backend       string `yaml:"backend"`
	FirestoreRoot string `yaml:"firestore_root"`
}

type YamlAuthConfig struct {
	APISecretKey       string `yaml:"api_secret_key"`
	IdentityServiceURL string `yaml:"identity_service_url"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string            `yaml:"project_id"`
	ListenAddr             string            `yaml:"listen_addr"`
	TopicID                string            `yaml:"topic_id"`
	SubscriptionID         string            `yaml:"subscription_id"`
	SubscriptionDLQTopicID string            `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int               `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig    `yaml:"cors"`
	RedisConfig            YamlRedisConfig   `yaml:"redis"`
	VapidConfig            YamlVapidConfig   `yaml:"vapid"`
	PushConfig             YamlPushConfig    `yaml:"push"`
	StorageConfig          YamlStorageConfig `yaml:"storage"`
	AuthConfig             YamlAuthConfig    `yaml:"auth"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:      baseCfg.RedisConfig.Addr,
			Password:  baseCfg.RedisConfig.Password,
			DB:        baseCfg.RedisConfig.DB,
			Enabled:   baseCfg.RedisConfig.Enabled,
			KeyPrefix: baseCfg.RedisConfig.KeyPrefix,
			CacheTTL:  time.Duration(baseCfg.RedisConfig.CacheTTLSeconds) * time.Second,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Push: PushConfig{
			Workers:     baseCfg.PushConfig.Workers,
			RatePerSec:  baseCfg.PushConfig.RatePerSec,
			TTLSeconds:  baseCfg.PushConfig.TTLSeconds,
			Urgency:     baseCfg.PushConfig.Urgency,
			SendTimeout: time.Duration(baseCfg.PushConfig.SendTimeoutSeconds) * time.Second,
		},
		Storage: StorageConfig{
			Backend:       baseCfg.StorageConfig.Backend,
			FirestoreRoot: baseCfg.StorageConfig.FirestoreRoot,
		},
		Auth: AuthConfig{
			APISecretKey:       baseCfg.AuthConfig.APISecretKey,
			IdentityServiceURL: baseCfg.AuthConfig.IdentityServiceURL,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.Storage.Backend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
