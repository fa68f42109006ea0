package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Vector      VectorConfig     `json:"vector"`
	AI          AIConfig         `json:"ai"`
	Cache       CacheConfig      `json:"cache"`
	Queue       QueueConfig      `json:"queue"`
	Reconcile   ReconcileConfig  `json:"reconcile"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type VectorConfig struct {
	// Backend is "postgres" (pgvector) or "memory"; memory loses every
	// vector on restart and suits local runs only.
	Backend        string `json:"backend"`
	PostCollection string `json:"post_collection"`
	UserCollection string `json:"user_collection"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
}

type AIConfig struct {
	Provider      string      `json:"provider"`
	EmbedProvider string      `json:"embed_provider"`
	Data          interface{} `json:"data"`
	EmbedModel    string      `json:"embed_model"`

	// FallbackEmbedProvider answers when the primary embed provider fails.
	// Its model must produce vectors of vector.dimension.
	FallbackEmbedProvider string      `json:"fallback_embed_provider"`
	FallbackEmbedModel    string      `json:"fallback_embed_model"`
	FallbackData          interface{} `json:"fallback_data"`

	VisionModel   string      `json:"vision_model"`
	Timeout       int         `json:"timeout"`
	MaxInputChars int         `json:"max_input_chars"`
	LRUSize       int         `json:"lru_size"`
	LRUTTLSeconds int         `json:"lru_ttl_seconds"`
	DBCache       bool        `json:"db_cache"`
	DBCacheDays   int         `json:"db_cache_days"`
	CleanupSpec   string      `json:"cleanup_spec"`
}

type CacheConfig struct {
	Dir              string `json:"dir"`
	InMemory         bool   `json:"in_memory"`
	PageTTLSeconds   int    `json:"page_ttl_seconds"`
	MetricTTLSeconds int    `json:"metric_ttl_seconds"`
	GCSpec           string `json:"gc_spec"`
}

type QueueConfig struct {
	Type              string `json:"type"`
	NatsURL           string `json:"nats_url"`
	Topic             string `json:"topic"`
	PoisonTopic       string `json:"poison_topic"`
	MaxAttempts       int    `json:"max_attempts"`
	InitialIntervalMs int    `json:"initial_interval_ms"`
}

type ReconcileConfig struct {
	Spec      string `json:"spec"`
	BatchSize int    `json:"batch_size"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "postgres"
	}
	if cfg.Vector.Backend != "postgres" && cfg.Vector.Backend != "memory" {
		return fmt.Errorf("vector.backend must be postgres or memory")
	}
	if cfg.Vector.PostCollection == "" {
		cfg.Vector.PostCollection = "posts"
	}
	if cfg.Vector.UserCollection == "" {
		cfg.Vector.UserCollection = "users"
	}
	if cfg.Vector.Dimension <= 0 {
		cfg.Vector.Dimension = 768
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Vector.Metric != "cosine" {
		return fmt.Errorf("vector.metric must be cosine")
	}

	if strings.TrimSpace(cfg.AI.Provider) == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.EmbedProvider == "" {
		cfg.AI.EmbedProvider = cfg.AI.Provider
	}
	if cfg.AI.EmbedModel == "" {
		cfg.AI.EmbedModel = "text-embedding-004"
	}
	if cfg.AI.FallbackEmbedProvider != "" && cfg.AI.FallbackEmbedModel == "" {
		return fmt.Errorf("ai.fallback_embed_model is required with ai.fallback_embed_provider")
	}
	if cfg.AI.VisionModel == "" {
		cfg.AI.VisionModel = "gemini-2.0-flash"
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 30
	}
	if cfg.AI.DBCacheDays <= 0 {
		cfg.AI.DBCacheDays = 30
	}
	if cfg.AI.CleanupSpec == "" {
		cfg.AI.CleanupSpec = "0 3 * * *"
	}

	if !cfg.Cache.InMemory && cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required unless cache.in_memory is set")
	}
	if cfg.Cache.PageTTLSeconds <= 0 {
		cfg.Cache.PageTTLSeconds = 30 * 60
	}
	if cfg.Cache.MetricTTLSeconds <= 0 {
		cfg.Cache.MetricTTLSeconds = 24 * 60 * 60
	}
	if cfg.Cache.GCSpec == "" {
		cfg.Cache.GCSpec = "*/30 * * * *"
	}

	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "gochannel"
	}
	switch cfg.Queue.Type {
	case "gochannel":
	case "nats":
		if cfg.Queue.NatsURL == "" {
			return fmt.Errorf("queue.nats_url is required for nats queue")
		}
	default:
		return fmt.Errorf("queue.type must be gochannel or nats")
	}
	if cfg.Queue.Topic == "" {
		cfg.Queue.Topic = "embedding.jobs"
	}
	if cfg.Queue.PoisonTopic == "" {
		cfg.Queue.PoisonTopic = "embedding.failed"
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.InitialIntervalMs <= 0 {
		cfg.Queue.InitialIntervalMs = 1000
	}

	if cfg.Reconcile.Spec == "" {
		cfg.Reconcile.Spec = "*/10 * * * *"
	}
	if cfg.Reconcile.BatchSize <= 0 {
		cfg.Reconcile.BatchSize = 100
	}
	return nil
}
