package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for every binary. Extend as needed.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"
	MaxInputs int    `env:"MAX_INPUTS" envDefault:"64"`   // per similarity request

	// Model
	ModelProvider string        `env:"MODEL_PROVIDER" envDefault:"clip"` // "clip" (HTTP inference server)
	ClipModel     string        `env:"CLIP_MODEL" envDefault:"openai/clip-vit-base-patch16"`
	ClipServerURL string        `env:"CLIP_SERVER_URL" envDefault:"http://localhost:8000"`
	ClipTimeout   time.Duration `env:"CLIP_TIMEOUT" envDefault:"60s"`
	ClipMaxBatch  int           `env:"CLIP_MAX_BATCH" envDefault:"0"` // 0 sends the whole batch in one request

	DistanceMetric string `env:"DISTANCE_METRIC" envDefault:"cosine"` // "cosine" or "euclidean"

	// Image fetching
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
	FetchMaxBytes    int64         `env:"FETCH_MAX_BYTES" envDefault:"20971520"` // 20MB in bytes
	FetchRetries     int           `env:"FETCH_RETRIES" envDefault:"0"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" envDefault:"4"`

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"none"` // "redis" or "none"
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"none"` // "postgres" or "none"
	DBURL         string `env:"DB_URL"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none"` // "nats" or "none"
	QueueURL      string `env:"QUEUE_URL"`
}

// Load reads configuration from environment variables with defaults. A value
// that does not parse or is out of range is an error, never a silent zero.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for name, v := range map[string]int{
		"MAX_INPUTS":        cfg.MaxInputs,
		"CLIP_MAX_BATCH":    cfg.ClipMaxBatch,
		"FETCH_RETRIES":     cfg.FetchRetries,
		"FETCH_CONCURRENCY": cfg.FetchConcurrency,
	} {
		if v < 0 {
			return Config{}, fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if cfg.FetchMaxBytes < 0 {
		return Config{}, fmt.Errorf("FETCH_MAX_BYTES must not be negative, got %d", cfg.FetchMaxBytes)
	}
	return cfg, nil
}
