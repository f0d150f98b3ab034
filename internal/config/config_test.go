package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"ModelProvider", cfg.ModelProvider, "clip"},
		{"ClipModel", cfg.ClipModel, "openai/clip-vit-base-patch16"},
		{"ClipTimeout", cfg.ClipTimeout, 60 * time.Second},
		{"DistanceMetric", cfg.DistanceMetric, "cosine"},
		{"FetchRetries", cfg.FetchRetries, 0},
		{"FetchMaxBytes", cfg.FetchMaxBytes, int64(20 << 20)},
		{"CacheProvider", cfg.CacheProvider, "none"},
		{"StoreProvider", cfg.StoreProvider, "none"},
		{"QueueProvider", cfg.QueueProvider, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CLIP_MODEL", "openai/clip-vit-large-patch14")
	t.Setenv("FETCH_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.ClipModel != "openai/clip-vit-large-patch14" {
		t.Errorf("expected large clip model, got %s", cfg.ClipModel)
	}
	if cfg.FetchTimeout != 2*time.Second {
		t.Errorf("expected fetch timeout 2s, got %v", cfg.FetchTimeout)
	}
}

func TestLoadProviderOverrides(t *testing.T) {
	t.Setenv("CACHE_PROVIDER", "redis")
	t.Setenv("DISTANCE_METRIC", "euclidean")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CacheProvider != "redis" {
		t.Errorf("expected cache provider 'redis', got %s", cfg.CacheProvider)
	}
	if cfg.DistanceMetric != "euclidean" {
		t.Errorf("expected metric 'euclidean', got %s", cfg.DistanceMetric)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"malformed max inputs", "MAX_INPUTS", "lots"},
		{"negative max inputs", "MAX_INPUTS", "-1"},
		{"malformed timeout", "FETCH_TIMEOUT", "soon"},
		{"negative retries", "FETCH_RETRIES", "-3"},
		{"negative concurrency", "FETCH_CONCURRENCY", "-1"},
		{"negative batch size", "CLIP_MAX_BATCH", "-2"},
		{"negative body limit", "FETCH_MAX_BYTES", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
