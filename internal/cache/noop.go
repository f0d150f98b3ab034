package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used when no cache is configured or Redis is unavailable: every lookup is a miss.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetRow always returns nil (cache miss)
func (c *NoOpCache) GetRow(ctx context.Context, key string) (*Row, error) {
	return nil, nil
}

// SetRow does nothing and always succeeds
func (c *NoOpCache) SetRow(ctx context.Context, key string, row *Row, ttl time.Duration) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
