package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clip-similarity/internal/embeddings"
)

// Cache stores embedding rows keyed by model, image and caption.
type Cache interface {
	// GetRow retrieves a cached row by key.
	// Returns nil if not found.
	GetRow(ctx context.Context, key string) (*Row, error)

	// SetRow stores a row with TTL.
	SetRow(ctx context.Context, key string, row *Row, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// Row is the embedding pair produced for one image/caption input.
type Row struct {
	Image embeddings.Vector `json:"image"`
	Text  embeddings.Vector `json:"text"`
}

// keyNamespace scopes cache keys to this service.
var keyNamespace = uuid.MustParse("5b0e2c1e-8f0a-4c55-9d43-4b7e2f6a9c10")

// Key derives a stable key from the model name, the encoded image bytes and the caption.
func Key(modelName string, image []byte, caption string) string {
	buf := make([]byte, 0, len(modelName)+len(image)+len(caption)+2)
	buf = append(buf, modelName...)
	buf = append(buf, 0)
	buf = append(buf, image...)
	buf = append(buf, 0)
	buf = append(buf, caption...)
	return uuid.NewSHA1(keyNamespace, buf).String()
}
