package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clip-similarity/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeScore TaskType = "score"
)

// Task represents a unit of work handed from the API to the scorer.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
// attempts counts the first try.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	return retry.Do(ctx, attempts-1, base, func() error {
		return q.Enqueue(ctx, task)
	})
}

// LastAttempt reports whether a failure of this delivery will not be retried.
func (t Task) LastAttempt() bool {
	limit := t.MaxAttempts
	if limit == 0 {
		limit = defaultMaxAttempts
	}
	return t.Attempts+1 >= limit
}
