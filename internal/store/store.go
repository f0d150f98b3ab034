package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"clip-similarity/internal/embeddings"
)

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Job is an asynchronous scoring request: one score per (image URL, caption) pair.
type Job struct {
	ID        uuid.UUID
	Status    JobStatus
	Model     string
	Metric    string
	ImageURLs []string
	Captions  []string
	Error     string
	Results   []Result
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the score for input Index of a job, with the embeddings it came from.
type Result struct {
	Index          int
	Score          float32
	ImageEmbedding embeddings.Vector
	TextEmbedding  embeddings.Vector
}

// Store defines persistence for scoring jobs; an external DB implementation can replace this.
type Store interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error
	SaveResults(ctx context.Context, id uuid.UUID, results []Result) error
}
