package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"clip-similarity/internal/embeddings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps the API and scorer from migrating at the same time.
	const lockID = 727004211

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Embedding columns have no fixed dimension: base and large checkpoints differ.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			model TEXT NOT NULL,
			metric TEXT NOT NULL,
			image_urls TEXT[] NOT NULL,
			captions TEXT[] NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT now(),
			updated_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS job_results (
			job_id UUID REFERENCES jobs(id) ON DELETE CASCADE,
			ord INT NOT NULL,
			score REAL NOT NULL,
			image_embedding vector,
			text_embedding vector,
			PRIMARY KEY (job_id, ord)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job Job) (Job, error) {
	if len(job.ImageURLs) != len(job.Captions) {
		return Job{}, fmt.Errorf("job has %d image urls and %d captions", len(job.ImageURLs), len(job.Captions))
	}
	job.ID = uuid.New()
	job.Status = StatusPending
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs(id, status, model, metric, image_urls, captions, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$7)`,
		job.ID, job.Status, job.Model, job.Metric, pq.Array(job.ImageURLs), pq.Array(job.Captions), now)
	if err != nil {
		return Job{}, err
	}
	job.CreatedAt, job.UpdatedAt = now, now
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	job := Job{ID: id}
	row := s.db.QueryRowContext(ctx, `
		SELECT status, model, metric, image_urls, captions, error, created_at, updated_at
		FROM jobs WHERE id=$1`, id)
	err := row.Scan(&job.Status, &job.Model, &job.Metric, pq.Array(&job.ImageURLs), pq.Array(&job.Captions),
		&job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ord, score, image_embedding, text_embedding
		FROM job_results WHERE job_id=$1 ORDER BY ord`, id)
	if err != nil {
		return Job{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        Result
			imageVec pgvector.Vector
			textVec  pgvector.Vector
		)
		if err := rows.Scan(&r.Index, &r.Score, &imageVec, &textVec); err != nil {
			return Job{}, err
		}
		r.ImageEmbedding = embeddings.Vector(imageVec.Slice())
		r.TextEmbedding = embeddings.Vector(textVec.Slice())
		job.Results = append(job.Results, r)
	}
	return job, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=$1, error=$2, updated_at=now() WHERE id=$3`,
		status, errMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) SaveResults(ctx context.Context, id uuid.UUID, results []Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_results(job_id, ord, score, image_embedding, text_embedding)
			VALUES($1,$2,$3,$4,$5)
			ON CONFLICT (job_id, ord) DO UPDATE
			SET score=excluded.score, image_embedding=excluded.image_embedding, text_embedding=excluded.text_embedding`,
			id, r.Index, r.Score, pgvector.NewVector(r.ImageEmbedding), pgvector.NewVector(r.TextEmbedding))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
