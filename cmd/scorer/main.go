package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clip-similarity/internal/app"
	"clip-similarity/internal/clip"
	"clip-similarity/internal/distance"
	"clip-similarity/internal/httputil"
	"clip-similarity/internal/imageload"
	"clip-similarity/internal/model"
	"clip-similarity/internal/queue"
	"clip-similarity/internal/similarity"
	"clip-similarity/internal/store"
)

type scoreTaskPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// imageLoader is the part of imageload.Loader the scorer needs.
type imageLoader interface {
	LoadAll(ctx context.Context, urls []string) ([]image.Image, error)
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	if deps.Store == nil || deps.Queue == nil {
		deps.Log.Error("scorer needs STORE_PROVIDER and QUEUE_PROVIDER configured")
		_ = deps.Close()
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Log.Error("failed to close dependencies", "err", err)
		}
	}()
	deps.Log.Info("scorer worker starting", "model", deps.ModelName)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeScore, func(ctx context.Context, task queue.Task) error {
			var payload scoreTaskPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				deps.Log.Error("dropping malformed score task", "task_id", task.ID, "err", err)
				return nil
			}
			return handleScore(ctx, deps, deps.Loader, payload.JobID, task.LastAttempt())
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.Port, "scorer")
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("scorer service stopped", "err", err)
	}
}

// handleScore runs one job end to end. A returned error asks the queue to
// redeliver; failures that would repeat on retry mark the job failed instead.
func handleScore(ctx context.Context, deps app.Deps, loader imageLoader, jobID uuid.UUID, lastAttempt bool) error {
	log := deps.Log.With("job_id", jobID)

	job, err := deps.Store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		log.Warn("job vanished before scoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status == store.StatusDone {
		log.Info("job already scored")
		return nil
	}
	if err := deps.Store.UpdateJobStatus(ctx, jobID, store.StatusRunning, ""); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	results, err := score(ctx, deps, loader, job)
	if err != nil {
		if permanent(err) || lastAttempt {
			log.Error("job failed", "err", err)
			if upErr := deps.Store.UpdateJobStatus(ctx, jobID, store.StatusFailed, err.Error()); upErr != nil {
				return fmt.Errorf("mark failed: %w", upErr)
			}
			return nil
		}
		log.Warn("job attempt failed, will retry", "err", err)
		return err
	}

	if err := deps.Store.SaveResults(ctx, jobID, results); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if err := deps.Store.UpdateJobStatus(ctx, jobID, store.StatusDone, ""); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	log.Info("job scored", "inputs", len(results), "metric", job.Metric)
	return nil
}

func score(ctx context.Context, deps app.Deps, loader imageLoader, job store.Job) ([]store.Result, error) {
	if len(job.ImageURLs) != len(job.Captions) {
		return nil, fmt.Errorf("%w: %d images for %d captions", errInvalidJob, len(job.ImageURLs), len(job.Captions))
	}
	if job.Model != "" && model.Name(job.Model) != deps.ModelName {
		return nil, fmt.Errorf("%w: job wants %s, scorer serves %s", errInvalidJob, job.Model, deps.ModelName)
	}
	metric, err := distance.ParseMetric(job.Metric)
	if err != nil {
		return nil, err
	}
	dist, err := distance.New(metric)
	if err != nil {
		return nil, err
	}

	images, err := loader.LoadAll(ctx, job.ImageURLs)
	if err != nil {
		return nil, err
	}
	inputs := make([]model.Input, len(images))
	for i, img := range images {
		inputs[i] = model.Input{Image: img, Caption: job.Captions[i]}
	}

	res, err := similarity.New(deps.Model, dist).Evaluate(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([]store.Result, len(res.Scores))
	for i, s := range res.Scores {
		out[i] = store.Result{
			Index:          i,
			Score:          s,
			ImageEmbedding: res.Prediction.ImageEmbedding.Row(i),
			TextEmbedding:  res.Prediction.TextEmbedding.Row(i),
		}
	}
	return out, nil
}

var errInvalidJob = errors.New("invalid job")

// permanent reports errors that a redelivery would hit again.
func permanent(err error) bool {
	for _, target := range []error{
		errInvalidJob,
		imageload.ErrInvalidURL,
		imageload.ErrBadStatus,
		imageload.ErrDecode,
		imageload.ErrTooLarge,
		model.ErrEmptyBatch,
		model.ErrNilImage,
		model.ErrUnsupportedModel,
		distance.ErrUnknownMetric,
		distance.ErrShapeMismatch,
		distance.ErrZeroVector,
		clip.ErrMalformedResponse,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
