package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

type inputRequest struct {
	ImageURL    string `json:"image_url" validate:"required_without=ImageBase64,excluded_with=ImageBase64"`
	ImageBase64 string `json:"image_base64" validate:"required_without=ImageURL"`
	Caption     string `json:"caption" validate:"max=2000"`
}

type similarityRequest struct {
	Inputs []inputRequest `json:"inputs" validate:"required,min=1,dive"`
	Metric string         `json:"metric" validate:"omitempty,oneof=cosine euclidean"`
}

type jobRequest struct {
	Inputs []struct {
		ImageURL string `json:"image_url" validate:"required,url"`
		Caption  string `json:"caption" validate:"max=2000"`
	} `json:"inputs" validate:"required,min=1,dive"`
	Metric string `json:"metric" validate:"omitempty,oneof=cosine euclidean"`
}

type scoreTaskPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Log.Error("failed to close dependencies", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := httputil.NewRouter(deps.Log)

	r.Post("/api/similarity", similarityHandler(deps))
	r.Post("/api/jobs", createJobHandler(deps))
	r.Get("/api/jobs/{id}", getJobHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("similarity api listening", "addr", addr, "model", deps.ModelName, "metric", deps.Distance.Metric())
	if err := httputil.Serve(ctx, &http.Server{Addr: addr, Handler: r}); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

func similarityHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req similarityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if limit := deps.Config.MaxInputs; limit > 0 && len(req.Inputs) > limit {
			httputil.Fail(deps.Log, w, fmt.Sprintf("too many inputs (max %d)", limit), nil, http.StatusBadRequest)
			return
		}

		calc, err := calculatorFor(deps, req.Metric)
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid metric", err, http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		images, err := loadImages(r, deps, req.Inputs)
		if err != nil {
			fail(deps, w, err)
			return
		}
		inputs := make([]model.Input, len(req.Inputs))
		for i, in := range req.Inputs {
			inputs[i] = model.Input{Image: images[i], Caption: in.Caption}
		}

		start := time.Now()
		scores, err := calc.Calculate(ctx, inputs)
		if err != nil {
			fail(deps, w, err)
			return
		}
		ranking := similarity.Rank(scores, calc.Metric())
		deps.Log.Info("similarity calculated", "inputs", len(inputs), "metric", calc.Metric(), "duration_ms", time.Since(start).Milliseconds())

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"model":            deps.ModelName,
			"metric":           calc.Metric(),
			"higher_is_better": calc.Metric().HigherIsBetter(),
			"scores":           scores,
			"best_index":       ranking[0],
		})
	}
}

func createJobHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil || deps.Queue == nil {
			httputil.Fail(deps.Log, w, "async jobs are disabled", nil, http.StatusServiceUnavailable)
			return
		}
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if limit := deps.Config.MaxInputs; limit > 0 && len(req.Inputs) > limit {
			httputil.Fail(deps.Log, w, fmt.Sprintf("too many inputs (max %d)", limit), nil, http.StatusBadRequest)
			return
		}
		metric, err := distance.ParseMetric(req.Metric)
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid metric", err, http.StatusBadRequest)
			return
		}

		job := store.Job{Model: string(deps.ModelName), Metric: string(metric)}
		for _, in := range req.Inputs {
			job.ImageURLs = append(job.ImageURLs, in.ImageURL)
			job.Captions = append(job.Captions, in.Caption)
		}

		ctx := r.Context()
		job, err = deps.Store.CreateJob(ctx, job)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist job", err, http.StatusInternalServerError)
			return
		}
		body, err := json.Marshal(scoreTaskPayload{JobID: job.ID})
		if err != nil {
			httputil.Fail(deps.Log, w, "marshal payload failed", err, http.StatusInternalServerError)
			return
		}
		task := queue.Task{Type: queue.TaskTypeScore, Payload: body}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			if upErr := deps.Store.UpdateJobStatus(ctx, job.ID, store.StatusFailed, "enqueue failed"); upErr != nil {
				deps.Log.Error("failed to mark job failed", "job_id", job.ID, "err", upErr)
			}
			httputil.Fail(deps.Log, w, "failed to enqueue job; please retry", err, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"job_id": job.ID.String(),
			"status": job.Status,
		})
	}
}

func getJobHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httputil.Fail(deps.Log, w, "async jobs are disabled", nil, http.StatusServiceUnavailable)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid job id", err, http.StatusBadRequest)
			return
		}
		job, err := deps.Store.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrJobNotFound) {
			httputil.Fail(deps.Log, w, "job not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load job", err, http.StatusInternalServerError)
			return
		}

		scores := make([]float32, len(job.Results))
		for _, res := range job.Results {
			if res.Index >= 0 && res.Index < len(scores) {
				scores[res.Index] = res.Score
			}
		}
		resp := map[string]any{
			"job_id":   job.ID.String(),
			"status":   job.Status,
			"model":    job.Model,
			"metric":   job.Metric,
			"captions": job.Captions,
		}
		if job.Status == store.StatusDone {
			resp["scores"] = scores
		}
		if job.Error != "" {
			resp["error"] = job.Error
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// calculatorFor returns the shared calculator, or one using the requested metric.
func calculatorFor(deps app.Deps, metric string) (*similarity.Calculator, error) {
	if metric == "" || distance.Metric(metric) == deps.Similarity.Metric() {
		return deps.Similarity, nil
	}
	m, err := distance.ParseMetric(metric)
	if err != nil {
		return nil, err
	}
	d, err := distance.New(m)
	if err != nil {
		return nil, err
	}
	return similarity.New(deps.Model, d), nil
}

// loadImages fetches URL inputs concurrently and decodes inline ones. Result i belongs to inputs[i].
func loadImages(r *http.Request, deps app.Deps, inputs []inputRequest) ([]image.Image, error) {
	images := make([]image.Image, len(inputs))
	var urls []string
	var urlIdx []int
	for i, in := range inputs {
		if in.ImageURL != "" {
			urls = append(urls, in.ImageURL)
			urlIdx = append(urlIdx, i)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(in.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w: invalid base64: %v", i, imageload.ErrDecode, err)
		}
		img, err := imageload.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		images[i] = img
	}
	if len(urls) == 0 {
		return images, nil
	}
	fetched, err := deps.Loader.LoadAll(r.Context(), urls)
	if err != nil {
		return nil, err
	}
	for j, i := range urlIdx {
		images[i] = fetched[j]
	}
	return images, nil
}

// fail maps pipeline errors onto HTTP statuses.
func fail(deps app.Deps, w http.ResponseWriter, err error) {
	var serverErr *clip.ServerError
	switch {
	case errors.Is(err, imageload.ErrInvalidURL), errors.Is(err, model.ErrEmptyBatch), errors.Is(err, model.ErrNilImage):
		httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
	case errors.Is(err, imageload.ErrBadStatus):
		httputil.Fail(deps.Log, w, "image server returned an error status", err, http.StatusUnprocessableEntity)
	case errors.Is(err, imageload.ErrDecode):
		httputil.Fail(deps.Log, w, "image could not be decoded", err, http.StatusUnprocessableEntity)
	case errors.Is(err, imageload.ErrTooLarge):
		httputil.Fail(deps.Log, w, "image too large", err, http.StatusUnprocessableEntity)
	case errors.Is(err, imageload.ErrFetch):
		httputil.Fail(deps.Log, w, "image could not be fetched", err, http.StatusUnprocessableEntity)
	case errors.Is(err, distance.ErrZeroVector):
		httputil.Fail(deps.Log, w, "model returned a zero embedding", err, http.StatusUnprocessableEntity)
	case errors.As(err, &serverErr), errors.Is(err, clip.ErrMalformedResponse):
		httputil.Fail(deps.Log, w, "model server failed", err, http.StatusBadGateway)
	default:
		httputil.Fail(deps.Log, w, "similarity calculation failed", err, http.StatusInternalServerError)
	}
}
