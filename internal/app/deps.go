package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"clip-similarity/internal/cache"
	"clip-similarity/internal/clip"
	"clip-similarity/internal/config"
	"clip-similarity/internal/distance"
	"clip-similarity/internal/imageload"
	"clip-similarity/internal/logger"
	"clip-similarity/internal/model"
	"clip-similarity/internal/queue"
	"clip-similarity/internal/similarity"
	"clip-similarity/internal/store"
)

// Deps bundles common runtime dependencies for services.
// Store and Queue are nil when their provider is "none".
type Deps struct {
	Config     config.Config
	Log        *slog.Logger
	ModelName  model.Name
	Model      model.Model
	Distance   distance.Calculator
	Similarity *similarity.Calculator
	Loader     *imageload.Loader
	Cache      cache.Cache
	Store      store.Store
	Queue      queue.Queue
}

// Close releases the cache, store and queue connections. Nil components and
// components without a Close method are skipped.
func (d Deps) Close() error {
	var errs []error
	for _, c := range []any{d.Cache, d.Store, d.Queue} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load config: %w", err)
	}
	return BuildFromConfig(cfg, logger.New(cfg.LogLevel, cfg.LogFormat))
}

// BuildFromConfig wires components from an already loaded config.
func BuildFromConfig(cfg config.Config, log *slog.Logger) (Deps, error) {
	name, err := model.ParseName(cfg.ClipModel)
	if err != nil {
		return Deps{}, fmt.Errorf("invalid CLIP_MODEL: %w", err)
	}
	metric, err := distance.ParseMetric(cfg.DistanceMetric)
	if err != nil {
		return Deps{}, fmt.Errorf("invalid DISTANCE_METRIC: %w", err)
	}
	dist, err := distance.New(metric)
	if err != nil {
		return Deps{}, err
	}

	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	deps := Deps{Config: cfg, Log: log, ModelName: name, Distance: dist, Cache: c}
	if deps.Model, err = buildModel(cfg, name, c, log); err != nil {
		return Deps{}, closeOnError(deps, fmt.Errorf("failed to initialize model: %w", err))
	}
	if deps.Store, err = buildStore(cfg, log); err != nil {
		return Deps{}, closeOnError(deps, fmt.Errorf("failed to initialize store: %w", err))
	}
	if deps.Queue, err = buildQueue(cfg, log); err != nil {
		return Deps{}, closeOnError(deps, fmt.Errorf("failed to initialize queue: %w", err))
	}
	deps.Similarity = similarity.New(deps.Model, dist)
	deps.Loader = BuildLoader(cfg)
	return deps, nil
}

func closeOnError(d Deps, err error) error {
	if cerr := d.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// BuildLoader maps FETCH_* settings onto an image loader.
func BuildLoader(cfg config.Config) *imageload.Loader {
	return imageload.New(imageload.Options{
		Timeout:     cfg.FetchTimeout,
		MaxBytes:    cfg.FetchMaxBytes,
		Retries:     cfg.FetchRetries,
		Concurrency: cfg.FetchConcurrency,
	})
}

func buildModel(cfg config.Config, name model.Name, c cache.Cache, log *slog.Logger) (model.Model, error) {
	switch cfg.ModelProvider {
	case "clip":
		m, err := clip.New(clip.Config{
			BaseURL:      cfg.ClipServerURL,
			Model:        name,
			Timeout:      cfg.ClipTimeout,
			MaxBatchSize: cfg.ClipMaxBatch,
		})
		if err != nil {
			return nil, err
		}
		log.Info("using CLIP inference server", "model", name, "url", cfg.ClipServerURL)
		if _, ok := c.(*cache.NoOpCache); ok {
			return m, nil
		}
		return cache.NewModel(m, c, string(name), cfg.CacheTTL, log), nil
	default:
		return nil, fmt.Errorf("invalid MODEL_PROVIDER: %s (valid option: clip)", cfg.ModelProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, embedding cache disabled", "err", err)
			return cache.NewNoOpCache(), nil
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		return rc, nil
	case "none", "":
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: redis, none)", cfg.CacheProvider)
	}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, none)", cfg.StoreProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", cfg.QueueProvider)
	}
}
