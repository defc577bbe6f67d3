// Package bootstrap assembles the rendering runtime shared by the api and
// worker binaries from infra.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pdfforge/internal/adapter/repo"
	"pdfforge/internal/dispatch"
	"pdfforge/internal/engine"
	"pdfforge/internal/engine/chromium"
	"pdfforge/internal/infra"
	"pdfforge/internal/infra/credentials"
	"pdfforge/internal/markup"
	"pdfforge/internal/observability"
	"pdfforge/internal/pool"
	"pdfforge/internal/render"
	"pdfforge/internal/storage"
)

// Runtime owns every long-lived collaborator of one process.
type Runtime struct {
	Config     *infra.Config
	Logger     zerolog.Logger
	DB         *pgxpool.Pool
	SQL        *infra.SQLRunner
	Jobs       *repo.JobRepositoryPG
	Pool       *pool.Pool
	Artifacts  storage.ArtifactStore
	Generator  markup.Generator
	Dispatcher *dispatch.Dispatcher
	Metrics    *observability.Metrics

	shutdownTracer func(context.Context) error
}

// New connects the database, launches nothing yet (the pool is lazy) and
// wires the dispatcher. serviceName tags traces.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, serviceName string) (*Runtime, error) {
	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, err
	}

	db, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}
	runner := infra.NewSQLRunner(db, logger)

	rt := &Runtime{
		Config:         cfg,
		Logger:         logger,
		DB:             db,
		SQL:            runner,
		Jobs:           repo.NewJobRepository(runner),
		Metrics:        observability.NewMetrics(),
		shutdownTracer: shutdownTracer,
	}

	rt.Artifacts, err = NewArtifactStore(ctx, cfg)
	if err != nil {
		rt.closeDeps(ctx)
		return nil, err
	}
	rt.Generator, err = NewGenerator(cfg, credentials.NewStore(runner), logger)
	if err != nil {
		rt.closeDeps(ctx)
		return nil, err
	}
	rt.Pool, err = NewPool(cfg, logger)
	if err != nil {
		rt.closeDeps(ctx)
		return nil, err
	}
	rt.Metrics.ObservePool(rt.Pool)

	rt.Dispatcher = dispatch.New(dispatch.Deps{
		Store:     rt.Jobs,
		Pool:      rt.Pool,
		Renderer:  render.New(cfg.RenderTimeout).WithHealthCheck(rt.Pool),
		Generator: rt.Generator,
		Artifacts: rt.Artifacts,
		Observer:  rt.Metrics,
	}, dispatch.Config{
		Concurrency: cfg.DispatchConcurrency,
		MaxAttempts: cfg.DispatchMaxAttempts,
		MaxJobs:     cfg.DispatchMaxJobs,
		MaxDuration: cfg.DispatchMaxDuration,
	}, logger)
	return rt, nil
}

// Start begins background upkeep (pool reaping).
func (rt *Runtime) Start(ctx context.Context) {
	rt.Pool.Start(ctx)
}

// Close waits for background drains, destroys the pool and releases the
// database and tracer.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.Dispatcher.Wait()
	err := rt.Pool.Destroy()
	if err != nil {
		rt.Logger.Warn().Err(err).Msg("pool destroy reported errors")
	}
	rt.closeDeps(ctx)
	return err
}

func (rt *Runtime) closeDeps(ctx context.Context) {
	rt.DB.Close()
	if err := rt.shutdownTracer(ctx); err != nil {
		rt.Logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
}

// NewPool builds the resource pool on the launcher selected by RENDER_ENV.
func NewPool(cfg *infra.Config, logger zerolog.Logger) (*pool.Pool, error) {
	env, err := engine.ParseEnvironment(cfg.RenderEnv)
	if err != nil {
		return nil, err
	}
	launcher, err := chromium.NewLauncher(env, chromium.Options{Bin: cfg.ChromeBin, Logger: logger})
	if err != nil {
		return nil, err
	}
	return pool.New(launcher, pool.Config{
		Size:                cfg.PoolSize,
		LeasesPerInstance:   cfg.PoolLeasesPerInst,
		AcquireTimeout:      cfg.PoolAcquireTimeout,
		PollInterval:        cfg.PoolPollInterval,
		PageIdleTimeout:     cfg.PageIdleTimeout,
		InstanceIdleTimeout: cfg.InstanceIdleTimeout,
		ReapInterval:        cfg.PoolReapInterval,
	}, logger), nil
}

// NewArtifactStore returns the filesystem or minio store named by
// STORAGE_DRIVER.
func NewArtifactStore(ctx context.Context, cfg *infra.Config) (storage.ArtifactStore, error) {
	switch cfg.StorageDriver {
	case "minio":
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "", "filesystem":
		path := cfg.StoragePath
		if path == "" {
			path = "./storage"
		}
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		return storage.NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// KeySource reads provider keys saved with `pdfctl set-token`.
type KeySource interface {
	OpenAIAPIKey(ctx context.Context) (string, error)
}

// NewGenerator returns the markup generator named by MARKUP_PROVIDER. The
// openai generator falls back to the static template on any upstream
// failure; without an env key it looks the key up in the credential store
// on every call.
func NewGenerator(cfg *infra.Config, keys KeySource, logger zerolog.Logger) (markup.Generator, error) {
	switch cfg.MarkupProvider {
	case "", markup.ProviderStatic:
		return markup.NewStaticGenerator(), nil
	case markup.ProviderOpenAI:
		opts := markup.OpenAIOptions{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			HTTPClient:   &http.Client{Timeout: 30 * time.Second},
			OnFallback: func(reason string, err error) {
				logger.Warn().Err(err).Str("reason", reason).Msg("openai: falling back to static markup")
			},
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("openai: configuration warning")
			},
		}
		if opts.APIKey == "" {
			if keys == nil {
				return nil, errors.New("openai markup provider needs OPENAI_API_KEY or a stored token")
			}
			opts.KeyLookup = keys.OpenAIAPIKey
		}
		return markup.NewOpenAIGenerator(opts)
	default:
		return nil, fmt.Errorf("unknown markup provider %q", cfg.MarkupProvider)
	}
}
