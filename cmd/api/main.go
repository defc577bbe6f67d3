package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pdfforge/internal/bootstrap"
	"pdfforge/internal/http/handlers"
	httpapi "pdfforge/internal/http/httpapi"
	"pdfforge/internal/infra"
	"pdfforge/internal/jobs"
	"pdfforge/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger, "pdfforge-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build runtime")
	}
	rt.Start(ctx)

	rateLimit := middleware.RateLimit(cfg.RateLimitPerMin)
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory rate limits")
	} else if rdb != nil {
		defer rdb.Close()
		rateLimit = middleware.RedisRateLimit(rdb, cfg.RateLimitPerMin, time.Minute, logger)
	}

	app := &handlers.App{
		Jobs: jobs.NewService(rt.Jobs, nil, rt.Dispatcher, jobs.Config{
			DedupWindow:      cfg.DedupWindow,
			MaxRegenerations: cfg.MaxRegenerations,
		}, logger),
		Dispatcher:       rt.Dispatcher,
		Pool:             rt.Pool,
		Counter:          rt.Jobs,
		Documents:        rt.Artifacts,
		DB:               rt.DB,
		Logger:           logger,
		MaxDrainJobs:     cfg.DispatchMaxJobs,
		MaxDrainDuration: cfg.DispatchMaxDuration,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:      logger,
		Metrics:     rt.Metrics.Handler(),
		DrainSecret: cfg.DrainSecret,
		RateLimit:   rateLimit,
	})
	if err := infra.NewHTTPServer(cfg, router, logger).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to release runtime")
	}
	logger.Info().Msg("server stopped")
}
