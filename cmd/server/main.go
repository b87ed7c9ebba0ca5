package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"imageConverter/bus"
	"imageConverter/cache"
	"imageConverter/codec"
	"imageConverter/config"
	"imageConverter/handlers"
	"imageConverter/metrics"
	"imageConverter/middleware"
	"imageConverter/pool"
	"imageConverter/ratelimit"
	"imageConverter/registry"
	"imageConverter/scheduler"
	"imageConverter/validation"
	"imageConverter/ws"
)

func main() {
	configFile := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observer := metrics.NewPrometheusObserver(prometheus.DefaultRegisterer)

	store, err := buildCache(ctx, cfg, observer, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer store.Close()

	imageCodec := codec.NewCodec(logger)
	validator := validation.NewValidator(
		cfg.Security.MaxFileSizeBytes(),
		cfg.Security.AllowedMimeTypes,
		cfg.Security.EnableContentScan,
		imageCodec,
		logger,
	)

	reg := registry.NewRegistry(cfg.Processing.MaxConcurrentFiles, observer, logger)
	workerPool := pool.NewPool(cfg.Processing.MaxConcurrentFiles, cfg.Processing.MaxQueueSize, logger)
	eventBus := bus.NewBus(bus.DefaultBufferSize, observer, logger)

	sched := scheduler.NewScheduler(reg, workerPool, store, imageCodec, validator, eventBus, observer, logger)
	workerPool.Start(ctx, sched)
	defer sched.Shutdown()

	limiter := ratelimit.NewLimiter(
		cfg.Security.RateLimitRequestsPerMinute,
		cfg.Security.RateLimitBurstSize,
		observer,
	)
	limiter.Start(ctx.Done(), time.Minute, 10*time.Minute)

	httpHandler := handlers.NewHandler(sched, store, validator, imageCodec,
		cfg.Processing.LargeFileThresholdBytes(), logger)
	wsHandler := ws.NewHandler(sched, eventBus, logger)

	router := buildRouter(httpHandler, wsHandler, limiter, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server started",
			zap.String("address", server.Addr),
			zap.String("env", cfg.Server.Env),
			zap.String("cache_backend", cfg.Cache.Backend),
			zap.Int("workers", cfg.Processing.MaxConcurrentFiles),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Server.Env == "development" {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// buildCache wires the configured backend behind the store. A backend
// that fails to initialize degrades to memory so the service still comes
// up; cache durability is best-effort by contract.
func buildCache(ctx context.Context, cfg *config.Config, observer metrics.Observer, logger *zap.Logger) (*cache.Store, error) {
	var backend cache.Backend
	var err error

	switch cfg.Cache.Backend {
	case "disk":
		backend, err = cache.NewDiskBackend(cfg.Cache.Dir)
	case "redis":
		backend, err = cache.NewRedisBackend(cfg.Cache.RedisAddr, cfg.Cache.MaxAge())
	default:
		backend = cache.NewMemoryBackend()
	}
	if err != nil {
		logger.Warn("Cache backend unavailable, falling back to memory",
			zap.String("backend", cfg.Cache.Backend),
			zap.Error(err),
		)
		backend = cache.NewMemoryBackend()
	}

	store := cache.NewStore(backend, cache.Options{
		MaxBytes:      cfg.Cache.MaxBytes(),
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxAge:        cfg.Cache.MaxAge(),
		SweepInterval: cfg.Cache.SweepEvery(),
		BackendName:   cfg.Cache.Backend,
	}, observer, logger)
	store.Start(ctx)
	return store, nil
}

func buildRouter(h *handlers.Handler, wsHandler *ws.Handler, limiter *ratelimit.Limiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.Route("/api", func(r chi.Router) {
		// Mutating operations pass the rate limiter before any
		// validation work runs.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter, logger))
			r.Post("/convert/to-base64", h.ToBase64)
			r.Post("/convert/to-base64-advanced", h.ToBase64Advanced)
			r.Post("/convert/from-base64", h.FromBase64)
			r.Post("/validate-base64", h.ValidateBase64)
			r.Post("/convert/batch-start", h.BatchStart)
			r.Post("/security/scan", h.SecurityScan)
		})

		r.Get("/convert/batch-progress/{jobID}", h.BatchProgress)
		r.Delete("/convert/batch-cancel/{jobID}", h.BatchCancel)
		r.Get("/convert/batch-status", h.BatchStatus)
		r.Post("/convert/batch-cleanup", h.BatchCleanup)
		r.Get("/cache/status", h.CacheStatus)
		r.Delete("/cache/clear", h.CacheClear)
	})

	r.Handle("/socket.io/", wsHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
