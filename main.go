package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leapgeo/citetrack/internal/cache"
	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/config"
	"github.com/leapgeo/citetrack/internal/db"
	"github.com/leapgeo/citetrack/internal/health"
	"github.com/leapgeo/citetrack/internal/httpapi"
	"github.com/leapgeo/citetrack/internal/platforms"
	"github.com/leapgeo/citetrack/internal/ratecontrol"
	"github.com/leapgeo/citetrack/internal/scan"
	"github.com/leapgeo/citetrack/internal/scheduler"
	"github.com/leapgeo/citetrack/internal/scrape"
	"github.com/leapgeo/citetrack/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfgManager, err := config.Load(config.Path(), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := cfgManager.Config()
	logger = withLevel(logger, cfg.Logging.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
	}
	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

	// Scrape pacing. A dedicated limits file replaces the scrape_limits
	// section and disables its live reload.
	limiter := ratecontrol.NewLimiter(cfg.ScrapeLimits)
	if path := os.Getenv("SCRAPE_LIMITS_PATH"); path != "" {
		fileLimits, err := ratecontrol.LoadFile(path)
		if err != nil {
			logger.Fatal("Failed to load scrape limits", zap.String("path", path), zap.Error(err))
		}
		limiter.Reload(fileLimits)
	} else {
		cfgManager.OnScrapeLimitsChange(limiter.Reload)
		cfgManager.Watch()
	}

	dbClient, err := db.NewClient(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, "cache", logger)
	citationCache := cache.New(redisWrapper, logger)

	var reader cache.CitationReader = dbClient
	if cfg.Cache.Enabled {
		reader = cache.NewCachedReader(dbClient, citationCache, cfg.Cache.TTL, logger)
		dbClient.OnSaved(citationCache.InvalidateOnSave)
	}

	registry := platforms.Default()
	scraper := scrape.New(cfg.Scrape, limiter, logger)
	orchestrator := scan.New(registry, scraper, dbClient, logger, scan.WithWaitFor(cfg.Scrape.WaitFor))
	dispatcher := scan.NewDispatcher(orchestrator, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, logger)

	runner := scheduler.NewRunner(dbClient, orchestrator, logger,
		scheduler.WithPolicy(cfg.Scheduler.Policy()),
		scheduler.WithRateCache(citationCache),
	)
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(runner, cfg.Scheduler, logger)
		if err != nil {
			logger.Fatal("Failed to configure scheduler", zap.Error(err))
		}
		sched.Start()
	}

	hm := health.NewManager(logger)
	for _, checker := range []health.Checker{
		health.NewDatabaseHealthChecker(dbClient.Wrapper(), logger),
		health.NewRedisHealthChecker(redisWrapper, logger),
		health.NewScraperHealthChecker(scraper, scraper.Endpoint(), registry.Len(), logger),
		health.NewBreakerHealthChecker(circuitbreaker.GlobalMetricsCollector.OpenBreakers),
		health.NewCustomHealthChecker("scan_queue", false, time.Second, func(ctx context.Context) health.CheckResult {
			pending, capacity := dispatcher.Pending(), dispatcher.Capacity()
			result := health.CheckResult{
				Component: "scan_queue",
				Status:    health.StatusHealthy,
				Message:   "Scan queue accepting requests",
				Timestamp: time.Now(),
				Details:   map[string]interface{}{"pending": pending, "capacity": capacity},
			}
			if pending >= capacity {
				result.Status = health.StatusDegraded
				result.Message = "Scan queue is full"
			}
			return result
		}),
	} {
		if err := hm.RegisterChecker(checker); err != nil {
			logger.Warn("Failed to register health checker", zap.Error(err))
		}
	}
	_ = hm.Start(ctx)

	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())
	httpapi.NewAdminHandler(runner, cfg.Admin.JobTrigger, logger).RegisterRoutes(adminMux)

	apiMux := http.NewServeMux()
	httpapi.NewCitationHandler(orchestrator, dispatcher, reader, registry, logger).RegisterRoutes(apiMux)
	middleware := []func(http.Handler) http.Handler{httpapi.Logging(logger)}
	if cfg.APIRateLimit.Enabled {
		rl := httpapi.NewRateLimiter(redisWrapper, cfg.APIRateLimit.Requests, cfg.APIRateLimit.Window, logger)
		middleware = append(middleware, rl.Middleware)
	}

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpapi.Chain(apiMux, middleware...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	adminServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // manual job runs can take a long time
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"api": apiServer, "admin": adminServer} {
		go func(name string, srv *http.Server) {
			logger.Info("HTTP server listening", zap.String("server", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("%s server: %w", name, err)
			}
		}(name, srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("Dispatcher did not drain", zap.Error(err), zap.Int("pending", dispatcher.Pending()))
	}
	_ = hm.Stop()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown error", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown error", zap.Error(err))
		}
	}
	if err := dbClient.Close(); err != nil {
		logger.Warn("Database close error", zap.Error(err))
	}
	if err := redisWrapper.Close(); err != nil {
		logger.Warn("Redis close error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// withLevel rebuilds the production logger at the configured level
func withLevel(logger *zap.Logger, level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || lvl == zapcore.InfoLevel {
		return logger
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	rebuilt, err := zc.Build()
	if err != nil {
		return logger
	}
	_ = logger.Sync()
	return rebuilt
}
