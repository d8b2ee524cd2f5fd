// Package main is the entrypoint for the Seatkeeper server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/api"
	"github.com/MacJediWizard/seatkeeper/internal/api/handlers"
	"github.com/MacJediWizard/seatkeeper/internal/api/middleware"
	"github.com/MacJediWizard/seatkeeper/internal/audit"
	"github.com/MacJediWizard/seatkeeper/internal/config"
	"github.com/MacJediWizard/seatkeeper/internal/db"
	"github.com/MacJediWizard/seatkeeper/internal/maintenance"
	"github.com/MacJediWizard/seatkeeper/internal/metrics"
	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/MacJediWizard/seatkeeper/internal/shutdown"
	"github.com/MacJediWizard/seatkeeper/internal/trial"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadServerConfig()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Seatkeeper server")

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	clock := quartz.NewReal()
	ledger := database.SeatLedger()

	engine := seat.NewEngine(database, ledger, clock, seat.Config{HeartbeatTTL: cfg.HeartbeatTTL}, logger)
	trials := trial.NewService(database, clock, cfg.TrialDuration, logger)
	recorder := audit.NewRecorder(database, logger)
	shutdownMgr := shutdown.NewManager(shutdown.DefaultConfig(), logger)

	deps := api.Deps{
		Seats:  engine,
		Trials: trials,
		Audit:  recorder,
		Health: database,
		Drain:  shutdownMgr,
	}

	var promMetrics *metrics.PrometheusMetrics
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promMetrics, err = metrics.NewPrometheusMetrics(registry)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to register metrics")
			return 1
		}
		engine.SetObserver(promMetrics)
		deps.Gatherer = registry
		deps.TrialMetrics = promMetrics
	}

	routerCfg := api.Config{
		RateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Period:   cfg.RateLimitPeriod,
		},
		TrustedProxies: cfg.TrustedProxies,
		MaxBodyBytes:   middleware.DefaultMaxBodyBytes,
		Version:        handlers.VersionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate},
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		routerCfg.RateLimit.Redis = rdb
		logger.Info().Str("addr", opts.Addr).Msg("Using Redis rate limit store")
	}

	router, err := api.NewRouter(routerCfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	shutdownMgr.Register("http server", srv.Shutdown)

	// Start allocation compaction
	if cfg.AllocationRetention > 0 {
		retentionScheduler := maintenance.NewRetentionScheduler(ledger, cfg.AllocationRetention, cfg.RetentionSchedule, clock, logger)
		if promMetrics != nil {
			retentionScheduler.SetRecorder(promMetrics)
		}
		if err := retentionScheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start retention scheduler")
		} else {
			shutdownMgr.Register("retention scheduler", func(ctx context.Context) error {
				select {
				case <-retentionScheduler.Stop().Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
	}

	shutdownMgr.Register("audit recorder", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			recorder.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		_ = shutdownMgr.Shutdown(context.Background())
		return 1
	}

	if err := shutdownMgr.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
