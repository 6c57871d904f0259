package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sssxyd/apistatus-guard/internal/alarm"
	"github.com/sssxyd/apistatus-guard/internal/app/migrate"
	"github.com/sssxyd/apistatus-guard/internal/backend"
	"github.com/sssxyd/apistatus-guard/internal/breaker"
	"github.com/sssxyd/apistatus-guard/internal/clock"
	"github.com/sssxyd/apistatus-guard/internal/evaluator"
	"github.com/sssxyd/apistatus-guard/internal/httpguard"
	"github.com/sssxyd/apistatus-guard/internal/ratelimit"
	"github.com/sssxyd/apistatus-guard/internal/repository/postgres"
	"github.com/sssxyd/apistatus-guard/internal/rules"
	"github.com/sssxyd/apistatus-guard/internal/telemetry"
	"github.com/sssxyd/apistatus-guard/internal/ws"
	"github.com/sssxyd/apistatus-guard/pkg/config"
	"github.com/sssxyd/apistatus-guard/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("apistatus-guard", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	redisStore, err := backend.New(backend.Config{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		PoolSize:    cfg.RedisPoolSize,
		DialTimeout: cfg.RedisDialTimeout,
		ReadTimeout: cfg.RedisReadTimeout,
		IdleTimeout: cfg.RedisIdleTimeout,
	}, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()

	registry, err := rules.Load(cfg.RuleDir, log)
	if err != nil {
		log.Error("failed to load rule documents", "error", err)
		os.Exit(1)
	}

	clk := clock.New(time.Unix(cfg.EpochUnixSeconds, 0).UTC())
	metrics := httpguard.NewMetrics()

	telemetryStore := telemetry.New(telemetry.Config{
		ExpiredSeconds: cfg.ExpiredSeconds,
		QueueSize:      cfg.TelemetryQueueSize,
	}, redisStore, clk, log, metrics)
	go telemetryStore.Run(ctx, cfg.TelemetryWorkers)

	rateStore := ratelimit.NewStore(ratelimit.Config{
		ExpiredSeconds: cfg.ExpiredSeconds,
		QueueSize:      cfg.RateLimitQueueSize,
	}, redisStore, clk, log, metrics.AsRateLimitObserver())
	go rateStore.Run(ctx, cfg.RateLimitWorkers)

	eval := evaluator.New(log)
	limiter := ratelimit.New(registry, rateStore, eval, cfg.RateRuleSet, log)

	breakerFetcher := breaker.NewFetcher(telemetryStore, clk)
	checker := breaker.New(registry, breakerFetcher, eval, cfg.FuseRuleSet, cfg.AlarmRuleSet, log)

	alarmHub := ws.NewHub()
	alarmRepo := postgres.New(pool)
	dispatcher := alarm.New(alarm.Config{
		URL:       cfg.AlarmURL,
		QueueSize: cfg.AlarmQueueSize,
	}, alarmRepo, alarmHub, log, metrics.AsAlarmObserver())
	go dispatcher.Run(ctx, cfg.AlarmWorkers)

	go runSweepLoop(ctx, cfg.SweepInterval, telemetryStore, rateStore, log)

	router, err := httpguard.New(
		httpguard.Config{UpstreamURL: cfg.UpstreamURL, AdminJWTSecret: cfg.AdminJWTSecret},
		log,
		telemetryStore,
		checker,
		limiter,
		rateStore,
		dispatcher,
		alarmHub,
		metrics,
		redisStore.Ping,
		runner.Ping,
		runner,
	)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("apistatus-guard starting", "addr", cfg.Addr, "upstream", cfg.UpstreamURL)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("apistatus-guard stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// runSweepLoop evicts expired telemetry and rate-limit events every
// interval (one minute when interval is not positive). The interval is used
// as given; it is not checked against the retention window.
func runSweepLoop(ctx context.Context, interval time.Duration, telemetryStore *telemetry.Store, rateStore *ratelimit.Store, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if result, err := telemetryStore.Sweep(ctx); err != nil {
				log.Warn("telemetry sweep failed", "error", err)
			} else {
				log.Info("telemetry sweep complete", "log", result.Log)
			}
			if result, err := rateStore.Sweep(ctx); err != nil {
				log.Warn("ratelimit sweep failed", "error", err)
			} else {
				log.Info("ratelimit sweep complete", "log", result.Log)
			}
		}
	}
}
