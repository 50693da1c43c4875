package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/database/connect"
	"github.com/loopwork/realtime/internal/config"
	"github.com/loopwork/realtime/internal/gateway"
	"github.com/loopwork/realtime/internal/metrics"
	"github.com/loopwork/realtime/internal/service"
	"github.com/loopwork/realtime/pkg/auth"
	"github.com/loopwork/realtime/pkg/logger"
	"github.com/loopwork/realtime/pkg/redis"
)

const (
	defaultMessageWindow  = 300 * time.Second
	defaultIdempotencyTTL = 300 * time.Second
	defaultStaleAfter     = 120 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connect.Postgres(ctx, log, cfg)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// Redis is the cross-instance event bridge; the channel works
	// single-node without it.
	var rdb *redis.Client
	if cfg.RedisHost != "" {
		rdb, err = redis.NewClient(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
	}

	gwMetrics := gateway.NewMetrics(prometheus.DefaultRegisterer)

	authenticator := gateway.NewMessageAuthenticator(cfg.JWTSecret, durationOr(cfg.MessageWindowSecs, defaultMessageWindow))
	cache := gateway.NewIdempotencyCache(durationOr(cfg.IdempotencyTTLSecs, defaultIdempotencyTTL))

	limitCfg := gateway.DefaultRateLimitConfig()
	if cfg.RateLimitWindow > 0 {
		limitCfg.Window = time.Duration(cfg.RateLimitWindow) * time.Second
	}
	if cfg.RateLimitMax > 0 {
		limitCfg.MaxRequests = cfg.RateLimitMax
	}
	limiter := gateway.NewRateLimiter(limitCfg)

	registry := gateway.NewRegistry(log)
	broadcaster := gateway.NewBroadcaster(registry, rdb, gwMetrics, log)

	members := service.NewMembers(db, log)
	collab := gateway.Collaborators{
		Labels:          service.NewLabels(db, log),
		Teams:           service.NewTeams(db, log),
		Workspaces:      service.NewWorkspaces(db, log),
		Members:         members,
		Projects:        service.NewProjects(db, log),
		ProjectStatuses: service.NewProjectStatuses(db, log),
		Issues:          service.NewIssues(db, log),
		Profile:         service.NewProfile(db, log),
	}

	dispatcher := gateway.NewDispatcher(authenticator, cache, limiter, registry, broadcaster, collab, gwMetrics, log)
	handler := gateway.NewHandler(auth.NewVerifier(cfg.JWTSecret), members, registry, dispatcher, gwMetrics, log)

	maintenance := gateway.NewMaintenance(
		authenticator, cache, limiter, registry,
		durationOr(cfg.StaleAfterSecs, defaultStaleAfter),
		gwMetrics, log,
	)
	if err := maintenance.Start(); err != nil {
		log.Fatal("failed to start maintenance sweeps", zap.Error(err))
	}
	defer maintenance.Stop()

	go func() {
		if err := broadcaster.Run(ctx); err != nil && err != context.Canceled {
			log.Error("event bridge stopped", zap.Error(err))
		}
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, prometheus.DefaultGatherer)
	go func() {
		log.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func durationOr(secs int, fallback time.Duration) time.Duration {
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
