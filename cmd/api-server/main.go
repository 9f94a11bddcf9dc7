package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careops/clinic-cache/internal/api"
	"github.com/careops/clinic-cache/internal/config"
	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/metrics"
	"github.com/careops/clinic-cache/internal/notify"
	"github.com/careops/clinic-cache/internal/store"
	"github.com/careops/clinic-cache/pkg/logger"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic("logger error: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := store.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	collector := metrics.NewCollector(nil)
	st := store.New(store.NewPgStore(pgPool), rdb, log)

	coord := coordinator.New(coordinator.Config{
		Store:               st,
		Logger:              log,
		Metrics:             collector,
		EntityTTL:           cfg.EntityTTL,
		MaxDeliveryRetries:  cfg.MaxDeliveryRetries,
		MaxPromotionRetries: cfg.MaxPromotionRetries,
	})
	if err := coord.Start(rootCtx); err != nil {
		log.Fatal("entity-change subscription error", zap.Error(err))
	}

	dispatcher := notify.NewDispatcher(coord.NotificationQueue(), st, log).
		WithInterval(cfg.DispatchInterval).
		WithBatchSize(cfg.DispatchBatchSize).
		WithMetrics(collector)
	go dispatcher.Run(rootCtx)

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coord,
		PgPool:      pgPool,
		Redis:       rdb,
		Logger:      log,
		Metrics:     collector,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
