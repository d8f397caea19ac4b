package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/agenda"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/api"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/config"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/kv"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/logger"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/remote"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("agenda-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("clinic_api", cfg.ClinicAPIURL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := kv.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to redis")

	client := remote.NewClient(cfg.ClinicAPIURL, cfg.ClinicTimeout)

	engine := agenda.NewEngine(client, kv.NewRedisStore(rdb), zlog, agenda.Options{
		CacheTTL:      cfg.CacheTTL,
		CacheCapacity: cfg.CacheCapacity,
		GridStart:     cfg.GridStart,
		GridEnd:       cfg.GridEnd,
		GridStep:      cfg.GridStepMinutes,
	})

	router := api.NewRouter(api.RouterConfig{
		Engine:  engine,
		Redis:   rdb,
		Log:     zlog,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		zlog.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down agenda-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("graceful shutdown failed", zap.Error(err))
	}
}
