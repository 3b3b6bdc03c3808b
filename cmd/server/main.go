// Package main is the entry point for the chatmesh fan-out server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkline/chatmesh/internal/auth"
	"github.com/arkline/chatmesh/internal/bus"
	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/internal/config"
	"github.com/arkline/chatmesh/internal/sequence"
	"github.com/arkline/chatmesh/internal/server/ws"
	"github.com/arkline/chatmesh/internal/session"
	"github.com/arkline/chatmesh/internal/storage"
	"github.com/arkline/chatmesh/pkg/logger"
	"github.com/arkline/chatmesh/pkg/redis"
)

func main() {
	log, err := logger.New(logger.Config{
		Environment: os.Getenv("APP_ENV"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		ServiceName: "chatmesh",
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() {
		if err := log.Sync(); err != nil {
			log.Warn("failed to sync logger", zap.Error(err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverID := chat.ServerIdentity(cfg.ServerID)
	log.Info("starting server", zap.String("server_id", serverID))

	// Shared store and database come up in their own time in a fresh
	// deployment; retry with backoff instead of crash-looping.
	var redisClient *redis.Client
	err = backoff.Retry(func() error {
		var rErr error
		redisClient, rErr = redis.NewClient(redis.Config{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
			MaxRetries:   cfg.RedisMaxRetries,
		}, log)
		return rErr
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		log.Error("could not connect to Redis", zap.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	var pgStore *storage.PostgresStore
	err = backoff.Retry(func() error {
		var sErr error
		pgStore, sErr = storage.NewPostgresStore(cfg.DSN(), log)
		return sErr
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		log.Error("could not connect to Postgres", zap.Error(err))
		os.Exit(1)
	}
	defer pgStore.Close()
	store := storage.NewBreakerStore(pgStore, log)

	transport := bus.NewRedisTransport(redisClient, log)
	broadcaster := bus.New(serverID, transport, log)
	if err := broadcaster.StartSweeper(); err != nil {
		log.Error("could not start ledger sweeper", zap.Error(err))
		os.Exit(1)
	}

	directory := session.NewRedisDirectory(redisClient, serverID, log)
	registry := session.NewRegistry(broadcaster, directory, store, log)
	broadcaster.SetDeliveryFunc(func(roomID string, msg *chat.Message) {
		registry.SendLocalRoom(context.Background(), roomID, msg, "")
	})

	assigner := sequence.NewAssigner(redisClient)
	sender := chat.NewSender(store, assigner, registry, broadcaster, log)
	authenticator := auth.New(cfg.JWTSecret, cfg.AllowGuests)
	handler := ws.NewHandler(registry, sender, store, authenticator, cfg.AllowedOrigins, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.IsAvailable(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening for WebSocket connections", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("serving metrics", zap.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("error during server shutdown", zap.Error(err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("error during metrics server shutdown", zap.Error(err))
		}
		registry.Shutdown(shutdownCtx)
		broadcaster.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
