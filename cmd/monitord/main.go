package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"carenav/internal/api"
	"carenav/internal/backend"
	"carenav/internal/config"
	"carenav/internal/metrics"
	"carenav/internal/model"
	"carenav/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	log := newLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	metrics.RegisterDefault()

	store := realtime.NewStore(log)
	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(log)
	client := realtime.NewClient(realtime.Config{
		URL:            cfg.StreamURL,
		BackoffFloor:   cfg.BackoffFloor,
		BackoffCeiling: cfg.BackoffCeiling,
		MaxAttempts:    cfg.MaxAttempts,
	}, registry, dispatcher, log)

	rest := backend.NewClient(cfg.BackendURL, backend.StaticToken(cfg.Token), log)

	srv, err := api.NewServer(store, client, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("init server", zap.Error(err))
	}

	// Every folded event updates the snapshot and is republished to
	// dashboard streams.
	client.OnEvent(store.Apply)
	client.OnEvent(api.PublishConsumer(srv.Broker, store))

	// Re-populate from the authoritative REST snapshot on every (re)connect;
	// this closes the window in which pushed deltas reference unknown routes.
	client.OnStatus(func(st realtime.Status) {
		if st != realtime.StatusConnected {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			routes, err := rest.ActiveRoutes(ctx, store.Filter().Date)
			if err != nil {
				log.Warn("snapshot refresh failed", zap.Error(err))
				return
			}
			store.Populate(routes)
		}()
	})

	for _, id := range cfg.Vehicles {
		client.Subscribe(model.ChannelVehicle, id)
	}
	for _, id := range cfg.Routes {
		client.Subscribe(model.ChannelRoute, id)
	}

	if err := client.Connect(cfg.Token); err != nil {
		log.Error("initial connect failed", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("dashboard API listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	client.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

func newLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return log
}
