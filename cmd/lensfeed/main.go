package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lensfeed/lensfeed/config"
	"github.com/lensfeed/lensfeed/internal/feed"
	"github.com/lensfeed/lensfeed/internal/logging"
	"github.com/lensfeed/lensfeed/internal/profiles"
	"github.com/lensfeed/lensfeed/internal/server"
	"github.com/lensfeed/lensfeed/internal/sources"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)
	logging.InitLogger()

	logger := slog.Default()

	srcs, err := sources.FromEnv(logger)
	if err != nil {
		logger.Error("[Main] No usable sources", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pool := sources.NewPool(srcs, logger)

	cache, err := profiles.CacheFromEnv(logger)
	if err != nil {
		logger.Error("[Main] Profile cache init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	resolver := profiles.NewResolver(pool, cache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopChan
		slog.Info("Shutting down gracefully...")
		cancel()
	}()

	session, err := feed.Open(ctx, feed.SessionConfig{
		Pool:     pool,
		Resolver: resolver,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("[Main] Failed to open feed session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	addr := os.Getenv("LENSFEED_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := server.New(session, logger).ListenAndServe(ctx, addr); err != nil {
		logger.Error("[Main] Server failed", slog.String("error", err.Error()))
	}

	if err := session.Close(); err != nil {
		logger.Warn("[Main] Session close", slog.String("error", err.Error()))
	}
	if vc, ok := cache.(*profiles.ValkeyCache); ok {
		vc.Close()
	}
}
