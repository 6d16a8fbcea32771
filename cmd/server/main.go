package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/r11922135/chat/internal/api"
	"github.com/r11922135/chat/internal/api/middleware"
	"github.com/r11922135/chat/internal/auth"
	"github.com/r11922135/chat/internal/cache"
	"github.com/r11922135/chat/internal/chat"
	"github.com/r11922135/chat/internal/config"
	"github.com/r11922135/chat/internal/handlers"
	"github.com/r11922135/chat/internal/hub"
	"github.com/r11922135/chat/internal/store"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger := log.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		dataStore = pg
		logger.Info().Msg("using postgres store")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
		dataStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
	}
	defer dataStore.Close()

	var backend *cache.Backend
	if cfg.RedisURL != "" {
		var err error
		backend, err = cache.NewBackend(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid redis url")
		}
		defer backend.Close()
	} else {
		logger.Warn().Msg("REDIS_URL not set, running without cache")
	}

	messageCache := cache.NewMessageCache(backend, logger)
	limiter := cache.NewRateLimiter(backend, cfg.MessageRateLimit, cfg.MessageRateWindow, logger)
	history := chat.NewHistory(dataStore, messageCache, logger)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	h := hub.New(dataStore, logger)
	go h.Run(ctx)

	gateway := hub.NewGateway(h, dataStore, tokens, logger)
	handler := handlers.New(dataStore, messageCache, history, h, limiter, backend, tokens, logger)
	authMW := middleware.NewAuthMiddleware(tokens, dataStore)

	router := api.NewRouter(handler, authMW, gateway, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
