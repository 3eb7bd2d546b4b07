// Command server runs the WhatsApp gateway: webhook ingress, message
// dispatch, and the operator console API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oferrer/wa-gateway/internal/agent"
	"github.com/oferrer/wa-gateway/internal/config"
	"github.com/oferrer/wa-gateway/internal/embeddings"
	httpapi "github.com/oferrer/wa-gateway/internal/http"
	"github.com/oferrer/wa-gateway/internal/media"
	"github.com/oferrer/wa-gateway/internal/observability"
	"github.com/oferrer/wa-gateway/internal/repo"
	"github.com/oferrer/wa-gateway/internal/sysutil"
	"github.com/oferrer/wa-gateway/internal/wa"
)

var version = "dev" // set via -ldflags "-X main.version=..."

// @title        WhatsApp Gateway API
// @version      1.0
// @description  Webhook ingress and operator console for the WhatsApp chatbot gateway.
// @BasePath     /api/v1
func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting wa-gateway")

	if cfg.WhatsApp.AppSecret == "" {
		log.Warn().Msg("WA_APP_SECRET is empty: webhook signature verification is DISABLED (dev only)")
	}

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	store, err := media.NewFSStore(cfg.Media)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Media.Dir).Msg("media store init failed")
	}

	deps := httpapi.Dependencies{
		DB:       db,
		WhatsApp: wa.NewClient(cfg.WhatsApp),
		Agent:    agent.NewClient(cfg.Agent),
		Embedder: embeddings.NewClient(cfg.Agent, cfg.Receipts),
		Media:    store,
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("db close")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bye")
}
