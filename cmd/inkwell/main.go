package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inkwell-labs/inkwell/internal/chat"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/llm"
	"github.com/inkwell-labs/inkwell/internal/server"
	"github.com/inkwell-labs/inkwell/internal/storage/sqlite"
	"github.com/inkwell-labs/inkwell/internal/telemetry"
	"github.com/inkwell-labs/inkwell/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("inkwell", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite.Path), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := sqlite.New(cfg.Storage.SQLite.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var clientOpts []llm.ClientOption
	if cfg.Upstream.BaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(cfg.Upstream.BaseURL))
	}
	client := llm.NewClient(cfg.Upstream.APIKey, clientOpts...)

	budget := tokens.NewBudgeter(cfg.Upstream.Model, cfg.Stream.HistoryTokenLimit)

	svc := chat.NewService(client, store, budget, cfg.Upstream.Model,
		chat.WithLogger(logger),
		chat.WithIdleTimeout(cfg.Stream.IdleTimeoutDuration()),
	)

	srv := server.New(cfg.Server.Port, svc, store, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("inkwell started",
		slog.Int("port", cfg.Server.Port),
		slog.String("model", cfg.Upstream.Model),
		slog.String("storage", cfg.Storage.SQLite.Path))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
