package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/ingestion"
	"github.com/cyderes/message-search-service/internal/metrics"
	"github.com/cyderes/message-search-service/internal/search"
	"github.com/cyderes/message-search-service/internal/server"
	"github.com/cyderes/message-search-service/internal/storage"
	"github.com/cyderes/message-search-service/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	bootstrap := apperrors.NewLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootstrap.LogError(err, "Failed to load configuration")
		os.Exit(1)
	}

	logger := apperrors.NewLoggerWithOptions(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(cfg.Tracing, logger.Logger)
	if err := tracer.Initialize(ctx); err != nil {
		logger.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		logger.LogError(err, "Failed to initialize storage", logrus.Fields{"storage_type": cfg.Storage.Type})
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New()
	searcher := search.NewService(store, cfg.Search, logger, m)
	source := ingestion.NewHTTPSource(cfg.Ingestion.APIEndpoint, cfg.Ingestion.Timeout)
	ingestor := ingestion.NewService(cfg.Ingestion, store, source, logger, m)

	httpServer := server.NewServer(cfg.Server, cfg.Search, server.Dependencies{
		Storage:  store,
		Searcher: searcher,
		Ingester: ingestor,
		Logger:   logger,
		Metrics:  m,
	})

	logger.WithFields(logrus.Fields{
		"storage_type": cfg.Storage.Type,
		"text_config":  cfg.Search.TextConfig,
		"port":         cfg.Server.Port,
	}).Info("Message search service starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)
	g.Go(func() error {
		return ingestor.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.LogError(err, "HTTP server shutdown error")
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.LogError(err, "Tracing shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.LogError(err, "Service stopped with error")
		store.Close()
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
