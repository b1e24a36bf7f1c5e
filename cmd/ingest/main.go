// Command ingest runs a single synchronization with the upstream message API
// against the configured store and exits. Exit status is 1 when the run fails;
// messages stored before the failure remain stored.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/ingestion"
	"github.com/cyderes/message-search-service/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := apperrors.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.LogError(err, "Failed to load configuration")
		return 1
	}
	logger := apperrors.NewLoggerWithOptions(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Opening the store creates the schema when it does not exist yet
	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		logger.LogError(err, "Failed to initialize storage", logrus.Fields{"storage_type": cfg.Storage.Type})
		return 1
	}
	defer store.Close()

	source := ingestion.NewHTTPSource(cfg.Ingestion.APIEndpoint, cfg.Ingestion.Timeout)
	ingestor := ingestion.NewService(cfg.Ingestion, store, source, logger, nil)

	n, err := ingestor.Run(ctx)
	if err != nil {
		logger.LogError(err, "Ingestion failed", logrus.Fields{"messages_processed": n})
		return 1
	}

	logger.WithField("messages_processed", n).Info("Ingestion completed")
	return 0
}
