package ingestion

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/metrics"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/storage"
	"github.com/cyderes/message-search-service/internal/tracing"
)

// state is a step of the sync state machine
type state int

const (
	stateFetching state = iota
	stateStoring
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateFetching:
		return "FETCHING"
	case stateStoring:
		return "STORING"
	case stateDone:
		return "DONE"
	case stateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// cursor is the transient progress of one run. Nothing of it outlives the run.
type cursor struct {
	skip          int
	pageSize      int
	totalIngested int
	upstreamTotal int
	page          []models.Message
	err           error
}

// Service handles data ingestion from the upstream message API
type Service struct {
	config  config.IngestionConfig
	storage storage.Storage
	source  Source
	logger  *apperrors.Logger
	metrics *metrics.Metrics

	// running admits one run at a time
	running sync.Mutex
	now     func() time.Time
}

// NewService creates a new ingestion service. m may be nil.
func NewService(cfg config.IngestionConfig, store storage.Storage, source Source, logger *apperrors.Logger, m *metrics.Metrics) *Service {
	return &Service{
		config:  cfg,
		storage: store,
		source:  source,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start runs ingestion on start (if configured) and then every Interval until ctx is done.
// Failed runs are logged and do not stop the scheduler.
func (s *Service) Start(ctx context.Context) error {
	if s.config.RunOnStart {
		s.runLogged(ctx)
	}
	if s.config.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.config.Interval.String()).Info("Ingestion scheduler started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Service) runLogged(ctx context.Context) {
	n, err := s.Run(ctx)
	switch {
	case err == nil:
	case apperrors.IsCode(err, apperrors.ErrCodeIngestionInProgress):
		s.logger.Info("Scheduled ingestion skipped, a run is already in progress")
	default:
		s.logger.LogError(err, "Scheduled ingestion failed", logrus.Fields{"messages_processed": n})
	}
}

// Run performs one complete synchronization and returns the number of messages
// stored. On failure the returned count and the INGESTION error both carry the
// progress committed before the fault. A call made while another run is active
// fails immediately with INGESTION_IN_PROGRESS.
func (s *Service) Run(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		s.metrics.IngestionRejected()
		return 0, apperrors.New(apperrors.ErrCodeIngestionInProgress, "an ingestion run is already in progress").
			WithUserMessage("Ingestion already in progress")
	}
	defer s.running.Unlock()

	started := s.now()
	runID := newRunID(started)
	log := s.logger.WithFields(logrus.Fields{"run_id": runID})

	ctx, span := tracing.StartSpan(ctx, "ingestion.run", attribute.String("ingestion.run_id", runID))
	defer span.End()

	status := models.IngestionStatus{
		RunID:       runID,
		Status:      models.StatusRunning,
		LastAttempt: started,
	}
	if prev, err := s.storage.GetIngestionStatus(ctx); err == nil && prev != nil {
		status.LastSuccessfulRun = prev.LastSuccessfulRun
	}
	s.recordStatus(ctx, status)
	s.metrics.IngestionStarted()
	log.WithField("page_size", s.config.PageSize).Info("Ingestion run started")

	processed, err := s.sync(ctx, log)
	elapsed := time.Since(started)
	status.RecordsIngested = processed
	tracing.AddSpanAttributes(ctx, attribute.Int("ingestion.messages_processed", processed))

	if err != nil {
		status.Status = models.StatusFailure
		status.ErrorMessage = err.Error()
		s.recordStatus(ctx, status)
		s.metrics.IngestionFinished(metrics.OutcomeFailure, processed, elapsed)
		tracing.RecordError(ctx, err)
		s.logger.LogError(err, "Ingestion run failed", logrus.Fields{
			"run_id":      runID,
			"duration_ms": elapsed.Milliseconds(),
		})
		return processed, err
	}

	status.Status = models.StatusSuccess
	status.LastSuccessfulRun = s.now()
	s.recordStatus(ctx, status)
	s.metrics.IngestionFinished(metrics.OutcomeSuccess, processed, elapsed)
	log.WithFields(logrus.Fields{
		"messages_processed": processed,
		"duration_ms":        elapsed.Milliseconds(),
	}).Info("Ingestion run completed")
	return processed, nil
}

// sync drives FETCHING -> STORING -> (FETCHING | DONE | FAILED) strictly sequentially
func (s *Service) sync(ctx context.Context, log *logrus.Entry) (int, error) {
	c := &cursor{pageSize: s.config.PageSize}
	st := stateFetching

	for {
		switch st {
		case stateFetching:
			st = s.fetch(ctx, c, log)
		case stateStoring:
			st = s.store(ctx, c, log)
		case stateDone:
			return c.totalIngested, nil
		case stateFailed:
			return c.totalIngested, apperrors.NewIngestionError(c.err, c.totalIngested)
		default:
			return c.totalIngested, apperrors.NewIngestionError(fmt.Errorf("unexpected state %s", st), c.totalIngested)
		}
	}
}

func (s *Service) fetch(ctx context.Context, c *cursor, log *logrus.Entry) state {
	log.WithFields(logrus.Fields{"skip": c.skip, "page_size": c.pageSize}).Debug("Fetching messages page")

	page, err := s.source.FetchPage(ctx, c.skip, c.pageSize)
	if err != nil {
		c.err = err
		return stateFailed
	}

	c.upstreamTotal = page.Total
	if len(page.Items) == 0 {
		log.WithFields(logrus.Fields{"skip": c.skip, "total": c.upstreamTotal}).Info("Upstream returned an empty page")
		return stateDone
	}
	c.page = page.Items
	return stateStoring
}

func (s *Service) store(ctx context.Context, c *cursor, log *logrus.Entry) state {
	if err := s.storage.UpsertMessages(ctx, c.page); err != nil {
		c.err = apperrors.NewStoreError(err, "failed to store messages page").WithContext("skip", c.skip)
		return stateFailed
	}

	items := len(c.page)
	c.page = nil
	c.totalIngested += items
	log.WithFields(logrus.Fields{
		"skip":  c.skip,
		"items": items,
		"total": c.totalIngested,
	}).Info("Stored messages page")

	if c.skip+items >= c.upstreamTotal {
		log.WithField("total", c.upstreamTotal).Info("Reached upstream total")
		return stateDone
	}

	c.skip += c.pageSize
	if c.skip > s.config.MaxSkip {
		log.WithFields(logrus.Fields{"skip": c.skip, "max_skip": s.config.MaxSkip}).
			Warn("Safety limit reached, stopping ingestion")
		return stateDone
	}
	return stateFetching
}

// recordStatus is best effort: a failed write is logged and never fails the run
func (s *Service) recordStatus(ctx context.Context, status models.IngestionStatus) {
	if err := s.storage.UpdateIngestionStatus(ctx, status); err != nil {
		s.logger.LogWarn(err, "Failed to record ingestion status", logrus.Fields{
			"run_id": status.RunID,
			"status": status.Status,
		})
	}
}

func newRunID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return fmt.Sprintf("run-%d", now.UnixNano())
	}
	return id.String()
}
