package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/message-search-service/internal/config"
	apperrors "github.com/cyderes/message-search-service/internal/errors"
	"github.com/cyderes/message-search-service/internal/metrics"
	"github.com/cyderes/message-search-service/internal/models"
	"github.com/cyderes/message-search-service/internal/storage"
	"github.com/cyderes/message-search-service/internal/tracing"
)

// Searcher runs validated, ranked queries
type Searcher interface {
	Search(ctx context.Context, query string, page, limit int) (*models.SearchResult, error)
}

// Ingester runs one synchronization with the upstream source
type Ingester interface {
	Run(ctx context.Context) (int, error)
}

// Dependencies are the collaborators the HTTP layer dispatches to
type Dependencies struct {
	Storage  storage.Storage
	Searcher Searcher
	Ingester Ingester
	Logger   *apperrors.Logger
	Metrics  *metrics.Metrics // optional; /metrics is only served when set
}

// Server handles HTTP requests
type Server struct {
	config       config.ServerConfig
	defaultLimit int
	deps         Dependencies
	router       *mux.Router
	server       *http.Server
}

// IngestResponse is the body of POST /ingest
type IngestResponse struct {
	Status            string `json:"status"`
	MessagesProcessed int    `json:"messages_processed"`
	Message           string `json:"message"`
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, searchCfg config.SearchConfig, deps Dependencies) *Server {
	s := &Server{
		config:       cfg,
		defaultLimit: searchCfg.DefaultLimit,
		deps:         deps,
		router:       mux.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/", s.handleRoot()).Methods(http.MethodGet)
	s.router.HandleFunc("/search", s.handleSearch()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/ingest", s.handleIngest()).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/messages/{id}", s.handleMessageByID()).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// Handler returns the root handler, including panic recovery
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.router)
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.deps.Logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "message-search-api",
		})
	}
}

func (s *Server) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		page, err := intParam(params.Get("page"), 0)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		limit, err := intParam(params.Get("limit"), s.defaultLimit)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "limit must be an integer")
			return
		}

		result, err := s.deps.Searcher.Search(r.Context(), params.Get("q"), page, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Storage.Ping(r.Context()); err != nil {
			s.deps.Logger.LogWarn(err, "Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "healthy",
			"database": "connected",
		})
	}
}

func (s *Server) handleIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The run completes even if the client goes away
		n, err := s.deps.Ingester.Run(context.WithoutCancel(r.Context()))
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, IngestResponse{
				Status:            "success",
				MessagesProcessed: n,
				Message:           fmt.Sprintf("Successfully ingested %d messages", n),
			})
		case apperrors.IsCode(err, apperrors.ErrCodeIngestionInProgress):
			writeJSON(w, http.StatusConflict, IngestResponse{
				Status:            "error",
				MessagesProcessed: 0,
				Message:           apperrors.GetUserMessage(err),
			})
		default:
			writeJSON(w, http.StatusInternalServerError, IngestResponse{
				Status:            "error",
				MessagesProcessed: n,
				Message:           fmt.Sprintf("Ingestion failed after processing %d messages: %v", n, err),
			})
		}
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.deps.Storage.GetIngestionStatus(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError(err, "failed to read ingestion status"))
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleMessageByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		msg, err := s.deps.Storage.GetMessageByID(r.Context(), id)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError(err, "failed to read message").WithContext("id", id))
			return
		}
		if msg == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("Message not found").WithContext("id", id))
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// writeError maps an error code to its status and writes {"detail": ...}
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeIngestionInProgress:
		status = http.StatusConflict
	}

	if status >= http.StatusInternalServerError {
		s.deps.Logger.LogError(err, "Request failed", logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeDetail(w, status, apperrors.GetUserMessage(err))
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// recoverer turns a panic in any handler into a generic 500
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := apperrors.New(apperrors.ErrCodeInternalError, fmt.Sprintf("panic: %v", rec))
				s.deps.Logger.LogError(err, "Unhandled panic", logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				writeDetail(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// observe logs, traces and measures every routed request
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		ctx, span := startRequestSpan(r, route)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
		elapsed := time.Since(start)

		endRequestSpan(span, wrapped.status)
		s.deps.Metrics.ObserveHTTP(r.Method, route, wrapped.status, elapsed)
		s.deps.Logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      wrapped.status,
			"duration_ms": elapsed.Milliseconds(),
			"trace_id":    tracing.TraceID(ctx),
		}).Info("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
