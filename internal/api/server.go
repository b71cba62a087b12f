package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdelilah771/devsecops-pipeline/internal/detect"
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/abdelilah771/devsecops-pipeline/internal/store"
	"github.com/abdelilah771/devsecops-pipeline/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName = "vulndetector"
	// MaxRequestBytes caps POST /detect bodies
	MaxRequestBytes = 10 << 20
)

// Repository reads and writes stored vulnerabilities
type Repository interface {
	ListVulnerabilities(ctx context.Context, runID string, limit int) ([]model.Vulnerability, error)
	Stats(ctx context.Context) (store.Stats, error)
	InsertVulnerabilities(ctx context.Context, vulns []model.Vulnerability) error
}

// EventSource fetches the stored events of a run
type EventSource interface {
	Find(ctx context.Context, runID string) ([]model.Event, error)
}

// Detector runs detection synchronously
type Detector interface {
	DetectRun(run detect.Run, events []model.Event) []model.Vulnerability
	ModelAvailable() bool
}

// Server exposes health, query and synchronous detection endpoints
type Server struct {
	r         *chi.Mux
	repo      Repository
	events    EventSource
	detector  Detector
	validator *validate.SchemaValidator
	ready     func() bool
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithRepository enables the vulnerability query endpoints and persistence of /detect results
func WithRepository(repo Repository) Option {
	return func(s *Server) {
		s.repo = repo
	}
}

// WithEventSource lets /detect read a run's events from the event store
func WithEventSource(events EventSource) Option {
	return func(s *Server) {
		s.events = events
	}
}

// WithReadiness sets the check behind /readyz
func WithReadiness(ready func() bool) Option {
	return func(s *Server) {
		s.ready = ready
	}
}

// WithGatherer serves /metrics from g instead of the default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a new HTTP server
func NewServer(detector Detector, validator *validate.SchemaValidator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		r:         chi.NewRouter(),
		detector:  detector,
		validator: validator,
		ready:     func() bool { return true },
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/health", s.handleHealth)
	s.r.Get("/readyz", s.handleReady)
	s.r.Get("/vulnerabilities", s.handleVulnerabilities)
	s.r.Get("/stats", s.handleStats)
	s.r.Post("/detect", s.handleDetect)
	s.r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler { return s.r }

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"service":      serviceName,
		"model_loaded": s.detector.ModelAvailable(),
	})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVulnerabilities handles GET /vulnerabilities?run_id=&limit=
func (s *Server) handleVulnerabilities(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "vulnerability store not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))

	vulns, err := s.repo.ListVulnerabilities(r.Context(), runID, limit)
	if err != nil {
		s.logger.Error("Failed to list vulnerabilities", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list vulnerabilities")
		return
	}
	writeJSON(w, http.StatusOK, vulns)
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "vulnerability store not configured")
		return
	}

	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDetect handles POST /detect. Events stored for the run take
// precedence over events sent in the body.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.validator != nil {
		if err := s.validator.ValidateDetectRequest(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var req model.DetectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.RunID = strings.TrimSpace(req.RunID)
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, model.ErrMissingRunID.Error())
		return
	}

	logger := s.logger.With("run_id", req.RunID)
	events := s.lookupEvents(r.Context(), logger, req.RunID)
	if len(events) == 0 {
		events = req.Events
	}
	for i := range events {
		if events[i].RunID == "" {
			events[i].RunID = req.RunID
		}
	}

	var duration *float64
	if req.Metadata != nil {
		duration = req.Metadata.DurationSeconds
	}
	vulns := s.detector.DetectRun(detect.NewRun(req.RunID, req.Provider, duration), events)

	if s.repo != nil && len(vulns) > 0 {
		if err := s.repo.InsertVulnerabilities(r.Context(), vulns); err != nil {
			logger.Error("Failed to persist vulnerabilities", "error", err)
		}
	}

	logger.Info("Synchronous detection finished",
		"event_count", len(events),
		"vulnerability_count", len(vulns))
	writeJSON(w, http.StatusOK, model.DetectResponse{
		RunID:           req.RunID,
		RiskScore:       model.AggregateRisk(vulns),
		Vulnerabilities: vulns,
	})
}

func (s *Server) lookupEvents(ctx context.Context, logger *slog.Logger, runID string) []model.Event {
	if s.events == nil {
		return nil
	}
	events, err := s.events.Find(ctx, runID)
	if err != nil {
		logger.Warn("Failed to read stored events, using request events", "error", err)
		return nil
	}
	return events
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
