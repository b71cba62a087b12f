package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/abdelilah771/devsecops-pipeline/internal/detect"
	"github.com/abdelilah771/devsecops-pipeline/internal/eventstore"
	"github.com/abdelilah771/devsecops-pipeline/internal/metrics"
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/abdelilah771/devsecops-pipeline/internal/store"
	"github.com/abdelilah771/devsecops-pipeline/internal/validate"
)

// Outcome records how an inbound message was handled
type Outcome string

// Handling outcomes. Malformed and crashed messages are terminated, every
// other outcome is acknowledged.
const (
	OutcomeMalformed     Outcome = "malformed"
	OutcomeNoRunID       Outcome = "dropped_no_run_id"
	OutcomeFetchTimeout  Outcome = "fetch_timeout"
	OutcomeFetchFailed   Outcome = "fetch_failed"
	OutcomeNoEvents      Outcome = "no_events"
	OutcomeClean         Outcome = "clean"
	OutcomePublished     Outcome = "published"
	OutcomePublishFailed Outcome = "publish_failed"
	OutcomeCrashed       Outcome = "crashed"
)

// Terminal reports whether the message is dropped without redelivery
func (o Outcome) Terminal() bool {
	return o == OutcomeMalformed || o == OutcomeCrashed
}

// Delivery is an inbound message awaiting settlement. jetstream.Msg satisfies it.
type Delivery interface {
	Data() []byte
	Ack() error
	Term() error
}

// EventSource fetches the parsed events of a run
type EventSource interface {
	Find(ctx context.Context, runID string) ([]model.Event, error)
}

// Detector turns a run's events into vulnerabilities
type Detector interface {
	DetectRun(run detect.Run, events []model.Event) []model.Vulnerability
}

// VulnerabilityStore persists vulnerabilities
type VulnerabilityStore interface {
	InsertVulnerabilities(ctx context.Context, vulns []model.Vulnerability) error
}

// Publisher sends detection results downstream
type Publisher interface {
	Publish(ctx context.Context, result model.DetectionResult, persisted bool) error
}

// Handler processes one run-ready message to completion and settles it
type Handler struct {
	events    EventSource
	detector  Detector
	store     VulnerabilityStore
	publisher Publisher
	validator *validate.SchemaValidator
	deduper   *store.Deduper
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithValidator checks inbound payloads against the run-ready schema
func WithValidator(v *validate.SchemaValidator) HandlerOption {
	return func(h *Handler) {
		h.validator = v
	}
}

// WithDeduper filters findings already emitted for the same run
func WithDeduper(d *store.Deduper) HandlerOption {
	return func(h *Handler) {
		h.deduper = d
	}
}

// WithMetrics records handling metrics
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new message handler. A nil store skips persistence.
func NewHandler(events EventSource, detector Detector, vulnStore VulnerabilityStore, publisher Publisher, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		events:    events,
		detector:  detector,
		store:     vulnStore,
		publisher: publisher,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes d and settles it exactly once. A panic during processing
// terminates the message so it is never redelivered.
func (h *Handler) Handle(ctx context.Context, d Delivery) (outcome Outcome) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.IncrementMessagesReceived()
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Message processing panicked, terminating message",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			outcome = OutcomeCrashed
			h.settle(d, outcome)
		}
		if h.metrics != nil {
			h.metrics.ObserveOutcome(string(outcome), time.Since(start))
		}
	}()

	outcome = h.process(ctx, d.Data())
	h.settle(d, outcome)
	return outcome
}

func (h *Handler) process(ctx context.Context, data []byte) Outcome {
	if h.validator != nil {
		if err := h.validator.ValidateRunReady(data); err != nil {
			h.logger.Error("Rejected malformed run-ready message", "error", err)
			return OutcomeMalformed
		}
	}

	msg, err := model.DecodeRunReady(data)
	switch {
	case errors.Is(err, model.ErrMissingRunID):
		h.logger.Warn("Dropping run-ready message without run_id")
		return OutcomeNoRunID
	case err != nil:
		h.logger.Error("Rejected malformed run-ready message", "error", err)
		return OutcomeMalformed
	}

	logger := h.logger.With("run_id", msg.RunID)
	logger.Info("Received run-ready message", "provider", msg.Provider)

	events, err := h.events.Find(ctx, msg.RunID)
	if err != nil {
		if eventstore.IsTimeout(err) {
			logger.Warn("Timed out fetching parsed events, treating run as empty", "error", err)
			return OutcomeFetchTimeout
		}
		logger.Error("Failed to fetch parsed events", "error", err)
		return OutcomeFetchFailed
	}
	if len(events) == 0 {
		logger.Warn("No parsed events found for run, skipping detection")
		return OutcomeNoEvents
	}

	run := detect.NewRun(msg.RunID, msg.Provider, msg.DurationSeconds)
	vulns := h.deduper.Filter(h.detector.DetectRun(run, events))
	if h.metrics != nil {
		h.metrics.RecordVulnerabilities(vulns)
	}
	if len(vulns) == 0 {
		logger.Info("No vulnerabilities found", "event_count", len(events))
		return OutcomeClean
	}
	logger.Info("Vulnerabilities detected",
		"event_count", len(events),
		"vulnerability_count", len(vulns))

	persisted := h.persist(ctx, logger, vulns)

	result := model.NewDetectionResult(run.RunID, vulns)
	if err := h.publisher.Publish(ctx, result, persisted); err != nil {
		logger.Error("Failed to publish detection result", "error", err)
		if h.metrics != nil {
			h.metrics.IncrementPublishErrors()
		}
		return OutcomePublishFailed
	}

	logger.Info("Detection result published",
		"risk_score", result.RiskScore,
		"persisted", persisted)
	return OutcomePublished
}

// persist never blocks publishing; it reports whether the write succeeded
func (h *Handler) persist(ctx context.Context, logger *slog.Logger, vulns []model.Vulnerability) bool {
	if h.store == nil {
		logger.Warn("No vulnerability store configured, findings not persisted")
		return false
	}
	if err := h.store.InsertVulnerabilities(ctx, vulns); err != nil {
		logger.Error("Failed to persist vulnerabilities", "error", err)
		if h.metrics != nil {
			h.metrics.IncrementPersistErrors()
		}
		return false
	}
	logger.Debug("Vulnerabilities persisted", "vulnerability_count", len(vulns))
	return true
}

func (h *Handler) settle(d Delivery, outcome Outcome) {
	var err error
	if outcome.Terminal() {
		err = d.Term()
	} else {
		err = d.Ack()
	}
	if err != nil {
		h.logger.Error("Failed to settle message", "outcome", string(outcome), "error", err)
	}
}
