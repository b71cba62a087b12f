package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultDatabase holds the parsed pipeline events
	DefaultDatabase = "safeops-logminer"
	// DefaultCollection is written by the log parser, one document per event
	DefaultCollection = "ParsedEvents"
	// DefaultTimeout bounds a single Find call
	DefaultTimeout = 10 * time.Second
)

// finder is the subset of *mongo.Collection the gateway needs
type finder interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Gateway reads the parsed events of a run from MongoDB
type Gateway struct {
	coll    finder
	timeout time.Duration
	skipped prometheus.Counter
	logger  *slog.Logger
}

// Option configures a Gateway
type Option func(*Gateway)

// WithTimeout overrides the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithSkippedCounter counts documents dropped because they could not be decoded
func WithSkippedCounter(c prometheus.Counter) Option {
	return func(g *Gateway) {
		g.skipped = c
	}
}

// NewGateway creates a new gateway over the given collection
func NewGateway(coll *mongo.Collection, logger *slog.Logger, opts ...Option) *Gateway {
	return newGateway(coll, logger, opts...)
}

func newGateway(coll finder, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		coll:    coll,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// eventDocument mirrors model.Event but accepts either a string or a BSON
// datetime for the timestamp
type eventDocument struct {
	EventID   string        `bson:"event_id"`
	RunID     string        `bson:"run_id"`
	Type      string        `bson:"type"`
	JobName   string        `bson:"job_name"`
	StepName  string        `bson:"step_name"`
	Status    string        `bson:"status"`
	Message   string        `bson:"message"`
	Timestamp bson.RawValue `bson:"timestamp"`
	Scanner   string        `bson:"scanner"`
	Severity  string        `bson:"severity"`
}

func (d eventDocument) toEvent() model.Event {
	ev := model.Event{
		EventID:  d.EventID,
		RunID:    d.RunID,
		Type:     d.Type,
		JobName:  d.JobName,
		StepName: d.StepName,
		Status:   d.Status,
		Message:  d.Message,
		Scanner:  d.Scanner,
		Severity: d.Severity,
	}
	switch d.Timestamp.Type {
	case bsontype.String:
		ev.Timestamp = d.Timestamp.StringValue()
	case bsontype.DateTime:
		ev.Timestamp = d.Timestamp.Time().UTC().Format(time.RFC3339Nano)
	}
	return ev
}

// Find returns every valid event recorded for runID in insertion order.
// Documents that fail to decode or validate are skipped with a warning.
func (g *Gateway) Find(ctx context.Context, runID string) ([]model.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := g.coll.Find(ctx, bson.D{{Key: "run_id", Value: runID}}, opts)
	if err != nil {
		return nil, wrapErr(ctx, "find events", err)
	}
	defer cursor.Close(context.Background())

	events := make([]model.Event, 0)
	position := 0
	for cursor.Next(ctx) {
		position++
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			g.skip(runID, position, err)
			continue
		}
		ev := doc.toEvent()
		if err := ev.Validate(); err != nil {
			g.skip(runID, position, err)
			continue
		}
		events = append(events, ev)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr(ctx, "iterate events", err)
	}

	g.logger.Debug("Fetched parsed events", "run_id", runID, "event_count", len(events))
	return events, nil
}

func (g *Gateway) skip(runID string, position int, err error) {
	g.logger.Warn("Skipping malformed event document",
		"run_id", runID,
		"position", position,
		"error", err)
	if g.skipped != nil {
		g.skipped.Inc()
	}
}

// wrapErr makes deadline failures recognisable through IsTimeout
func wrapErr(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded || mongo.IsTimeout(err) {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", op, context.DeadlineExceeded, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTimeout reports whether err came from an exceeded deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err)
}
