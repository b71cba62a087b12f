package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultStream holds both the inbound and outbound subjects
	DefaultStream = "LOGPIPELINE"
	// DefaultInboundSubject carries run-ready notifications from the log parser
	DefaultInboundSubject = "logparsed.vuln.detect"
	// DefaultOutboundSubject carries detection results to the fix suggester
	DefaultOutboundSubject = "vuln.detected"
	// DefaultDurable is the durable pull consumer name
	DefaultDurable = "vulndetector"
	// ConnectTimeout bounds the initial connection
	ConnectTimeout = 10 * time.Second
	// ReconnectInterval is the wait between reconnect attempts
	ReconnectInterval = 2 * time.Second
)

// Config holds NATS and JetStream settings
type Config struct {
	URL             string
	Stream          string
	InboundSubject  string
	OutboundSubject string
	Durable         string
	ConnectTimeout  time.Duration
	FetchWait       time.Duration
	AckWait         time.Duration
	PublishTimeout  time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Stream:          DefaultStream,
		InboundSubject:  DefaultInboundSubject,
		OutboundSubject: DefaultOutboundSubject,
		Durable:         DefaultDurable,
		ConnectTimeout:  ConnectTimeout,
		FetchWait:       5 * time.Second,
		AckWait:         5 * time.Minute,
		PublishTimeout:  5 * time.Second,
	}
}

// Connect dials NATS and fails fast when the server is unreachable.
// After the first connection the client reconnects indefinitely.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(DefaultDurable),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}

// pipelineSubjects are the wildcards shared with the other pipeline stages
var pipelineSubjects = []string{"logparsed.>", "vuln.>"}

// StreamConfig describes the durable stream both subjects live on.
// Configured subjects outside the pipeline wildcards are added to it.
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: streamSubjects(cfg.InboundSubject, cfg.OutboundSubject),
		Storage:  jetstream.FileStorage,
	}
}

func streamSubjects(extra ...string) []string {
	subjects := append([]string(nil), pipelineSubjects...)
	for _, subject := range extra {
		if subject == "" {
			continue
		}
		covered := false
		for _, pattern := range subjects {
			if subjectMatches(pattern, subject) {
				covered = true
				break
			}
		}
		if !covered {
			subjects = append(subjects, subject)
		}
	}
	return subjects
}

// subjectMatches reports whether pattern, which may hold * and > wildcards,
// covers every subject that subject can name
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if st[i] == ">" || (st[i] == "*" && p != "*") {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// ConsumerConfig describes the durable pull consumer. MaxAckPending of one
// keeps a single message in flight.
func ConsumerConfig(cfg Config) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.InboundSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       cfg.AckWait,
		MaxAckPending: 1,
	}
}

// SetupJetStream declares the stream and the durable consumer
func SetupJetStream(ctx context.Context, nc *nats.Conn, cfg Config, logger *slog.Logger) (jetstream.JetStream, jetstream.Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare stream %s: %w", cfg.Stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, ConsumerConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare consumer %s: %w", cfg.Durable, err)
	}

	logger.Info("JetStream ready",
		"stream", cfg.Stream,
		"durable", cfg.Durable,
		"inbound_subject", cfg.InboundSubject,
		"outbound_subject", cfg.OutboundSubject)
	return js, cons, nil
}
