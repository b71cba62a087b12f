package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Outbound message headers
const (
	HeaderRunID     = "x-run-id"
	HeaderVulnCount = "x-vuln-count"
	HeaderPersisted = "x-persisted"
)

// msgPublisher is the subset of jetstream.JetStream used for publishing
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ResultPublisher publishes detection results to the outbound subject
type ResultPublisher struct {
	js      msgPublisher
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NewResultPublisher creates a new result publisher
func NewResultPublisher(js msgPublisher, subject string, timeout time.Duration, logger *slog.Logger) *ResultPublisher {
	if subject == "" {
		subject = DefaultOutboundSubject
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ResultPublisher{
		js:      js,
		subject: subject,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish sends result and waits for the stream to acknowledge it
func (p *ResultPublisher) Publish(ctx context.Context, result model.DetectionResult, persisted bool) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal detection result: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(HeaderRunID, result.RunID)
	msg.Header.Set(HeaderVulnCount, strconv.Itoa(len(result.Vulnerabilities)))
	msg.Header.Set(HeaderPersisted, strconv.FormatBool(persisted))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish detection result: %w", err)
	}

	p.logger.Debug("Detection result published",
		"run_id", result.RunID,
		"subject", p.subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence)
	return nil
}
