package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// errNoMessage means the fetch wait elapsed without a delivery
var errNoMessage = errors.New("no message available")

// fetcher pulls one delivery at a time
type fetcher interface {
	Fetch(ctx context.Context) (Delivery, error)
}

// jetStreamFetcher adapts a durable pull consumer to fetcher
type jetStreamFetcher struct {
	cons jetstream.Consumer
	wait time.Duration
}

func (f jetStreamFetcher) Fetch(_ context.Context) (Delivery, error) {
	msg, err := f.cons.Next(jetstream.FetchMaxWait(f.wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errNoMessage
		}
		return nil, err
	}
	return msg, nil
}

// Consumer runs the single-in-flight receive loop
type Consumer struct {
	source  fetcher
	handler *Handler
	backoff time.Duration
	logger  *slog.Logger
}

// NewConsumer creates a consumer pulling from cons with the given fetch wait
func NewConsumer(cons jetstream.Consumer, fetchWait time.Duration, handler *Handler, logger *slog.Logger) *Consumer {
	if fetchWait <= 0 {
		fetchWait = 5 * time.Second
	}
	return newConsumer(jetStreamFetcher{cons: cons, wait: fetchWait}, handler, logger)
}

func newConsumer(source fetcher, handler *Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:  source,
		handler: handler,
		backoff: time.Second,
		logger:  logger,
	}
}

// Run fetches and handles one message at a time until ctx is cancelled.
// A message already being handled is finished before Run returns. Run
// returns an error only when the connection is closed for good.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started")
	defer c.logger.Info("Consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		d, err := c.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, errNoMessage) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return fmt.Errorf("consumer connection closed: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to fetch message", "error", err)
			if !sleepCtx(ctx, c.backoff) {
				return nil
			}
			continue
		}

		outcome := c.handler.Handle(context.WithoutCancel(ctx), d)
		c.logger.Debug("Message handled", "outcome", string(outcome))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
