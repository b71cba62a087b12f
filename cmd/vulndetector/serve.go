package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdelilah771/devsecops-pipeline/internal/api"
	"github.com/abdelilah771/devsecops-pipeline/internal/config"
	"github.com/abdelilah771/devsecops-pipeline/internal/eventstore"
	"github.com/abdelilah771/devsecops-pipeline/internal/metrics"
	natsbridge "github.com/abdelilah771/devsecops-pipeline/internal/nats"
	"github.com/abdelilah771/devsecops-pipeline/internal/store"
	"github.com/abdelilah771/devsecops-pipeline/internal/validate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume run-ready messages and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func natsConfig(cfg *config.Config) natsbridge.Config {
	return natsbridge.Config{
		URL:             cfg.NATS.URL,
		Stream:          cfg.NATS.Stream,
		InboundSubject:  cfg.NATS.InboundSubject,
		OutboundSubject: cfg.NATS.OutboundSubject,
		Durable:         cfg.NATS.Durable,
		ConnectTimeout:  cfg.NATS.ConnectTimeout,
		FetchWait:       cfg.NATS.FetchWait,
		AckWait:         cfg.NATS.AckWait,
		PublishTimeout:  cfg.NATS.PublishTimeout,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting vulndetector", "http_addr", cfg.HTTP.Addr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	orch, riskModel, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	m.SetModelLoaded(riskModel.Available())

	validator, err := validate.NewSchemaValidator(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	deduper, err := store.NewDeduper(cfg.Detection.DedupePolicy, cfg.Detection.DedupeSize)
	if err != nil {
		return err
	}

	// The broker is the only dependency that must be reachable at startup.
	ncfg := natsConfig(cfg)
	nc, err := natsbridge.Connect(ncfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, cons, err := natsbridge.SetupJetStream(ctx, nc, ncfg, logger)
	if err != nil {
		return err
	}

	mongoClient, err := eventstore.Connect(ctx, eventstore.Config{
		URI:            cfg.Mongo.URL,
		Database:       cfg.Mongo.Database,
		Collection:     cfg.Mongo.Collection,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
		QueryTimeout:   cfg.Mongo.QueryTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Close(context.Background()) }()
	if err := mongoClient.Ping(ctx); err != nil {
		logger.Warn("Event store unreachable at startup", "error", err)
	}
	gateway := eventstore.NewGateway(mongoClient.Collection(), logger,
		eventstore.WithTimeout(cfg.Mongo.QueryTimeout),
		eventstore.WithSkippedCounter(m.MalformedDocuments))

	pool, err := pgxpool.New(ctx, cfg.Postgres.URI)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	vulnStore, err := store.Open(pool, cfg.Postgres.Timeout, logger)
	if err != nil {
		return err
	}
	if err := vulnStore.EnsureSchema(ctx); err != nil {
		logger.Warn("Vulnerability store unavailable at startup", "error", err)
	}

	publisher := natsbridge.NewResultPublisher(js, cfg.NATS.OutboundSubject, cfg.NATS.PublishTimeout, logger)
	handler := natsbridge.NewHandler(gateway, orch, vulnStore, publisher, logger,
		natsbridge.WithValidator(validator),
		natsbridge.WithDeduper(deduper),
		natsbridge.WithMetrics(m))
	consumer := natsbridge.NewConsumer(cons, cfg.NATS.FetchWait, handler, logger)

	server := api.NewServer(orch, validator, logger,
		api.WithRepository(vulnStore),
		api.WithEventSource(gateway),
		api.WithReadiness(nc.IsConnected),
		api.WithGatherer(reg))
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}
