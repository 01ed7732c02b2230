package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowlight-systems/crowlight-core/common/controlplane"
	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/messaging"
	natsclient "github.com/crowlight-systems/crowlight-core/common/messaging/nats"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/alias"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/canonical"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/config"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/consumer"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/detector"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/dlq"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/enrich"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/server"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/storage"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/taxonomy"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/writer"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("pipeline"))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run control-plane migrations, then connect
	if err := controlplane.Migrate(cfg.ControlPlane.DatabaseURL); err != nil {
		log.Fatalf("Failed to run control-plane migrations: %v", err)
	}
	repo, err := controlplane.NewPostgresRepository(ctx, cfg.ControlPlane.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Event store
	store, err := storage.NewClient(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run event store migrations: %v", err)
	}

	// Message bus
	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	if _, err := js.CreateOrUpdateStream(ctx, natsclient.RawEventsStream); err != nil {
		log.Fatalf("Failed to create raw events stream: %v", err)
	}
	jsConsumer, err := js.CreateOrUpdateConsumer(ctx, natsclient.RawEventsStream.Name, natsclient.ConsumerConfig{
		Name:          "pipeline-workers",
		FilterSubject: messaging.SubjectEventsRaw,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		MaxAckPending: cfg.Consumer.Workers * cfg.Consumer.PendingWatermark,
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline consumer: %v", err)
	}

	deadLetters, err := dlq.NewQueue(ctx, js, logger)
	if err != nil {
		log.Fatalf("Failed to initialize dead-letter queue: %v", err)
	}

	// Lookup tables and their refresher
	aliases := alias.NewTable()
	tax := taxonomy.NewMapper()
	sources := enrich.NewSourceRegistry()
	iocs := enrich.NewIOCSet()
	refresher := enrich.NewRefresher(repo, aliases, tax, sources, iocs,
		cfg.ControlPlane.RefreshTTL, logger)
	if err := refresher.Subscribe(js); err != nil {
		log.Fatalf("Failed to subscribe to reload signals: %v", err)
	}
	go refresher.Run(ctx)

	// Detector registry, with optional vendor patterns
	vendor, err := detector.LoadVendorDetectors(cfg.Detectors.VendorPatternsPath)
	if err != nil {
		log.Fatalf("Failed to load vendor detectors: %v", err)
	}
	registry := detector.DefaultRegistry(vendor...)

	engine := canonical.NewEngine(registry, aliases, tax, sources, iocs)

	// Worker pool
	stats := &writer.Stats{}
	pool := consumer.NewPool(cfg.Consumer, jsConsumer, engine, store, deadLetters,
		cfg.Writer, stats, logger)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := pool.Run(ctx); err != nil {
			logger.Error("worker pool failed", logging.Error(err))
		}
	}()

	// Ops HTTP server
	ready := func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Conn().Ping(pingCtx) == nil && js.IsConnected()
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(ready, stats, deadLetters, store),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("pipeline ops server listening", logging.Subject(srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, draining workers")

	// Workers drain their batches before the process exits.
	select {
	case <-poolDone:
	case <-time.After(45 * time.Second):
		logger.Error("worker drain timed out")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("pipeline stopped")
}
