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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowlight-systems/crowlight-core/common/controlplane"
	"github.com/crowlight-systems/crowlight-core/common/logging"
	"github.com/crowlight-systems/crowlight-core/common/middleware"
	natsclient "github.com/crowlight-systems/crowlight-core/common/messaging/nats"
	"github.com/crowlight-systems/crowlight-core/detect/internal/config"
	"github.com/crowlight-systems/crowlight-core/detect/internal/counters"
	"github.com/crowlight-systems/crowlight-core/detect/internal/engine"
	"github.com/crowlight-systems/crowlight-core/detect/internal/rules"
	"github.com/crowlight-systems/crowlight-core/detect/internal/store"
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
		With(logging.Service("detect"))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Control plane (rules)
	repo, err := controlplane.NewPostgresRepository(ctx, cfg.ControlPlane.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Event store (read side)
	events, err := store.NewClient(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer events.Close()

	// Counter state
	state, err := counters.NewStore(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer state.Close()

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
	if _, err := js.CreateOrUpdateStream(ctx, natsclient.AlertsStream); err != nil {
		log.Fatalf("Failed to create alerts stream: %v", err)
	}

	// Rule snapshot
	src := rules.NewSource(repo, cfg.ControlPlane.RefreshTTL, logger)
	if err := src.Subscribe(js); err != nil {
		log.Fatalf("Failed to subscribe to rules reload signal: %v", err)
	}
	go src.Run(ctx)

	// Evaluation engine
	eng := engine.New(cfg.Engine, src, events, state, js, logger)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	// Ops HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if events.Conn().Ping(pingCtx) != nil || !js.IsConnected() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("detect ops server listening", logging.Subject(srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, finishing current cycle")

	select {
	case <-engineDone:
	case <-time.After(60 * time.Second):
		logger.Error("engine shutdown timed out")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("detect stopped")
}
