// Package server exposes the pipeline ops endpoints: liveness, readiness,
// counters, raw-event search, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowlight-systems/crowlight-core/common/middleware"
	"github.com/crowlight-systems/crowlight-core/pipeline/internal/writer"
)

// ReadyFunc reports whether the pipeline's dependencies are reachable.
type ReadyFunc func() bool

// DLQStats reports how many entries this instance dead-lettered.
type DLQStats interface {
	Written() uint64
}

// RawSearcher finds stored events by raw-payload substring. Unparsed
// events stay reachable through this path even when no detector matched.
type RawSearcher interface {
	SearchRaw(ctx context.Context, tenantID, needle string, limit int) ([]string, error)
}

// NewRouter constructs a ServeMux with the ops routes registered.
func NewRouter(ready ReadyFunc, stats *writer.Stats, dlq DLQStats, search RawSearcher) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := stats.Snapshot()
		body := map[string]any{
			"counters":     snapshot,
			"success_rate": stats.SuccessRate(),
			"dlq_written":  dlq.Written(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("/search/raw", func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		needle := r.URL.Query().Get("q")
		if tenantID == "" || needle == "" {
			http.Error(w, "tenant_id and q are required", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		ids, err := search.SearchRaw(r.Context(), tenantID, needle, limit)
		if err != nil {
			http.Error(w, "search failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"event_ids": ids})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
