package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// SnapshotFunc returns a JSON-encodable view of live state
type SnapshotFunc func() interface{}

// MetricsServer exposes Prometheus metrics plus controller status over HTTP
type MetricsServer struct {
	server  *http.Server
	metrics *PrometheusMetrics
	config  *config.MetricsConfig
	status  SnapshotFunc
	history SnapshotFunc
}

// NewMetricsServer creates the HTTP server. gatherer is what /metrics exposes.
func NewMetricsServer(cfg *config.MetricsConfig, metrics *PrometheusMetrics, gatherer prometheus.Gatherer, status, history SnapshotFunc) *MetricsServer {
	ms := &MetricsServer{
		metrics: metrics,
		config:  cfg,
		status:  status,
		history: history,
	}

	ms.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           ms.Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ms
}

// Handler builds the router. It is exported for tests.
func (ms *MetricsServer) Handler(gatherer prometheus.Gatherer) http.Handler {
	router := mux.NewRouter()
	router.Handle(ms.config.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", ms.handleSnapshot(ms.status)).Methods(http.MethodGet)
	router.HandleFunc("/history", ms.handleSnapshot(ms.history)).Methods(http.MethodGet)

	return handlers.RecoveryHandler()(handlers.LoggingHandler(logger.GetLogger().Writer(), router))
}

// Start starts the HTTP server in the background
func (ms *MetricsServer) Start() error {
	if !ms.config.Enabled {
		logger.GetLogger().Info("Metrics server disabled")
		return nil
	}

	logger.GetLogger().Infof("Starting metrics server on port %d", ms.config.Port)

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Errorf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (ms *MetricsServer) Stop(ctx context.Context) error {
	if !ms.config.Enabled {
		return nil
	}

	logger.GetLogger().Info("Stopping metrics server...")
	return ms.server.Shutdown(ctx)
}

func (ms *MetricsServer) handleSnapshot(fn SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fn == nil {
			http.Error(w, "not available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, fn())
	}
}

// handleHealth serves a simple health check
func (ms *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if ms.metrics != nil {
		health["uptime"] = ms.metrics.Uptime().String()
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}
