package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthTracker holds the process's readiness state.
type HealthTracker struct {
	mu     sync.RWMutex
	ready  bool
	detail string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{}
}

func (t *HealthTracker) SetReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
	t.detail = ""
}

func (t *HealthTracker) SetUnready(detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = false
	t.detail = detail
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.ready {
		return HealthReport{Status: "ok"}
	}
	return HealthReport{Status: "unavailable", Detail: t.detail}
}

type HTTPServerOptions struct {
	Addr     string
	Health   *HealthTracker
	Registry prometheus.Gatherer
}

// StartHTTPServer serves /metrics and /healthz until ctx is canceled.
func StartHTTPServer(ctx context.Context, opts HTTPServerOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := opts.Addr
	if addr == "" {
		addr = "0.0.0.0:9090"
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(opts.Health))

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("observability server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("observability server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("observability server stopped")
		return nil
	}
}

func healthHandler(tracker *HealthTracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{Status: "ok"}
		if tracker != nil {
			report = tracker.Report()
		}

		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}
