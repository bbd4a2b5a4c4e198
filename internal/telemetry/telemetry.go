// Package telemetry wires the engine's structured logging and
// Prometheus metrics (spec §6.4), grounded on
// IAmSoThirsty-Project-AI's octoreflex/internal/observability/metrics.go
// (zap + prometheus/client_golang pairing, dedicated registry,
// promhttp handler) and its cmd/octoreflex/main.go buildLogger.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Metrics holds every CAPSIM Prometheus observable named in spec §6.4.
type Metrics struct {
	registry *prometheus.Registry

	QueueLength          prometheus.Gauge
	QueueFullTotal        prometheus.Counter
	EventLatencyMs        prometheus.Histogram
	BatchCommitErrorsTotal prometheus.Counter
	ActionsTotal          *prometheus.CounterVec
	SimulationsActive     prometheus.Gauge
}

// NewMetrics creates and registers CAPSIM's metrics on a dedicated
// registry (keeping test instantiations isolated from the default
// global registry).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capsim",
			Subsystem: "engine",
			Name:      "queue_length",
			Help:      "Current number of pending events in the event queue.",
		}),

		QueueFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsim",
			Subsystem: "engine",
			Name:      "queue_full_total",
			Help:      "Total events rejected or admitted via eviction because the queue was at capacity.",
		}),

		EventLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capsim",
			Subsystem: "engine",
			Name:      "event_latency_ms",
			Help:      "Wall-clock time to dispatch and apply one popped event, in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		BatchCommitErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capsim",
			Subsystem: "repository",
			Name:      "batch_commit_errors_total",
			Help:      "Total persistence batches that exhausted their retry schedule and were dropped.",
		}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capsim",
			Subsystem: "agents",
			Name:      "actions_total",
			Help:      "Total agent actions executed, by kind, purchase level, and profession.",
		}, []string{"kind", "level", "profession"}),

		SimulationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capsim",
			Subsystem: "engine",
			Name:      "simulations_active",
			Help:      "1 while a simulation run is RUNNING or STOPPING, 0 otherwise (spec invariant I5).",
		}),
	}

	reg.MustRegister(
		m.QueueLength,
		m.QueueFullTotal,
		m.EventLatencyMs,
		m.BatchCommitErrorsTotal,
		m.ActionsTotal,
		m.SimulationsActive,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Serve starts the Prometheus HTTP endpoint on addr, exposing GET
// /metrics and GET /healthz. Blocks until ctx is cancelled or the
// server fails to start.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("telemetry: metrics server on %s: %w", addr, err)
	}
	return nil
}

// NewLogger builds a zap.Logger at the given level ("debug", "info",
// "warn", "error") in either "console" (development) or "json"
// (production) format.
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("telemetry: invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
