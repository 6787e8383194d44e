package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Layer label values for the anomaly counter
const (
	LayerStatic   = "static"
	LayerZScore   = "zscore"
	LayerSeasonal = "seasonal"
	LayerResidual = "residual"
	LayerDistance = "distance"
)

// Metrics holds the worker's prometheus collectors
type Metrics struct {
	ObservationsProcessed prometheus.Counter
	InvalidObservations   prometheus.Counter
	AnomaliesDetected     *prometheus.CounterVec
	WarmupReplays         prometheus.Counter

	registry *prometheus.Registry
}

// New creates the worker metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		ObservationsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stress_observations_processed_total",
			Help: "Number of observations run through the anomaly engine",
		}),
		InvalidObservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stress_observations_invalid_total",
			Help: "Number of observations rejected as non-finite or malformed",
		}),
		AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stress_anomalies_detected_total",
			Help: "Number of anomaly flags raised, by detection layer",
		}, []string{"layer"}),
		WarmupReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stress_warmup_replays_total",
			Help: "Number of subjects warmed up from persisted history",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.ObservationsProcessed,
		m.InvalidObservations,
		m.AnomaliesDetected,
		m.WarmupReplays,
	)

	return m
}

// Handler returns the scrape handler for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on the given port under the fx lifecycle
func StartServer(lc fx.Lifecycle, logger *zap.Logger, m *Metrics, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("metrics server listening", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
