// Package metrics exposes the Prometheus instrumentation for the
// forecasting service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the horizon service. It
// carries its own prometheus.Registry so parallel test instances
// never collide on registration.
type Registry struct {
	reg *prometheus.Registry

	// Stage duration metrics
	StageDuration *prometheus.HistogramVec

	// Model execution metrics
	ModelFailures *prometheus.CounterVec
	ModelDuration *prometheus.HistogramVec

	// Cache performance metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Request metrics
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
	ActiveForecasts prometheus.Gauge
	TotalForecasts  prometheus.Counter
}

// NewRegistry creates a registry with all horizon metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"stage", "result"},
		),

		ModelFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_model_failures_total",
				Help: "Total number of dropped model forecasts by model and reason",
			},
			[]string{"model", "reason"},
		),

		ModelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_model_duration_seconds",
				Help:    "Per-model inference duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"model"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_cache_hits_total",
				Help: "Total number of forecast cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_cache_misses_total",
				Help: "Total number of forecast cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_request_duration_seconds",
				Help:    "End-to-end forecast request duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "status"},
		),

		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_request_errors_total",
				Help: "Total number of failed forecast requests by error kind",
			},
			[]string{"kind"},
		),

		ActiveForecasts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "horizon_active_forecasts",
				Help: "Number of forecast requests currently in flight",
			},
		),

		TotalForecasts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "horizon_forecasts_total",
				Help: "Total number of forecast requests started",
			},
		),
	}

	r.reg.MustRegister(
		r.StageDuration,
		r.ModelFailures,
		r.ModelDuration,
		r.CacheHits,
		r.CacheMisses,
		r.RequestDuration,
		r.RequestErrors,
		r.ActiveForecasts,
		r.TotalForecasts,
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StageTimer tracks execution time for one pipeline stage.
type StageTimer struct {
	registry *Registry
	stage    string
	start    time.Time
}

// StartStage begins timing a pipeline stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{registry: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration with its result label.
func (t *StageTimer) Stop(result string) {
	t.registry.StageDuration.WithLabelValues(t.stage, result).
		Observe(time.Since(t.start).Seconds())
}

// RecordModelFailure counts one dropped model forecast.
func (r *Registry) RecordModelFailure(model, reason string) {
	r.ModelFailures.WithLabelValues(model, reason).Inc()
}

// RecordCacheHit counts one cache hit.
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts one cache miss.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
}
