// Package metrics exports engine telemetry to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "s3upload"

// Collector records retry attempts, breaker transitions and upload outcomes.
// A nil *Collector records nothing.
type Collector struct {
	attempts       *prometheus.CounterVec
	backoff        *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	uploads        *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadedBytes  prometheus.Counter
	partsInFlight  prometheus.Gauge
}

// New registers the engine metrics with reg. A nil reg means the default
// registerer. Registering twice against the same registry reuses the existing
// collectors, so several clients can share one registry.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	c := &Collector{}
	if c.attempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attempts_total",
		Help:      "Store operation attempts by operation and classification.",
	}, []string{"operation", "classification"})); err != nil {
		return nil, err
	}
	if c.backoff, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retry_backoff_seconds",
		Help:      "Delay slept before a retry.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if c.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state changes.",
	}, []string{"target", "from", "to"})); err != nil {
		return nil, err
	}
	if c.breakerState, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})); err != nil {
		return nil, err
	}
	if c.uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Finished uploads by strategy and outcome.",
	}, []string{"strategy", "outcome"})); err != nil {
		return nil, err
	}
	if c.uploadDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Latency of finished uploads.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	if c.uploadedBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Cumulative payload size committed to the store.",
	})); err != nil {
		return nil, err
	}
	if c.partsInFlight, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "parts_in_flight",
		Help:      "Multipart parts currently being uploaded.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return collector, nil
}

// ObserveAttempt implements retry.Observer.
func (c *Collector) ObserveAttempt(e retry.AttemptEvent) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(e.Operation, string(e.Classification)).Inc()
	if e.Attempt > 1 {
		c.backoff.WithLabelValues(e.Operation).Observe(e.Delay.Seconds())
	}
}

// BreakerTransition is a retry.TransitionFunc.
func (c *Collector) BreakerTransition(target string, from, to retry.BreakerState) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(target, from.String(), to.String()).Inc()
	c.breakerState.WithLabelValues(target).Set(float64(to))
}

// UploadFinished records the outcome of one upload.
func (c *Collector) UploadFinished(strategy, outcome string, size int64, took time.Duration) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(strategy, outcome).Inc()
	c.uploadDuration.WithLabelValues(strategy).Observe(took.Seconds())
	if outcome == "success" {
		c.uploadedBytes.Add(float64(size))
	}
}

// PartsInFlight returns the gauge of parts being uploaded.
func (c *Collector) PartsInFlight() prometheus.Gauge {
	return c.partsInFlight
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
