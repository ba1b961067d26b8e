package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	oracledMetricsOnce sync.Once
	oracledRegistry    *OracledMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// OracledMetrics wraps collectors tracking the oracle pipeline's health.
type OracledMetrics struct {
	publishLatency *prometheus.HistogramVec
	publishes      *prometheus.CounterVec
	errors         *prometheus.CounterVec
	pending        prometheus.Gauge
}

// Oracled exposes the metrics registry for the oracle pipeline daemon.
func Oracled() *OracledMetrics {
	oracledMetricsOnce.Do(func() {
		oracledRegistry = &OracledMetrics{
			publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merklepay",
				Subsystem: "oracled",
				Name:      "publish_latency_seconds",
				Help:      "Latency distribution for end-to-end campaign settlements.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merklepay",
				Subsystem: "oracled",
				Name:      "publishes_total",
				Help:      "Count of publish attempts segmented by outcome.",
			}, []string{"outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merklepay",
				Subsystem: "oracled",
				Name:      "errors_total",
				Help:      "Count of pipeline failures segmented by stage.",
			}, []string{"stage"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "merklepay",
				Subsystem: "oracled",
				Name:      "pending_campaigns",
				Help:      "Campaigns that have ended but have no published results.",
			}),
		}
		prometheus.MustRegister(
			oracledRegistry.publishLatency,
			oracledRegistry.publishes,
			oracledRegistry.errors,
			oracledRegistry.pending,
		)
	})
	return oracledRegistry
}

// ObservePublish records a publish attempt and its latency.
func (m *OracledMetrics) ObservePublish(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unspecified"
	}
	m.publishes.WithLabelValues(outcome).Inc()
	m.publishLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordError increments the pipeline error counter for a stage.
func (m *OracledMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	if stage = strings.TrimSpace(stage); stage == "" {
		stage = "unspecified"
	}
	m.errors.WithLabelValues(stage).Inc()
}

// SetPending updates the ended-but-unpublished campaign gauge.
func (m *OracledMetrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

// GatewayMetrics bundles collectors for the settlement gateway's HTTP surface.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Gateway exposes the metrics registry for the settlement gateway.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merklepay",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merklepay",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.latency)
	})
	return gatewayRegistry
}

// Observe records one handled request.
func (m *GatewayMetrics) Observe(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, status).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}
