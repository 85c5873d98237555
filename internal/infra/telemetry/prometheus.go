// Package telemetry exposes gateway metrics and health over a separate
// observability listener.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	discoveryDuration *prometheus.HistogramVec
	discoveryFailures prometheus.Counter
	listToolsDuration *prometheus.HistogramVec
	toolCallDuration  *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		discoveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_discovery_duration_seconds",
				Help:    "Duration of aggregated tool discovery in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"cache"},
		),
		discoveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_discovery_server_failures_total",
				Help: "Total number of servers that failed to answer discovery",
			},
		),
		listToolsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_list_tools_duration_seconds",
				Help:    "Duration of per-server tools/list calls in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_tool_call_duration_seconds",
				Help:    "Duration of tools/call invocations in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool", "status"},
		),
	}
}

func (p *PrometheusMetrics) ObserveListTools(_ string, duration time.Duration, err error) {
	p.listToolsDuration.WithLabelValues(statusLabel(err == nil)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveCallTool(tool string, duration time.Duration, isErr bool) {
	p.toolCallDuration.WithLabelValues(tool, statusLabel(!isErr)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveDiscovery(duration time.Duration, _ int, failed int, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	p.discoveryDuration.WithLabelValues(cache).Observe(duration.Seconds())
	if failed > 0 {
		p.discoveryFailures.Add(float64(failed))
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
