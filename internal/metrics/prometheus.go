package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exposes a Collector in Prometheus exposition format.
// Metrics are registered in a dedicated registry so they do not interfere
// with the default global registry.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry
}

// NewPrometheusCollector wraps an existing Collector.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, value func() int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "guacplay",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value()) })
	}
	gauge := func(name, help string, value func() int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "guacplay",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value()) })
	}

	reg.MustRegister(
		counter("frames_indexed_total", "Frames appended to the index.", c.framesIndexed.Load),
		counter("keyframes_total", "Keyframe-eligible frames.", c.keyframes.Load),
		counter("bytes_parsed_total", "Recording bytes ingested.", c.bytesParsed.Load),
		counter("parse_errors_total", "Ingest parse failures.", c.parseErrors.Load),
		counter("seeks_total", "User-initiated seeks.", c.seeks.Load),
		counter("frames_replayed_total", "Frames fed through the playback tunnel.", c.framesReplayed.Load),
		counter("snapshots_total", "Keyframe snapshots captured.", c.snapshots.Load),
		gauge("active_sessions", "Playback sessions currently open.", c.activeSessions.Load),
	)

	return &PrometheusCollector{collector: c, registry: reg}
}

// Handler returns an http.Handler serving the exposition endpoint.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}

// Registry returns the dedicated registry, for tests.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}
