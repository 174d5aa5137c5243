// Package metrics is the engine's Prometheus registry: a thin wrapper
// around client_golang that every component registers its counters,
// gauges, and histograms into, exposed on one /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns one prometheus.Registry for the process.
type Registry struct {
	reg *prometheus.Registry
	fac promauto.Factory
}

// New builds an empty registry with the standard process/Go collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &Registry{reg: reg, fac: promauto.With(reg)}
}

// Counter registers (or panics on a name collision with) a named counter.
func (r *Registry) Counter(name, help string) prometheus.Counter {
	return r.fac.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

// CounterVec registers a labeled counter family.
func (r *Registry) CounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return r.fac.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

// Gauge registers a named gauge.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	return r.fac.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// Histogram registers a named histogram. A nil buckets slice uses
// Prometheus's default buckets.
func (r *Registry) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return r.fac.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
