// Package metrics exposes Prometheus instruments for the relay, the lookup
// resolver and the provider caches.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spanlight/internal/domain"
)

const namespace = "spanlight"

// Metrics holds every instrument, registered on its own registry so tests and
// multiple relays in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	FramesEmitted   *prometheus.CounterVec
	StreamDuration  *prometheus.HistogramVec
	ActiveStreams   prometheus.Gauge
	LookupFetches   *prometheus.CounterVec
	CascadeAdvances *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
}

// New creates and registers the instruments, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_requests_total",
				Help:      "Relay requests by endpoint and response status.",
			},
			[]string{"endpoint", "status"},
		),
		FramesEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_frames_total",
				Help:      "Frames written to clients by endpoint and kind.",
			},
			[]string{"endpoint", "kind"},
		),
		StreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relay_stream_duration_seconds",
				Help:      "Time from upstream open to terminal frame.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint", "outcome"},
		),
		ActiveStreams: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_active_streams",
				Help:      "Streams currently open.",
			},
		),
		LookupFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_fetches_total",
				Help:      "Lookup fetches by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		CascadeAdvances: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_cascade_advances_total",
				Help:      "Automatic tab advances after a failed fetch.",
			},
			[]string{"from", "to"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_cache_total",
				Help:      "Provider cache lookups by cache name and result.",
			},
			[]string{"cache", "result"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FetchStarted counts a resolver fetch.
func (m *Metrics) FetchStarted(src domain.Source) {
	m.LookupFetches.WithLabelValues(string(src), "started").Inc()
}

// FetchFailed counts a resolver fetch that ended in a user-visible error.
func (m *Metrics) FetchFailed(src domain.Source) {
	m.LookupFetches.WithLabelValues(string(src), "failed").Inc()
}

// CascadeAdvanced counts an automatic tab advance.
func (m *Metrics) CascadeAdvanced(from, to domain.Source) {
	m.CascadeAdvances.WithLabelValues(string(from), string(to)).Inc()
}

// CacheResult counts a provider cache hit or miss.
func (m *Metrics) CacheResult(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// StreamStarted marks a relay stream as open and returns a func that records
// its outcome and duration.
func (m *Metrics) StreamStarted(endpoint string) func(outcome string) {
	start := time.Now()
	m.ActiveStreams.Inc()
	return func(outcome string) {
		m.ActiveStreams.Dec()
		m.StreamDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
	}
}

// Frame counts one frame written by the relay.
func (m *Metrics) Frame(endpoint string, kind domain.StreamEventKind) {
	m.FramesEmitted.WithLabelValues(endpoint, kind.String()).Inc()
}

// Request counts one relay response.
func (m *Metrics) Request(endpoint string, status int) {
	m.RequestCount.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
