package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the monitoring daemon.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts dashboard API requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carenav_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records dashboard API request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "carenav_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// StreamEvents counts inbound stream events by type.
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carenav_stream_events_total", Help: "Inbound stream events by type."},
		[]string{"type"},
	)
	// DecodeFailures counts inbound frames that could not be decoded.
	DecodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "carenav_stream_decode_failures_total", Help: "Inbound frames dropped due to decode failure."},
	)
	// OrphanEvents counts events referencing routes/visits not known locally.
	OrphanEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "carenav_stream_orphan_events_total", Help: "Events discarded because their route or visit is unknown."},
	)
	// Reconnects counts scheduled reconnection attempts.
	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "carenav_reconnects_total", Help: "Scheduled stream reconnection attempts."},
	)
	// ConnectionState reports the current connection state
	// (0=disconnected, 1=connecting, 2=connected, 3=error).
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "carenav_connection_state", Help: "Stream connection state (0=disconnected, 1=connecting, 2=connected, 3=error)."},
	)
)

// RegisterDefault registers all collectors on the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(StreamEvents)
		Registry.MustRegister(DecodeFailures)
		Registry.MustRegister(OrphanEvents)
		Registry.MustRegister(Reconnects)
		Registry.MustRegister(ConnectionState)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
