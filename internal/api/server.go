package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"carenav/internal/metrics"
	"carenav/internal/realtime"
)

// Server exposes the monitoring snapshot to dashboard UIs: derived views as
// JSON, a live SSE stream, filter control, and operational endpoints.
type Server struct {
	Store  *realtime.Store
	Client *realtime.Client
	Broker EventBroker
	Log    *zap.Logger
}

// NewServer wires the dashboard surface. With a redisURL the broker fans out
// over Redis Pub/Sub; otherwise it is in-process.
func NewServer(store *realtime.Store, client *realtime.Client, redisURL string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var broker EventBroker
	if redisURL != "" {
		rb, err := NewRedisBroker(redisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
	} else {
		broker = NewBroker()
	}
	return &Server{Store: store, Client: client, Broker: broker, Log: log.Named("api")}, nil
}

// Routes returns the HTTP mux for the dashboard surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/monitoring/routes", s.RoutesHandler)
	mux.HandleFunc("/v1/monitoring/routes/", s.RouteDelaysHandler) // /{routeId}/delays
	mux.HandleFunc("/v1/monitoring/stats", s.StatsHandler)
	mux.HandleFunc("/v1/monitoring/status", s.StatusHandler)
	mux.HandleFunc("/v1/monitoring/filters", s.FiltersHandler)
	mux.HandleFunc("/v1/monitoring/events/stream", s.StreamHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/debug/info", s.DebugHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.withObservability(mux)
}

// withObservability records request metrics and logs request outcomes.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		status := strconv.Itoa(sw.status())
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		s.Log.Debug("request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", sw.status()), zap.Duration("dur", dur))
	})
}

// statusWriter captures the final HTTP status code for metrics. Flush is
// forwarded so SSE keeps working through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(c int) {
	w.code = c
	w.ResponseWriter.WriteHeader(c)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
