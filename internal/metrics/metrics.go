// Package metrics exposes Prometheus collectors for course progress activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Impulse-Zero/python.github.io/internal/events"
)

// Metrics holds the collectors of one process. Each instance has its own
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Completions     *prometheus.CounterVec
	Saves           *prometheus.CounterVec
	StorageErrors   *prometheus.CounterVec
	AppErrors       *prometheus.CounterVec
	OpenSessions    prometheus.Gauge
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursetrack_lesson_completions_total",
				Help: "Lessons completed, by completion type",
			},
			[]string{"type"},
		),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursetrack_progress_saves_total",
				Help: "Progress document saves, by result",
			},
			[]string{"result"},
		),
		StorageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursetrack_storage_errors_total",
				Help: "Swallowed storage helper failures, by operation",
			},
			[]string{"op"},
		),
		AppErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursetrack_app_errors_total",
				Help: "Application errors reported by pages, by type",
			},
			[]string{"type"},
		),
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursetrack_open_sessions",
			Help: "Page sessions currently open",
		}),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "endpoint"},
		),
	}

	m.registry.MustRegister(
		m.Completions,
		m.Saves,
		m.StorageErrors,
		m.AppErrors,
		m.OpenSessions,
		m.RequestCounter,
		m.RequestDuration,
	)
	return m
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe counts completions and application errors published on bus. The
// returned function detaches the subscriptions.
func (m *Metrics) Observe(bus *events.Bus) func() {
	offCompleted := bus.Subscribe(events.KindLessonCompleted, func(e events.Event) {
		m.Completions.WithLabelValues(e.(events.LessonCompleted).Type).Inc()
	})
	offErrors := bus.Subscribe(events.KindAppError, func(e events.Event) {
		m.AppErrors.WithLabelValues(e.(events.AppError).Type).Inc()
	})
	return func() {
		offCompleted()
		offErrors()
	}
}

// SaveResult counts one progress save
func (m *Metrics) SaveResult(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Saves.WithLabelValues(result).Inc()
}

// StorageError counts one swallowed storage failure
func (m *Metrics) StorageError(op, _ string, _ error) {
	m.StorageErrors.WithLabelValues(op).Inc()
}

// Middleware records request counts and durations. pattern names the route
// for the endpoint label so ids in paths do not explode cardinality.
func (m *Metrics) Middleware(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.RequestCounter.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
