package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the admin API.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Engine metrics.
var (
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radgate_sweep_runs_total",
			Help: "Enforcement sweep runs by outcome.",
		},
		[]string{"outcome"},
	)

	SweepAccountsChecked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radgate_sweep_accounts_checked_total",
		Help: "Accounts examined by the enforcement sweep.",
	})

	Disconnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radgate_disconnections_total",
			Help: "Automatic deprovisioning events by reason.",
		},
		[]string{"reason"},
	)

	SyncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radgate_sync_failures_total",
			Help: "External-store write failures recorded, by target store.",
		},
		[]string{"store"},
	)

	SyncRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radgate_sync_retries_total",
			Help: "Sync-failure retry attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		SweepRuns, SweepAccountsChecked, Disconnections,
		SyncFailures, SyncRetries,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an HTTP handler with request count/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
