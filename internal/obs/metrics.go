package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Auth decision metrics
var (
	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyward_token_verifications_total",
			Help: "Token verifications by purpose and outcome.",
		},
		[]string{"purpose", "result"},
	)

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyward_guard_decisions_total",
			Help: "Authorization guard decisions by outcome.",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokenVerifications, guardDecisions,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTokenVerification counts one verification. result is "ok" or the
// failure code.
func ObserveTokenVerification(purpose, result string) {
	tokenVerifications.WithLabelValues(purpose, result).Inc()
}

// ObserveGuardDecision counts one guard outcome. result is "allow" or the
// failure code.
func ObserveGuardDecision(result string) {
	guardDecisions.WithLabelValues(result).Inc()
}

// Instrument measures request rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses member identifiers so label cardinality stays
// bounded: /v1/company/members/{id}/role becomes /v1/company/members/:id/role.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const prefix = "/v1/company/members/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(rest) != 2 || rest[0] == "" {
		return path
	}
	switch rest[1] {
	case "deactivate", "recover", "role":
		return prefix + ":id/" + rest[1]
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
