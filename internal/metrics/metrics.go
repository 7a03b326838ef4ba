// Package metrics exposes Prometheus collectors for the exam engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mocktest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mocktest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	AttemptsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mocktest_attempts_started_total",
		Help: "Attempts created",
	})

	AttemptsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mocktest_attempts_submitted_total",
			Help: "Submit calls by result: scored or replayed",
		},
		[]string{"result"},
	)

	AttemptsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mocktest_attempts_abandoned_total",
		Help: "Attempts moved to ABANDONED by the sweeper",
	})

	PoolExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mocktest_pool_exhausted_total",
		Help: "Start calls rejected because the question pool was too small",
	})

	StaleSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mocktest_stale_snapshots_total",
		Help: "Autosave snapshots rejected as older than the stored one",
	})

	ScorePercentage = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mocktest_score_percentage",
		Help:    "Score as a percentage of the maximum at submit",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsStarted,
			AttemptsSubmitted,
			AttemptsAbandoned,
			PoolExhausted,
			StaleSnapshots,
			ScorePercentage,
		)
	})
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
