// Package metrics provides Prometheus instrumentation for the arena engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MovesTotal counts moves produced by the decision engine, by playstyle.
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_moves_total",
		Help: "Total autonomous moves played",
	}, []string{"playstyle"})

	// AdvanceOutcomes counts AdvanceMatch results (moved/completed/noop).
	AdvanceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_advance_outcomes_total",
		Help: "AdvanceMatch invocation outcomes",
	}, []string{"outcome"})

	// MatchesCompleted counts finalized matches by terminal reason.
	MatchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_matches_completed_total",
		Help: "Matches finalized, by terminal reason",
	}, []string{"reason"})

	// BetsTotal counts accepted bets per side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_bets_total",
		Help: "Total bets accepted",
	}, []string{"side"})

	// BetsRejected counts rejected bet placements by reason.
	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_bets_rejected_total",
		Help: "Bet placements rejected",
	}, []string{"reason"})

	// DecisionConfidence observes the brain's reported confidence.
	DecisionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_decision_confidence",
		Help:    "Confidence of chosen moves",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99},
	})

	// LiveMatches tracks the number of matches currently in play.
	LiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_live_matches",
		Help: "Number of matches currently live",
	})

	// WebSocketClients tracks connected WebSocket spectators.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
