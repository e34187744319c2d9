// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

var (
	// ReviewMutations counts review lifecycle calls.
	// Labels:
	//   - op: "create", "update", "delete"
	//   - outcome: "ok", "not_found", "forbidden", "conflict", "invalid", "error"
	ReviewMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_mutations_total",
			Help: "Total number of review create/update/delete calls",
		},
		[]string{"op", "outcome"},
	)

	// ReviewMutationDuration measures the full transaction including re-aggregation.
	ReviewMutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_mutation_duration_seconds",
			Help:    "Duration of review mutations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	// HTTPRequests counts served requests by chi route pattern.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ListenerFailures counts post-commit listener errors.
	ListenerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_listener_failures_total",
			Help: "Total number of failed post-commit review notifications",
		},
		[]string{"listener"},
	)
)

// ObserveReviewMutation records one review lifecycle call.
func ObserveReviewMutation(op string, err error, elapsed time.Duration) {
	ReviewMutations.WithLabelValues(op, Outcome(err)).Inc()
	ReviewMutationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Outcome maps an error to its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}

// RegisterPoolStats exposes connection pool gauges sourced from stats.
// A nil stats result reports zero.
func RegisterPoolStats(reg prometheus.Registerer, stats func() *pgxpool.Stat) error {
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			st := stats()
			if st == nil {
				return 0
			}
			return value(st)
		})
	}

	collectors := []prometheus.Collector{
		gauge("db_pool_total_conns", "Total connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("db_pool_acquired_conns", "Connections currently in use",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("db_pool_idle_conns", "Idle connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
