// Package metrics provides Prometheus instrumentation for the fraudgate service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fraudgate"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts rendered decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total decisions rendered by decision.",
		},
		[]string{"decision"},
	)

	// DecisionLatency observes end-to-end decision latency.
	DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decision_latency_seconds",
		Help:      "Time from receipt to finalized decision in seconds.",
		Buckets:   []float64{.001, .0025, .005, .01, .02, .03, .04, .045, .05, .1, .25},
	})

	// FailOpenTotal counts decisions that failed open, by reason.
	FailOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Total decisions converted to ALLOW by the fail-open path.",
		},
		[]string{"reason"},
	)

	// GuardTripsTotal counts guard short-circuits by guard.
	GuardTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_trips_total",
			Help:      "Total guard short-circuits by guard.",
		},
		[]string{"guard"},
	)

	// KVErrorsTotal counts key-value store failures by operation.
	KVErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kv_errors_total",
			Help:      "Total key-value store errors by operation.",
		},
		[]string{"op"},
	)

	// AmplifierPredictionsTotal counts amplifier calls by status.
	AmplifierPredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amplifier_predictions_total",
			Help:      "Total risk amplifier predictions by status.",
		},
		[]string{"status"},
	)

	// AmplifierLatency observes model inference latency.
	AmplifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "amplifier_latency_seconds",
		Help:      "Risk amplifier inference latency in seconds.",
		Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .02},
	})

	// CircuitBreakerState reports 0 closed, 1 open, 2 half-open per breaker.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerTransitions counts breaker state changes.
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by breaker, from-state and to-state.",
		},
		[]string{"breaker", "from_state", "to_state"},
	)

	// AuditQueueDepth tracks items waiting in the audit queue.
	AuditQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_queue_depth",
		Help:      "Number of items waiting in the audit queue.",
	})

	// AuditEnqueueRejectedTotal counts submissions rejected by a full queue.
	AuditEnqueueRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_enqueue_rejected_total",
		Help:      "Total audit submissions rejected because the queue was full.",
	})

	// AuditItemsTotal counts processed audit items by result.
	AuditItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_items_total",
			Help:      "Total audit items processed by result.",
		},
		[]string{"result"},
	)

	// AuditStageFailuresTotal counts failures of individual pipeline stages.
	AuditStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_stage_failures_total",
			Help:      "Total audit pipeline stage failures by stage.",
		},
		[]string{"stage"},
	)

	// EventsPublishedTotal counts outbound decision events by sink and result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total decision events published by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// ReviewResolutionsTotal counts human review resolutions by final decision.
	ReviewResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_resolutions_total",
			Help:      "Total review resolutions by final decision.",
		},
		[]string{"decision"},
	)

	// ActiveStreamClients tracks connected live-feed WebSocket clients.
	ActiveStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_stream_clients",
		Help:      "Number of currently connected live-feed clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionLatency,
		FailOpenTotal,
		GuardTripsTotal,
		KVErrorsTotal,
		AmplifierPredictionsTotal,
		AmplifierLatency,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		AuditQueueDepth,
		AuditEnqueueRejectedTotal,
		AuditItemsTotal,
		AuditStageFailuresTotal,
		EventsPublishedTotal,
		ReviewResolutionsTotal,
		ActiveStreamClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath() // route pattern keeps cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
