// Package metrics provides Prometheus instrumentation for escrowsync.
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

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowsync",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrowsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventQueriesTotal counts per-kind event source queries by result.
	EventQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowsync",
			Name:      "event_queries_total",
			Help:      "Event source queries by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// DisputeResolutionsTotal counts dispute resolutions by result.
	DisputeResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowsync",
			Name:      "dispute_resolutions_total",
			Help:      "Dispute record resolutions by result.",
		},
		[]string{"result"},
	)

	// ReverseLookupsTotal counts dispute→transaction reverse lookups by
	// how they resolved.
	ReverseLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowsync",
			Name:      "reverse_lookups_total",
			Help:      "Dispute-to-transaction reverse lookups by resolution path.",
		},
		[]string{"path"},
	)

	// LedgerCallsTotal counts raw ledger RPC calls by method and result.
	LedgerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowsync",
			Name:      "ledger_calls_total",
			Help:      "Ledger RPC calls by method and result.",
		},
		[]string{"method", "result"},
	)

	// ActiveSubscriptions tracks live event subscriptions.
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync",
		Name:      "active_subscriptions",
		Help:      "Number of active live event subscriptions.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DroppedEventsTotal counts events dropped for slow subscribers.
	DroppedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowsync",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	})

	// ArchivedEventsTotal counts events persisted to the archive.
	ArchivedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowsync",
		Name:      "archived_events_total",
		Help:      "Events written to the local archive.",
	})

	// WatcherLastBlock tracks the last block the watcher scanned.
	WatcherLastBlock = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync",
		Name:      "watcher_last_block",
		Help:      "Last block number scanned by the live watcher.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowsync", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventQueriesTotal,
		DisputeResolutionsTotal,
		ReverseLookupsTotal,
		LedgerCallsTotal,
		ActiveSubscriptions,
		ActiveWebSocketClients,
		DroppedEventsTotal,
		ArchivedEventsTotal,
		WatcherLastBlock,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
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
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
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
