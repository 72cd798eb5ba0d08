package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Gateway metrics
	APICallsTotal     *prometheus.CounterVec
	APICallLatency    *prometheus.HistogramVec
	TokensUsedTotal   *prometheus.CounterVec
	AuthFailuresTotal *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	KeysCreated prometheus.Counter
	KeysDeleted prometheus.Counter
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Gateway metrics
		APICallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_calls_total",
				Help: "Total number of authenticated API calls",
			},
			[]string{"endpoint", "status"},
		),
		APICallLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_call_latency_seconds",
				Help:    "API call latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		TokensUsedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_used_total",
				Help: "Total tokens consumed by API calls",
			},
			[]string{"model"},
		),
		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_failures_total",
				Help: "Total number of rejected API credentials",
			},
			[]string{"reason"},
		),

		// Cache metrics
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		// Database metrics
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		// Business metrics
		KeysCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "api_keys_created_total",
				Help: "Total number of API keys created",
			},
		),
		KeysDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "api_keys_deleted_total",
				Help: "Total number of API keys deleted",
			},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordAPICall records one authenticated gateway call
func RecordAPICall(endpoint, status string) {
	Get().APICallsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordAPICallLatency records gateway call latency
func RecordAPICallLatency(endpoint string, duration time.Duration) {
	Get().APICallLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTokensUsed adds to the token consumption counter
func RecordTokensUsed(model string, tokens int) {
	Get().TokensUsedTotal.WithLabelValues(model).Add(float64(tokens))
}

// RecordAuthFailure records a rejected API credential
func RecordAuthFailure(reason string) {
	Get().AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	Get().CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	Get().CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordKeyCreated records an API key creation
func RecordKeyCreated() {
	Get().KeysCreated.Inc()
}

// RecordKeyDeleted records an API key deletion
func RecordKeyDeleted() {
	Get().KeysDeleted.Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}
