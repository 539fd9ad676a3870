// Package middleware – Prometheus instrumentation.
//
// Labels are kept to method, registered route, and status code so cardinality
// stays bounded: the route label uses c.FullPath() (e.g.
// /api/v1/orders/:id/cancel), falling back to the raw URL path only when no
// route matched. Alongside the generic HTTP collectors there are two
// pipeline-specific counters fed by the replay and rate-limit middleware.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is omitted from the latency histogram to keep series count down.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Buckets sized for JSON replies; the recap text payload tops out well
	// under 100KiB even for a large group.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// webhookRedeliveries counts inbound webhook deliveries whose provider
	// message id was already processed. Incremented by ReplayDetector. A
	// sustained climb means the provider is not seeing our 2xx responses.
	webhookRedeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_redeliveries_total",
			Help: "Inbound webhook deliveries recognized as redeliveries.",
		},
	)

	// rateLimitRejections counts requests refused with 429.
	rateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpReqs, httpLat, httpInflight, httpRespSize,
		webhookRedeliveries, rateLimitRejections,
	)
}

// Metrics instruments every request: request counter, latency histogram,
// in-flight gauge, and response size. Expose the scrape endpoint with
// gin.WrapH(promhttp.Handler()).
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 when the handler never reported one.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
