package admin

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware stamps every request with an ID, reusing the
// caller's header value when present instead of always minting a new
// one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// loggerMiddleware logs one line per request at the level its status
// code warrants.
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"request_id", c.GetString("request_id"),
		}
		switch {
		case status >= 500:
			logger.Error("admin: request", attrs...)
		case status >= 400:
			logger.Warn("admin: request", attrs...)
		default:
			logger.Debug("admin: request", attrs...)
		}
	}
}

var (
	adminRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_http_requests_total",
		Help: "Requests served by the admin surface, by route and status.",
	}, []string{"route", "method", "status"})

	adminRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admin_http_request_duration_seconds",
		Help:    "Admin surface request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// metricsMiddleware records request count and latency for the admin
// surface's own traffic, registered against the caller's registry so
// it shows up alongside the engine's own metrics on /metrics.
func metricsMiddleware(reg *prometheus.Registry) gin.HandlerFunc {
	reg.MustRegister(adminRequestsTotal, adminRequestDuration)

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		method := c.Request.Method
		adminRequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		adminRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
