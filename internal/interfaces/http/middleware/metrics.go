package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainmirror/backend/internal/infrastructure/telemetry"
)

// HTTPMetrics records request count and latency per route. Unmatched routes
// are labeled with the raw path to keep cardinality visible rather than silent.
func HTTPMetrics(mp *telemetry.MeterProvider) gin.HandlerFunc {
	meter := mp.Meter("chainmirror/http")

	requests, err := telemetry.NewCounter(meter,
		"http.server.requests", "Total HTTP requests served", "{request}")
	if err != nil {
		return func(c *gin.Context) { c.Next() }
	}

	duration, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http.server.duration",
		Description: "HTTP request duration",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
			telemetry.AttrHTTPStatusCode.String(strconv.Itoa(c.Writer.Status())),
		}

		ctx := c.Request.Context()
		requests.Inc(ctx, attrs...)
		duration.RecordDuration(ctx, time.Since(start), attrs...)
	}
}
