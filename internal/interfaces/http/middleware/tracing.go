package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength bounds request IDs accepted from clients.
const MaxRequestIDLength = 128

// Tracing opens a server span per request through otelgin. When disabled it
// only passes the request on.
func Tracing(serviceName string, enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	if serviceName == "" {
		serviceName = "zoho-sync-engine"
	}
	return otelgin.Middleware(serviceName)
}

// spanParams are path parameters copied onto the span under a sync. prefix.
var spanParams = []string{"entity_type", "id", "name"}

// SpanAnnotator tags the current span with the request ID, the authenticated
// subject and sync path parameters. Mount it after authentication.
func SpanAnnotator() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			attrs := make([]attribute.KeyValue, 0, 2+len(spanParams))
			if id := getRequestID(c); id != "" {
				attrs = append(attrs, attribute.String("request_id", id))
			}
			if subject := GetJWTSubject(c); subject != "" {
				attrs = append(attrs, attribute.String("subject", subject))
			}
			for _, p := range spanParams {
				if v := c.Param(p); v != "" {
					attrs = append(attrs, attribute.String("sync."+p, v))
				}
			}
			span.SetAttributes(attrs...)
		}
		c.Next()
	}
}

// SpanStatus marks the span as failed for 4xx and 5xx responses, using the
// status text as the description.
func SpanStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		span.SetStatus(codes.Error, http.StatusText(status))
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}

// getRequestID prefers the ID assigned by RequestID and falls back to the
// header, truncated.
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	id := c.GetHeader(RequestIDHeader)
	if len(id) > MaxRequestIDLength {
		id = id[:MaxRequestIDLength]
	}
	return id
}
