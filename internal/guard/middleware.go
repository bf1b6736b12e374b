package guard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/apiguard/internal/abuse"
)

// Header names consumed and produced by the middleware.
const (
	// HeaderServerTag is the tenant/server tag propagated into
	// telemetry labels.
	HeaderServerTag = "X-Server-Tag"

	// HeaderRequestID carries the caller-supplied request id; one is
	// generated when absent.
	HeaderRequestID = "X-Request-ID"

	// HeaderRetryAfter accompanies throttle rejections.
	HeaderRetryAfter = "Retry-After"
)

// throttledBody is the fixed rejection payload.
var throttledBody = gin.H{"error": "rate limit exceeded"}

// Middleware returns a gin handler wiring the pre- and post-handling
// hooks around the handler chain. Throttled requests are answered with
// 429 and still pass through the post-handling bookkeeping.
func (o *Orchestrator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		clientKey := abuse.ClientKey(c.Request)

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		decision, err := o.PreHandle(c.Request.Context(), c.Request.URL.Path, clientKey)
		if o.metrics != nil {
			o.metrics.RecordDecision(string(decision))
		}

		if err != nil {
			c.Header(HeaderRetryAfter, "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, throttledBody)
		} else {
			c.Next()
		}

		// Prefer the router-resolved template; fall back to segment
		// normalization for unmatched paths.
		route := c.FullPath()
		if route == "" {
			route = RouteTemplate(c.Request.URL.Path)
		}

		o.PostHandle(c.Request.Context(), RequestRecord{
			Method:     c.Request.Method,
			Route:      route,
			Status:     c.Writer.Status(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientKey:  clientKey,
			ServerTag:  c.GetHeader(HeaderServerTag),
			RequestID:  requestID,
		})
	}
}
