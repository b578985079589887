package ctxmanage

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type key string

// TraceIdKey is the gin context key under which the per-request trace id is stored.
const TraceIdKey key = "traceId"

// GetTraceIdOfRequest returns the trace id set by the logger middleware,
// minting a fresh one if the middleware did not run.
func GetTraceIdOfRequest(c *gin.Context) string {
	traceId, ok := c.Request.Context().Value(TraceIdKey).(string)
	if !ok || traceId == "" {
		return uuid.NewString()
	}
	return traceId
}
