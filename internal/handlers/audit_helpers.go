package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"im-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if userID := c.GetString("userID"); userID != "" {
		return userID
	}
	return c.GetHeader("X-User-ID")
}

// emitAudit stamps rec with the request and caller ids and publishes it.
func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, rec telemetry.Record) {
	if emitter == nil {
		return
	}
	rec.RequestID = requestIDFromContext(c)
	rec.UserID = userIDFromContext(c)
	emitter.Emit(c.Request.Context(), rec)
}
