package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"im-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints onto routes.
func RegisterDebugRoutes(routes gin.IRoutes, emitter *telemetry.AuditEmitter, presence OnlineLister, enabled bool) {
	if !enabled {
		return
	}

	routes.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, telemetry.Record{Action: "debug.audit_test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": len(presence.UserIDs())})
	})
}
