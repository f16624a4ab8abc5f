package middleware

import (
	"encoding/json"
	"net/http"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// AuditLog records successful operator writes. Routes are matched on their
// registered template so path parameters resolve to the resource ID.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		details, _ := json.Marshal(map[string]any{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			Actor:        c.GetString(CtxOperator),
			Details:      string(details),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch route {
	case "/api/v1/ops/reconcile":
		return domain.AuditActionOpsReconcile, "batch"
	case "/api/v1/ops/orders/expire":
		return domain.AuditActionOpsExpire, "order"
	case "/api/v1/ops/wallets/:id/settle":
		return domain.AuditActionOpsSettle, "wallet"
	}
	return "", ""
}
