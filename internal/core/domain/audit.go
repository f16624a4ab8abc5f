package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSettlement     AuditAction = "SETTLEMENT"
	AuditActionStockShortfall AuditAction = "STOCK_SHORTFALL"
	AuditActionOrderExpired   AuditAction = "ORDER_EXPIRED"
	AuditActionOpsReconcile   AuditAction = "OPS_RECONCILE"
	AuditActionOpsExpire      AuditAction = "OPS_EXPIRE"
	AuditActionOpsSettle      AuditAction = "OPS_SETTLE"
)

// AuditLog records a single audited action.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Actor        string      `json:"actor"`             // poll, webhook, operator subject
	Details      string      `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time   `json:"created_at"`
}
