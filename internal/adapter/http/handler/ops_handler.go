package handler

import (
	"mccapes-reconciler/internal/adapter/http/dto"
	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
	"mccapes-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OpsHandler serves the operator routes.
type OpsHandler struct {
	reportingSvc  ports.ReportingService
	reconcilerSvc ports.ReconcilerService
	expirySvc     ports.ExpiryService
	settlementSvc ports.SettlementService
	defaultLimit  int
}

// NewOpsHandler creates a new OpsHandler. defaultLimit is the batch size used
// when POST /reconcile carries no limit.
func NewOpsHandler(
	reportingSvc ports.ReportingService,
	reconcilerSvc ports.ReconcilerService,
	expirySvc ports.ExpiryService,
	settlementSvc ports.SettlementService,
	defaultLimit int,
) *OpsHandler {
	if defaultLimit <= 0 {
		defaultLimit = 24
	}
	return &OpsHandler{
		reportingSvc:  reportingSvc,
		reconcilerSvc: reconcilerSvc,
		expirySvc:     expirySvc,
		settlementSvc: settlementSvc,
		defaultLimit:  defaultLimit,
	}
}

// GetStats handles GET /api/v1/ops/stats.
func (h *OpsHandler) GetStats(c *gin.Context) {
	stats, err := h.reportingSvc.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewStatsResponse(stats))
}

// Reconcile handles POST /api/v1/ops/reconcile. The body is optional.
func (h *OpsHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.defaultLimit
	}

	report, err := h.reconcilerSvc.RunBatch(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewReconcileResponse(report))
}

// ExpireOrders handles POST /api/v1/ops/orders/expire.
func (h *OpsHandler) ExpireOrders(c *gin.Context) {
	n, err := h.expirySvc.ExpireStaleOrders(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ExpireResponse{Cancelled: n})
}

// SettleWallet handles POST /api/v1/ops/wallets/:id/settle.
func (h *OpsHandler) SettleWallet(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid wallet id"))
		return
	}

	var req dto.SettleWalletRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}
	dto.SanitizeStruct(&req)

	result, err := h.settlementSvc.Settle(c.Request.Context(), domain.SettlementRequest{
		WalletID:      walletID,
		TxHash:        req.TxHash,
		Confirmations: req.Confirmations,
		Source:        domain.SettlementSourceManual,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.SettleWalletResponse{
		WalletID:   walletID.String(),
		Settled:    result.Settled,
		Shortfalls: result.Shortfalls,
	}
	if result.OrderID != uuid.Nil {
		id := result.OrderID.String()
		resp.OrderID = &id
	}
	response.OK(c, resp)
}
