package dto

import (
	"mccapes-reconciler/internal/core/domain"
)

// ReconcileRequest is the optional body for POST /api/v1/ops/reconcile.
type ReconcileRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=500"`
}

// SettleWalletRequest is the body for operator-confirmed settlement.
type SettleWalletRequest struct {
	TxHash        *string `json:"tx_hash,omitempty" binding:"omitempty,max=128,safe_id"`
	Confirmations int     `json:"confirmations" binding:"omitempty,min=0,max=1000"`
}

// StatsResponse is the operator snapshot.
type StatsResponse struct {
	UnpaidWallets     map[string]int64 `json:"unpaid_wallets"`
	UnpaidTotal       int64            `json:"unpaid_total"`
	ProviderCooldowns map[string]int64 `json:"provider_cooldown_seconds"`
}

// ReconcileResponse reports one operator-triggered batch.
type ReconcileResponse struct {
	Checked               int            `json:"checked"`
	Settled               int            `json:"settled"`
	AlreadySettled        int            `json:"already_settled"`
	Pending               int            `json:"pending"`
	AwaitingConfirmations int            `json:"awaiting_confirmations"`
	RateLimited           int            `json:"rate_limited"`
	Malformed             int            `json:"malformed"`
	Errors                int            `json:"errors"`
	PerChain              map[string]int `json:"per_chain"`
	DurationMs            int64          `json:"duration_ms"`
}

// ExpireResponse reports how many orders were cancelled.
type ExpireResponse struct {
	Cancelled int `json:"cancelled"`
}

// SettleWalletResponse reports the outcome of a manual settlement.
type SettleWalletResponse struct {
	WalletID   string                  `json:"wallet_id"`
	Settled    bool                    `json:"settled"`
	OrderID    *string                 `json:"order_id,omitempty"`
	Shortfalls []domain.StockShortfall `json:"shortfalls,omitempty"`
}

// NewStatsResponse flattens pipeline stats for JSON.
func NewStatsResponse(s *domain.PipelineStats) StatsResponse {
	out := StatsResponse{
		UnpaidWallets:     make(map[string]int64, len(s.UnpaidWallets)),
		ProviderCooldowns: make(map[string]int64, len(s.ProviderCooldowns)),
	}
	for c, n := range s.UnpaidWallets {
		out.UnpaidWallets[string(c)] = n
		out.UnpaidTotal += n
	}
	for p, d := range s.ProviderCooldowns {
		out.ProviderCooldowns[string(p)] = int64(d.Seconds() + 0.999)
	}
	return out
}

// NewReconcileResponse converts a batch report.
func NewReconcileResponse(r *domain.ReconcileReport) ReconcileResponse {
	perChain := make(map[string]int, len(r.PerChain))
	for c, n := range r.PerChain {
		perChain[string(c)] = n
	}
	return ReconcileResponse{
		Checked:               r.Checked,
		Settled:               r.Settled,
		AlreadySettled:        r.AlreadySettled,
		Pending:               r.Pending,
		AwaitingConfirmations: r.AwaitingConfirmations,
		RateLimited:           r.RateLimited,
		Malformed:             r.Malformed,
		Errors:                r.Errors,
		PerChain:              perChain,
		DurationMs:            r.Duration.Milliseconds(),
	}
}
