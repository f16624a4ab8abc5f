package domain

import (
	"time"
)

// WalletOutcome is the result of checking one wallet in a batch.
type WalletOutcome string

const (
	OutcomeSettled               WalletOutcome = "settled"
	OutcomeAlreadySettled        WalletOutcome = "already_settled"
	OutcomePending               WalletOutcome = "pending"
	OutcomeAwaitingConfirmations WalletOutcome = "awaiting_confirmations"
	OutcomeRateLimited           WalletOutcome = "rate_limited"
	OutcomeMalformed             WalletOutcome = "malformed_amount"
	OutcomeError                 WalletOutcome = "error"
)

// ReconcileReport summarises one batch.
type ReconcileReport struct {
	Checked               int           `json:"checked"`
	Settled               int           `json:"settled"`
	AlreadySettled        int           `json:"already_settled"`
	Pending               int           `json:"pending"`
	AwaitingConfirmations int           `json:"awaiting_confirmations"`
	RateLimited           int           `json:"rate_limited"`
	Malformed             int           `json:"malformed"`
	Errors                int           `json:"errors"`
	PerChain              map[Chain]int `json:"per_chain"`
	Duration              time.Duration `json:"duration"`
}

// NewReconcileReport returns an empty report.
func NewReconcileReport() *ReconcileReport {
	return &ReconcileReport{PerChain: make(map[Chain]int)}
}

// Record counts one wallet outcome.
func (r *ReconcileReport) Record(c Chain, o WalletOutcome) {
	r.Checked++
	r.PerChain[c]++
	switch o {
	case OutcomeSettled:
		r.Settled++
	case OutcomeAlreadySettled:
		r.AlreadySettled++
	case OutcomePending:
		r.Pending++
	case OutcomeAwaitingConfirmations:
		r.AwaitingConfirmations++
	case OutcomeRateLimited:
		r.RateLimited++
	case OutcomeMalformed:
		r.Malformed++
	case OutcomeError:
		r.Errors++
	}
}

// PipelineStats is the operator snapshot of the pipeline.
type PipelineStats struct {
	UnpaidWallets     map[Chain]int64            `json:"unpaid_wallets"`
	ProviderCooldowns map[Provider]time.Duration `json:"provider_cooldowns"`
}
