package ports

import (
	"context"
	"math/big"
	"time"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
)

// --- Infrastructure Ports ---

// RateLimiter is the per-provider backoff guard shared by every caller in the process.
type RateLimiter interface {
	// Check returns *domain.RateLimitedError while the provider is in backoff.
	Check(ctx context.Context, provider domain.Provider) error
	// Backoff starts or extends the provider's cooldown. wait <= 0 applies the default.
	Backoff(ctx context.Context, provider domain.Provider, wait time.Duration) time.Duration
	Remaining(ctx context.Context, provider domain.Provider) time.Duration
}

// CooldownStore keeps the retry-not-before deadline per provider.
type CooldownStore interface {
	NotBefore(ctx context.Context, provider domain.Provider) (time.Time, error)
	// Extend moves the deadline to until if that is later than the current one.
	Extend(ctx context.Context, provider domain.Provider, until time.Time) error
}

// UTXOChainClient lists recent transactions for BTC/LTC/ETH addresses.
type UTXOChainClient interface {
	ListTransactions(ctx context.Context, chain domain.Chain, address string) ([]domain.ChainTx, error)
}

// SolanaChainClient reads Solana address history and balance.
type SolanaChainClient interface {
	ListSignatures(ctx context.Context, address string) ([]domain.SignatureStatus, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// EmailSender delivers a rendered email.
type EmailSender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
}

// WebhookDedupStore remembers processed webhook notices.
type WebhookDedupStore interface {
	// CheckAndSet returns true if key was not seen before.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Metrics receives pipeline observations.
type Metrics interface {
	ObserveWallet(chain domain.Chain, outcome domain.WalletOutcome)
	ObserveSettlement(source domain.SettlementSource, outcome string)
	ObserveRateLimited(provider domain.Provider)
	ObserveExpired(n int)
	ObserveBatch(d time.Duration)
}

// TokenService handles operator JWT tokens.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Issuer  string
}

// --- Service Ports (Business Logic) ---

// SettlementService is the single entrypoint that marks a wallet paid.
type SettlementService interface {
	Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error)
}

// ReconcilerService checks a batch of unpaid wallets against chain state.
type ReconcilerService interface {
	RunBatch(ctx context.Context, limit int) (*domain.ReconcileReport, error)
}

// ExpiryService cancels stale unpaid non-crypto orders.
type ExpiryService interface {
	ExpireStaleOrders(ctx context.Context) (int, error)
}

// WebhookIngestService turns provider webhooks into settlements.
type WebhookIngestService interface {
	Ingest(ctx context.Context, provider domain.Provider, chainHint string, body []byte) (*IngestReport, error)
}

// IngestReport summarises one webhook delivery.
type IngestReport struct {
	Notices               int `json:"notices"`
	Settled               int `json:"settled"`
	AlreadySettled        int `json:"already_settled"`
	Ignored               int `json:"ignored"`
	Underpaid             int `json:"underpaid"`
	AwaitingConfirmations int `json:"awaiting_confirmations"`
	Duplicates            int `json:"duplicates"`
	Errors                int `json:"errors"`
}

// NotificationService sends the order-completion email.
type NotificationService interface {
	SendOrderConfirmation(ctx context.Context, orderID uuid.UUID) error
}

// AuditService records audit entries (fire-and-forget).
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// ReportingService builds the operator snapshot.
type ReportingService interface {
	GetStats(ctx context.Context) (*domain.PipelineStats, error)
}
