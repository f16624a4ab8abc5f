package ports

import (
	"context"
	"time"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for deposit wallets.
// Methods accepting pgx.Tx run inside the settlement transaction.
type WalletRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	// ListUnpaidByChain returns up to limit unpaid wallets of PENDING orders,
	// least recently checked first, then oldest first.
	ListUnpaidByChain(ctx context.Context, chain domain.Chain, limit int) ([]domain.Wallet, error)
	// MarkChecked records that the wallets were polled, moving them to the back of the queue.
	MarkChecked(ctx context.Context, ids []uuid.UUID) error
	FindUnpaidByAddress(ctx context.Context, chain domain.Chain, address string) (*domain.Wallet, error)
	// MarkPaid flips paid=false to paid=true. It returns nil when no row changed.
	MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash *string, confirmations int) (*domain.Wallet, error)
	// RaiseConfirmations only ever moves the tracked count upward, and only while unpaid.
	RaiseConfirmations(ctx context.Context, id uuid.UUID, confirmations int) error
	CountUnpaidByChain(ctx context.Context) (map[domain.Chain]int64, error)
}

// OrderRepository defines persistence operations for orders and their items.
type OrderRepository interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	// TransitionStatus updates only when the current status equals from.
	TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error)
	ListItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.OrderItem, error)
	SetItemCodes(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, codes []string) error
	GetView(ctx context.Context, id uuid.UUID) (*domain.OrderView, error)
	// CancelStalePending cancels non-crypto PENDING orders created before cutoff.
	CancelStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ProductRepository defines persistence operations for product inventory.
type ProductRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Product, error)
	UpdateStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, stock []string) error
}

// CouponRepository defines persistence operations for coupons.
type CouponRepository interface {
	IncrementUsage(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// EmailLogRepository persists email delivery attempts.
type EmailLogRepository interface {
	Create(ctx context.Context, log *domain.EmailDeliveryLog) error
	Update(ctx context.Context, log *domain.EmailDeliveryLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
