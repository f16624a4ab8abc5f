package postgres

import (
	"context"
	"errors"
	"fmt"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, order_id, chain, address, expected_amount, paid, tx_hash,
	confirmations, withdrawn, deposit_index, created_at, updated_at`

// walletColumnsW is walletColumns qualified with the w alias for joins.
const walletColumnsW = `w.id, w.order_id, w.chain, w.address, w.expected_amount, w.paid, w.tx_hash,
	w.confirmations, w.withdrawn, w.deposit_index, w.created_at, w.updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var chain string
	if err := row.Scan(
		&w.ID, &w.OrderID, &chain, &w.Address, &w.ExpectedAmount, &w.Paid, &w.TxHash,
		&w.Confirmations, &w.Withdrawn, &w.DepositIndex, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	w.Chain = domain.Chain(chain)
	return w, nil
}

// GetByID fetches a wallet by its UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// ListUnpaidByChain returns unpaid wallets of one chain whose order still
// awaits payment. Never-checked wallets come first, then the least recently
// checked, so old abandoned checkouts cannot pin the window.
func (r *WalletRepo) ListUnpaidByChain(ctx context.Context, chain domain.Chain, limit int) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumnsW + ` FROM wallets w
		JOIN orders o ON o.id = w.order_id
		WHERE w.chain = $1 AND w.paid = FALSE AND o.status = 'PENDING'
		ORDER BY w.last_checked_at ASC NULLS FIRST, w.created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, string(chain), limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unpaid wallets: %w", err)
	}
	return wallets, nil
}

// FindUnpaidByAddress resolves the oldest unpaid wallet for an address.
// EVM addresses match regardless of case and 0x prefix.
func (r *WalletRepo) FindUnpaidByAddress(ctx context.Context, chain domain.Chain, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE chain = $1 AND paid = FALSE AND address = $2
		ORDER BY created_at ASC LIMIT 1`
	if chain.IsEVM() {
		query = `SELECT ` + walletColumns + ` FROM wallets
		WHERE chain = $1 AND paid = FALSE AND lower(regexp_replace(address, '^0[xX]', '')) = $2
		ORDER BY created_at ASC LIMIT 1`
		address = domain.NormalizeAddress(chain, address)
	}

	w, err := scanWallet(r.pool.QueryRow(ctx, query, string(chain), address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find unpaid wallet by address: %w", err)
	}
	return w, nil
}

// MarkPaid is the conditional paid flip. A nil wallet means another caller
// already settled it or the id is unknown.
func (r *WalletRepo) MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash *string, confirmations int) (*domain.Wallet, error) {
	query := `UPDATE wallets
		SET paid = TRUE, tx_hash = COALESCE($2, tx_hash),
			confirmations = GREATEST(confirmations, $3), updated_at = NOW()
		WHERE id = $1 AND paid = FALSE
		RETURNING ` + walletColumns

	w, err := scanWallet(tx.QueryRow(ctx, query, id, txHash, confirmations))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark wallet paid: %w", err)
	}
	return w, nil
}

// MarkChecked stamps the wallets as polled now.
func (r *WalletRepo) MarkChecked(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `UPDATE wallets SET last_checked_at = NOW() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark wallets checked: %w", err)
	}
	return nil
}

// RaiseConfirmations records a higher observed confirmation count on an unpaid wallet.
func (r *WalletRepo) RaiseConfirmations(ctx context.Context, id uuid.UUID, confirmations int) error {
	query := `UPDATE wallets SET confirmations = $2, updated_at = NOW()
		WHERE id = $1 AND paid = FALSE AND confirmations < $2`

	if _, err := r.pool.Exec(ctx, query, id, confirmations); err != nil {
		return fmt.Errorf("raise wallet confirmations: %w", err)
	}
	return nil
}

// CountUnpaidByChain returns the unpaid backlog per chain.
func (r *WalletRepo) CountUnpaidByChain(ctx context.Context) (map[domain.Chain]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT chain, COUNT(*) FROM wallets WHERE paid = FALSE GROUP BY chain`)
	if err != nil {
		return nil, fmt.Errorf("count unpaid wallets: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Chain]int64, len(domain.ReconcileChains))
	for _, c := range domain.ReconcileChains {
		counts[c] = 0
	}
	for rows.Next() {
		var chain string
		var n int64
		if err := rows.Scan(&chain, &n); err != nil {
			return nil, fmt.Errorf("scan unpaid count: %w", err)
		}
		counts[domain.Chain(chain)] = n
	}
	return counts, rows.Err()
}
