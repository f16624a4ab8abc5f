package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Wallet is a per-order deposit address awaiting payment on one chain.
// Once Paid is true it never reverts.
type Wallet struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	Chain          Chain     `json:"chain"`
	Address        string    `json:"address"`
	ExpectedAmount string    `json:"expected_amount"` // human units, as written by checkout
	Paid           bool      `json:"paid"`
	TxHash         *string   `json:"tx_hash,omitempty"`
	Confirmations  int       `json:"confirmations"`
	Withdrawn      bool      `json:"withdrawn"`
	DepositIndex   int       `json:"deposit_index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExpectedUnits returns the expected amount in base units.
func (w *Wallet) ExpectedUnits() (*big.Int, error) {
	return ToBaseUnits(w.Chain, w.ExpectedAmount)
}
