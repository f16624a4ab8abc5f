package domain

import (
	"github.com/google/uuid"
)

// SettlementSource names the path that detected the payment.
type SettlementSource string

const (
	SettlementSourcePoll    SettlementSource = "POLL"
	SettlementSourceWebhook SettlementSource = "WEBHOOK"
	SettlementSourceManual  SettlementSource = "MANUAL"
)

// SettlementRequest asks Settlement to mark a wallet paid.
type SettlementRequest struct {
	WalletID      uuid.UUID
	TxHash        *string
	Confirmations int
	Source        SettlementSource
}

// StockShortfall records an item left unfulfilled for operator follow-up.
type StockShortfall struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Requested   int       `json:"requested"`
	Available   int       `json:"available"`
}

// SettlementResult reports what Settle changed.
// Settled is false when the wallet was already paid or unknown.
// SendEmail is true only when this call moved the order from PENDING to PAID.
type SettlementResult struct {
	Settled    bool             `json:"settled"`
	SendEmail  bool             `json:"send_email"`
	OrderID    uuid.UUID        `json:"order_id"`
	Shortfalls []StockShortfall `json:"shortfalls,omitempty"`
}
