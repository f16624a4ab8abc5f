package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// CanTransitionTo reports whether moving from s to next is allowed.
// CANCELLED is only reachable from PENDING.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusCancelled
	case OrderStatusPaid:
		return next == OrderStatusDelivered
	}
	return false
}

// PaymentType is the checkout method the customer picked.
type PaymentType string

const (
	PaymentTypeCrypto PaymentType = "CRYPTO"
	PaymentTypeStripe PaymentType = "STRIPE"
	PaymentTypePayPal PaymentType = "PAYPAL"
)

// Order is a customer purchase.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Status        OrderStatus     `json:"status"`
	PaymentType   PaymentType     `json:"payment_type"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentFee    decimal.Decimal `json:"payment_fee"`
	CouponID      *uuid.UUID      `json:"coupon_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderItem is a line of an order. Codes is filled at settlement.
type OrderItem struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	ProductSlug  string          `json:"product_slug,omitempty"`
	ProductImage string          `json:"product_image,omitempty"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"` // unit price snapshot
	Codes        []string        `json:"codes"`
}

// LineTotal is price times quantity.
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Fulfilled reports whether every unit received a code.
func (i *OrderItem) Fulfilled() bool {
	return len(i.Codes) == i.Quantity
}

// OrderView is the order with its items, as needed by the completion email.
type OrderView struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}

// Subtotal sums the item lines.
func (v *OrderView) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for i := range v.Items {
		sum = sum.Add(v.Items[i].LineTotal())
	}
	return sum
}

// Product holds the inventory of unused codes, oldest first.
type Product struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	ImageURL string    `json:"image_url"`
	Stock    []string  `json:"-"`
}

// TakeCodes removes the first n codes. ok is false, and nothing changes,
// when fewer than n are available.
func (p *Product) TakeCodes(n int) (taken []string, ok bool) {
	if n < 0 || len(p.Stock) < n {
		return nil, false
	}
	taken = append([]string(nil), p.Stock[:n]...)
	p.Stock = append([]string(nil), p.Stock[n:]...)
	return taken, true
}
