package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailMessage is a rendered outbound email.
type EmailMessage struct {
	ToAddress string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// EmailStatus represents the delivery state of an email.
type EmailStatus string

const (
	EmailStatusPending   EmailStatus = "PENDING"
	EmailStatusDelivered EmailStatus = "DELIVERED"
	EmailStatusFailed    EmailStatus = "FAILED"
)

// EmailDeliveryLog tracks delivery attempts of an order-completion email.
type EmailDeliveryLog struct {
	ID        uuid.UUID   `json:"id"`
	OrderID   uuid.UUID   `json:"order_id"`
	Recipient string      `json:"recipient"`
	Subject   string      `json:"subject"`
	Status    EmailStatus `json:"status"`
	Attempt   int         `json:"attempt"`
	LastError *string     `json:"last_error"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
