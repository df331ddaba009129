// internal/models/user.go
package models

import (
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderRequest is what checkout hands to the order-placement collaborator.
// IdempotencyKey makes a retried placement of the same cart return the same order.
type OrderRequest struct {
	SessionID      string  `json:"session_id"`
	OrderType      string  `json:"order_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Items          []Item  `json:"items"`
	Amount         float64 `json:"amount"`
}

// Order is a placed order. Settled is true when the ledger already holds a
// successful or pay-at-counter payment for it.
type Order struct {
	ID        string    `json:"order_id"`
	DisplayID string    `json:"display_id"`
	Amount    float64   `json:"amount"`
	Settled   bool      `json:"settled"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentRecord is the audit row kept alongside the session state.
type PaymentRecord struct {
	ID        int64         `json:"id"`
	OrderID   string        `json:"order_id"`
	SessionID string        `json:"session_id"`
	Method    PaymentMethod `json:"method"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	PaymentID string        `json:"payment_id"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCash      = "pay_at_counter"
)
