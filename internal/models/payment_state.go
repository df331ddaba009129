package models

import (
	"fmt"
	"time"
)

type PaymentStep string

const (
	PaymentStepSelectMethod    PaymentStep = "select_method"
	PaymentStepAwaitingPayment PaymentStep = "awaiting_payment"
	PaymentStepSuccess         PaymentStep = "payment_success"
	PaymentStepFailed          PaymentStep = "payment_failed"
	PaymentStepCashSelected    PaymentStep = "cash_selected"
)

func (s PaymentStep) Validate() error {
	switch s {
	case PaymentStepSelectMethod, PaymentStepAwaitingPayment, PaymentStepSuccess,
		PaymentStepFailed, PaymentStepCashSelected:
		return nil
	default:
		return fmt.Errorf("unknown payment step %q", string(s))
	}
}

// Terminal reports whether no transition other than "order more" leaves the step.
func (s PaymentStep) Terminal() bool {
	switch s {
	case PaymentStepSuccess, PaymentStepFailed, PaymentStepCashSelected:
		return true
	case PaymentStepSelectMethod, PaymentStepAwaitingPayment:
		return false
	default:
		return false
	}
}

type PaymentMethod string

const (
	MethodOnline        PaymentMethod = "online"
	MethodCash          PaymentMethod = "cash"
	MethodCardAtCounter PaymentMethod = "card_at_counter"
)

// Label is the customer-facing name of the method.
func (m PaymentMethod) Label() string {
	switch m {
	case MethodOnline:
		return "Online"
	case MethodCash:
		return "Cash"
	case MethodCardAtCounter:
		return "Card at counter"
	default:
		return "Not selected"
	}
}

type Item struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// PaymentState is the per-session payment record. The zero value (no OrderID)
// means the session has no order awaiting payment.
type PaymentState struct {
	Step             PaymentStep   `json:"step,omitempty"`
	Method           PaymentMethod `json:"method,omitempty"`
	OrderID          string        `json:"order_id,omitempty"`
	DisplayID        string        `json:"display_id,omitempty"`
	Amount           float64       `json:"amount"`
	PaymentLink      string        `json:"payment_link,omitempty"`
	PaymentID        string        `json:"payment_id,omitempty"`
	Completed        bool          `json:"completed"`
	Items            []Item        `json:"items,omitempty"`
	OrderType        string        `json:"order_type,omitempty"`
	Subtotal         float64       `json:"subtotal"`
	PackagingCharges float64       `json:"packaging_charges"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Active reports whether an order is attached to the record.
func (s PaymentState) Active() bool {
	return s.OrderID != ""
}

// Settled reports an order that is paid or confirmed for payment at the counter.
// Only "order more" moves a session past a settled order.
func (s PaymentState) Settled() bool {
	return s.Step == PaymentStepSuccess || s.Step == PaymentStepCashSelected
}

// MoveTo changes the step and keeps Completed in line with it.
func (s *PaymentState) MoveTo(step PaymentStep, at time.Time) {
	s.Step = step
	s.Completed = step.Terminal()
	s.UpdatedAt = at
	if s.Completed {
		s.CompletedAt = &at
	} else {
		s.CompletedAt = nil
	}
}

// OrderNumber is what the customer sees on receipts.
func (s PaymentState) OrderNumber() string {
	if s.DisplayID != "" {
		return s.DisplayID
	}
	return s.OrderID
}
