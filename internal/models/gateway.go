package models

import "fmt"

type PaymentOutcome string

const (
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
)

// GatewayEvent is a final payment outcome reported by the payment gateway.
type GatewayEvent struct {
	EventID   string         `json:"event_id,omitempty"`
	OrderID   string         `json:"order_id"`
	Outcome   PaymentOutcome `json:"outcome"`
	PaymentID string         `json:"payment_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (e GatewayEvent) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	switch e.Outcome {
	case OutcomeSucceeded, OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("unknown outcome %q", string(e.Outcome))
	}
}

type PaymentLinkRequest struct {
	SessionID string
	OrderID   string
	DisplayID string
	Amount    float64
	Items     []Item
}

type PaymentLink struct {
	ID  string
	URL string
}
