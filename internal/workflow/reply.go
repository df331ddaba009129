// Package workflow holds the deterministic session state machines (auth,
// checkout, payment) and the interceptors that decide, per inbound message,
// whether a workflow handles it or the NL agent does.
package workflow

import (
	"context"
	"fmt"
)

// Quick-reply button values. Buttons are unambiguous, so they are matched
// before any free-text heuristic.
const (
	ButtonPayOnline      = "pay_online"
	ButtonPayCash        = "pay_cash"
	ButtonPayCardCounter = "pay_card_counter"
	ButtonViewReceipt    = "view_receipt"
	ButtonOrderMore      = "order_more"
	ButtonResendOTP      = "resend_otp"
	ButtonChangePhone    = "change_phone"
)

type QuickReply struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Reply is what a handler wants sent back. A nil *Reply means "not mine".
type Reply struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// Handler is the per-message contract shared by interceptors and workflows.
type Handler interface {
	Handle(ctx context.Context, sessionID, text string) (*Reply, error)
}

type HandlerFunc func(ctx context.Context, sessionID, text string) (*Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, sessionID, text string) (*Reply, error) {
	return f(ctx, sessionID, text)
}

var (
	methodButtons = []QuickReply{
		{Label: "Pay online", Value: ButtonPayOnline},
		{Label: "Cash", Value: ButtonPayCash},
		{Label: "Card at counter", Value: ButtonPayCardCounter},
	}
	postOrderButtons = []QuickReply{
		{Label: "View receipt", Value: ButtonViewReceipt},
		{Label: "Order more", Value: ButtonOrderMore},
	}
	otpButtons = []QuickReply{
		{Label: "Resend code", Value: ButtonResendOTP},
		{Label: "Change number", Value: ButtonChangePhone},
	}
)

const (
	msgTryAgain   = "Sorry, something went wrong on our side. Please try again in a moment."
	msgBusy       = "Still working on your previous message, please send that again in a second."
	msgEmptyCart  = "Your cart is empty. Tell me what you'd like to order and I'll add it."
	msgReceiptSMS = "Your receipt is on its way and will arrive via SMS shortly."
)

func formatAmount(amount float64) string {
	return fmt.Sprintf("₹%.2f", amount)
}
