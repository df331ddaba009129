package workflow

import (
	"context"

	"order-bot/internal/models"
)

// OTPService sends and checks one-time codes for a phone number.
type OTPService interface {
	Send(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) (bool, error)
}

// UserDirectory returns (nil, nil) from FindUserByPhone when nobody has the number.
type UserDirectory interface {
	FindUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, phone, name string) (*models.User, error)
}

type CartReader interface {
	GetCartSummary(ctx context.Context, sessionID string) (models.CartSummary, error)
}

// OrderPlacer must return the same order for a repeated IdempotencyKey.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
}

type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req models.PaymentLinkRequest) (*models.PaymentLink, error)
}

// PaymentLedger keeps an audit trail of payments. Failures never block a transition.
type PaymentLedger interface {
	RecordPayment(ctx context.Context, rec *models.PaymentRecord) error
	UpdatePaymentStatus(ctx context.Context, orderID, status, paymentID string) error
}

// Agent is the open-ended NL agent that gets every message no workflow claims.
type Agent interface {
	Reply(ctx context.Context, sessionID, text string) (string, error)
}
