package workflow

import (
	"context"

	"order-bot/internal/models"
	"order-bot/pkg/logger"
)

// PaymentInterceptor claims messages only between "order placed" and
// "payment resolved", plus the post-order quick replies.
type PaymentInterceptor struct {
	payments *PaymentWorkflow
	logger   *logger.Logger
}

func NewPaymentInterceptor(payments *PaymentWorkflow, log *logger.Logger) *PaymentInterceptor {
	return &PaymentInterceptor{payments: payments, logger: log}
}

func (i *PaymentInterceptor) Handle(ctx context.Context, sessionID, text string) (*Reply, error) {
	state := i.payments.State(ctx, sessionID)

	if !state.Active() {
		// A receipt button tapped after the record expired or was reset.
		if normalizeText(text) == ButtonViewReceipt {
			return i.payments.Receipt(ctx, sessionID), nil
		}
		return nil, nil
	}

	// 1. Post-terminal quick replies.
	if state.Completed {
		intent, ok := MatchPostOrderIntent(text)
		if !ok {
			return nil, nil
		}
		switch intent {
		case IntentViewReceipt:
			return i.payments.Receipt(ctx, sessionID), nil
		case IntentOrderMore:
			return i.payments.OrderMore(ctx, sessionID)
		}
		return nil, nil
	}

	// 2. Method selection and status inquiries.
	switch state.Step {
	case models.PaymentStepSelectMethod:
		if _, ok := ClassifyMethod(text); ok {
			return i.payments.SelectMethod(ctx, sessionID, text)
		}
		if MentionsPayment(text) || IsStatusInquiry(text) {
			return methodPrompt(state, "Please choose how you'd like to pay."), nil
		}
		return nil, nil

	case models.PaymentStepAwaitingPayment:
		// The method is fixed once a link exists; "pay cash" is not a switch.
		if _, ok := ClassifyMethod(text); ok {
			i.logger.Infow("Method change refused while awaiting payment", "session_id", sessionID, "order_id", state.OrderID)
			return i.payments.Status(state), nil
		}
		if IsStatusInquiry(text) || MentionsPayment(text) {
			return i.payments.Status(state), nil
		}
		return nil, nil

	case models.PaymentStepSuccess, models.PaymentStepFailed, models.PaymentStepCashSelected:
		return nil, nil

	default:
		i.logger.Warnw("Unknown payment step", "session_id", sessionID, "step", state.Step)
		return nil, nil
	}
}
