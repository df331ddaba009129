package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-bot/internal/models"
	"order-bot/internal/session"
	"order-bot/pkg/logger"
)

var (
	// ErrPaymentInProgress refuses to replace an unfinished payment with a different order.
	ErrPaymentInProgress = errors.New("workflow: another order is awaiting payment")
	ErrNoActiveOrder     = errors.New("workflow: no order awaiting payment")
	ErrUnknownOrder      = errors.New("workflow: order is not attached to any session")
	// ErrOrderSettled refuses to reopen an order that is already paid or confirmed at the counter.
	ErrOrderSettled = errors.New("workflow: order is already settled")
)

// InitRequest carries the order context copied into a fresh PaymentState.
type InitRequest struct {
	OrderID          string
	DisplayID        string
	Amount           float64
	Items            []models.Item
	OrderType        string
	Subtotal         float64
	PackagingCharges float64
}

// GatewayResult describes what a webhook did to a session.
type GatewayResult struct {
	SessionID string
	Applied   bool
	Reply     *Reply
}

type PaymentOptions struct {
	Currency string
}

// PaymentWorkflow owns PaymentState from order placement to a terminal step.
type PaymentWorkflow struct {
	store    *session.Store[models.PaymentState]
	orders   *session.Store[string]
	gateway  PaymentGateway
	ledger   PaymentLedger
	locker   session.Locker
	currency string
	logger   *logger.Logger
	now      func() time.Time
}

// NewPaymentWorkflow wires the workflow. orders indexes order_id -> session_id
// so gateway webhooks can find their session; ledger may be nil.
func NewPaymentWorkflow(
	store *session.Store[models.PaymentState],
	orders *session.Store[string],
	gateway PaymentGateway,
	ledger PaymentLedger,
	locker session.Locker,
	opts PaymentOptions,
	log *logger.Logger,
) *PaymentWorkflow {
	if opts.Currency == "" {
		opts.Currency = "inr"
	}
	return &PaymentWorkflow{
		store:    store,
		orders:   orders,
		gateway:  gateway,
		ledger:   ledger,
		locker:   locker,
		currency: opts.Currency,
		logger:   log,
		now:      time.Now,
	}
}

func (w *PaymentWorkflow) State(ctx context.Context, sessionID string) models.PaymentState {
	return w.store.Get(ctx, sessionID)
}

// Init starts payment for a freshly placed order. Re-initialising with the same
// order is a no-op; an unfinished payment for a different order is refused, and
// a settled order is never reopened.
func (w *PaymentWorkflow) Init(ctx context.Context, sessionID string, req InitRequest) (models.PaymentState, error) {
	if req.OrderID == "" {
		return models.PaymentState{}, fmt.Errorf("init payment: %w", ErrNoActiveOrder)
	}

	existing := w.store.Get(ctx, sessionID)
	if existing.Active() && !existing.Completed {
		if existing.OrderID == req.OrderID {
			return existing, nil
		}
		return existing, ErrPaymentInProgress
	}
	if existing.OrderID == req.OrderID && existing.Settled() {
		return existing, ErrOrderSettled
	}
	if existing.Active() {
		// A finished order that was never reset with "order more".
		w.forgetOrder(ctx, existing.OrderID)
	}

	now := w.now()
	state := models.PaymentState{
		OrderID:          req.OrderID,
		DisplayID:        req.DisplayID,
		Amount:           req.Amount,
		Items:            req.Items,
		OrderType:        req.OrderType,
		Subtotal:         req.Subtotal,
		PackagingCharges: req.PackagingCharges,
		CreatedAt:        now,
	}
	state.MoveTo(models.PaymentStepSelectMethod, now)

	w.save(ctx, sessionID, state)
	if err := w.orders.Set(ctx, req.OrderID, sessionID); err != nil {
		w.logger.Warnw("Failed to index order for webhooks", "order_id", req.OrderID, "error", err)
	}

	w.logger.Infow("Payment initialized", "session_id", sessionID, "order_id", req.OrderID, "amount", req.Amount)
	return state, nil
}

// SelectMethod classifies input and applies the chosen method. Only legal
// while the session is in select_method; other steps get a status reply.
func (w *PaymentWorkflow) SelectMethod(ctx context.Context, sessionID, input string) (*Reply, error) {
	state := w.store.Get(ctx, sessionID)
	if !state.Active() {
		return nil, ErrNoActiveOrder
	}
	if state.Step != models.PaymentStepSelectMethod {
		return w.Status(state), nil
	}

	method, ok := ClassifyMethod(input)
	if !ok {
		return methodPrompt(state, "Sorry, I didn't catch how you'd like to pay."), nil
	}
	return w.applyMethod(ctx, sessionID, state, method)
}

func (w *PaymentWorkflow) applyMethod(ctx context.Context, sessionID string, state models.PaymentState, method models.PaymentMethod) (*Reply, error) {
	state.Method = method

	switch method {
	case models.MethodOnline:
		link, err := w.gateway.CreatePaymentLink(ctx, models.PaymentLinkRequest{
			SessionID: sessionID,
			OrderID:   state.OrderID,
			DisplayID: state.DisplayID,
			Amount:    state.Amount,
			Items:     state.Items,
		})
		if err != nil || link == nil || link.URL == "" {
			w.logger.Errorw("Failed to create payment link",
				"session_id", sessionID, "order_id", state.OrderID, "error", err)
			state.Error = "payment link could not be created"
			state.MoveTo(models.PaymentStepFailed, w.now())
			w.save(ctx, sessionID, state)
			w.record(ctx, sessionID, state, models.PaymentStatusFailed)
			return &Reply{
				Text: fmt.Sprintf("We couldn't start the online payment for order #%s. "+
					"Please check out again, or choose cash or card at the counter next time.", state.OrderNumber()),
				QuickReplies: []QuickReply{{Label: "Order more", Value: ButtonOrderMore}},
			}, nil
		}

		state.PaymentLink = link.URL
		state.Error = ""
		state.MoveTo(models.PaymentStepAwaitingPayment, w.now())
		w.save(ctx, sessionID, state)
		w.record(ctx, sessionID, state, models.PaymentStatusPending)

		w.logger.Infow("Awaiting online payment", "session_id", sessionID, "order_id", state.OrderID, "link_id", link.ID)
		return &Reply{Text: fmt.Sprintf("Here is your payment link for %s (order #%s):\n%s\nWe'll confirm here as soon as the payment goes through.",
			formatAmount(state.Amount), state.OrderNumber(), link.URL)}, nil

	case models.MethodCash, models.MethodCardAtCounter:
		state.PaymentLink = ""
		state.MoveTo(models.PaymentStepCashSelected, w.now())
		w.save(ctx, sessionID, state)
		w.record(ctx, sessionID, state, models.PaymentStatusCash)

		how := "in cash"
		if method == models.MethodCardAtCounter {
			how = "by card"
		}
		w.logger.Infow("Pay at counter selected", "session_id", sessionID, "order_id", state.OrderID, "method", method)
		return &Reply{
			Text: fmt.Sprintf("Order #%s is confirmed! Please pay %s %s at the counter.",
				state.OrderNumber(), formatAmount(state.Amount), how),
			QuickReplies: postOrderButtons,
		}, nil

	default:
		return nil, fmt.Errorf("unhandled payment method %q", method)
	}
}

// ApplyGatewayEvent consumes a final payment outcome from the gateway under the
// session lock. Redelivered or stale events leave the record untouched.
func (w *PaymentWorkflow) ApplyGatewayEvent(ctx context.Context, event models.GatewayEvent) (GatewayResult, error) {
	if err := event.Validate(); err != nil {
		return GatewayResult{}, fmt.Errorf("invalid gateway event: %w", err)
	}

	sessionID, found, err := w.orders.Load(ctx, event.OrderID)
	if err != nil {
		return GatewayResult{}, err
	}
	if !found || sessionID == "" {
		return GatewayResult{}, ErrUnknownOrder
	}

	unlock, err := w.locker.Lock(ctx, sessionID)
	if err != nil {
		return GatewayResult{SessionID: sessionID}, err
	}
	defer unlock()

	state, _, err := w.store.Load(ctx, sessionID)
	if err != nil {
		// Let the gateway redeliver rather than act on a default record.
		return GatewayResult{SessionID: sessionID}, err
	}
	result := GatewayResult{SessionID: sessionID}

	if state.OrderID != event.OrderID {
		w.logger.Infow("Ignoring gateway event for stale order",
			"session_id", sessionID, "event_order_id", event.OrderID, "current_order_id", state.OrderID)
		return result, nil
	}

	next, ok := nextStepForEvent(state, event.Outcome)
	if !ok {
		w.logger.Infow("Skipping duplicate payment webhook",
			"session_id", sessionID, "order_id", event.OrderID, "step", state.Step, "outcome", event.Outcome)
		return result, nil
	}

	switch next {
	case models.PaymentStepSuccess:
		state.PaymentID = event.PaymentID
		state.Error = ""
	case models.PaymentStepFailed:
		state.Error = event.Error
		if state.Error == "" {
			state.Error = "payment was not completed"
		}
	}
	state.MoveTo(next, w.now())

	if err := w.store.Set(ctx, sessionID, state); err != nil {
		return result, err
	}

	status := models.PaymentStatusSucceeded
	if next == models.PaymentStepFailed {
		status = models.PaymentStatusFailed
	}
	if w.ledger != nil {
		if err := w.ledger.UpdatePaymentStatus(ctx, state.OrderID, status, state.PaymentID); err != nil {
			w.logger.Warnw("Failed to update payment ledger", "order_id", state.OrderID, "error", err)
		}
	}

	w.logger.Infow("Payment outcome applied",
		"session_id", sessionID, "order_id", state.OrderID, "step", next, "event_id", event.EventID)

	result.Applied = true
	result.Reply = outcomeReply(state)
	return result, nil
}

// nextStepForEvent is the webhook transition table. Terminal records only move
// from payment_failed to payment_success when the customer retried on an issued link.
func nextStepForEvent(state models.PaymentState, outcome models.PaymentOutcome) (models.PaymentStep, bool) {
	switch state.Step {
	case models.PaymentStepAwaitingPayment:
		switch outcome {
		case models.OutcomeSucceeded:
			return models.PaymentStepSuccess, true
		case models.OutcomeFailed:
			return models.PaymentStepFailed, true
		}
	case models.PaymentStepFailed:
		if outcome == models.OutcomeSucceeded && state.Method == models.MethodOnline && state.PaymentLink != "" {
			return models.PaymentStepSuccess, true
		}
	case models.PaymentStepSelectMethod, models.PaymentStepSuccess, models.PaymentStepCashSelected:
	}
	return "", false
}

// OrderMore clears the finished payment so a new order cycle can start.
// Cart and auth records are untouched.
func (w *PaymentWorkflow) OrderMore(ctx context.Context, sessionID string) (*Reply, error) {
	state := w.store.Get(ctx, sessionID)
	if state.Active() && !state.Completed {
		return w.Status(state), nil
	}

	if err := w.store.Clear(ctx, sessionID); err != nil {
		w.logger.Warnw("Failed to clear payment state", "session_id", sessionID, "error", err)
	}
	if state.Active() {
		w.forgetOrder(ctx, state.OrderID)
	}

	w.logger.Infow("Payment state cleared for a new order", "session_id", sessionID, "previous_order_id", state.OrderID)
	return &Reply{Text: "Sure! What would you like to order next?"}, nil
}

// Receipt renders the stored order. It never changes state.
func (w *PaymentWorkflow) Receipt(ctx context.Context, sessionID string) *Reply {
	state := w.store.Get(ctx, sessionID)
	if state.OrderID == "" {
		return &Reply{Text: msgReceiptSMS}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Receipt for order #%s\n", state.OrderNumber())
	for _, it := range state.Items {
		fmt.Fprintf(&b, "%d x %s  %s\n", it.Quantity, it.Name, formatAmount(it.Price*float64(it.Quantity)))
	}
	if state.PackagingCharges > 0 {
		fmt.Fprintf(&b, "Subtotal: %s\nPackaging: %s\n", formatAmount(state.Subtotal), formatAmount(state.PackagingCharges))
	}
	fmt.Fprintf(&b, "Total: %s\n", formatAmount(state.Amount))
	fmt.Fprintf(&b, "Payment: %s", state.Method.Label())
	switch state.Step {
	case models.PaymentStepSuccess:
		b.WriteString(" (paid)")
	case models.PaymentStepCashSelected:
		b.WriteString(" (due at counter)")
	case models.PaymentStepFailed:
		b.WriteString(" (not completed)")
	case models.PaymentStepSelectMethod, models.PaymentStepAwaitingPayment:
		b.WriteString(" (pending)")
	}
	if state.PaymentID != "" {
		fmt.Fprintf(&b, "\nPayment ID: %s", state.PaymentID)
	}

	reply := &Reply{Text: b.String()}
	if state.Completed {
		reply.QuickReplies = []QuickReply{{Label: "Order more", Value: ButtonOrderMore}}
	}
	return reply
}

// Status answers "where is my payment" without changing anything.
func (w *PaymentWorkflow) Status(state models.PaymentState) *Reply {
	switch state.Step {
	case models.PaymentStepSelectMethod:
		return methodPrompt(state, fmt.Sprintf("Order #%s is waiting for payment.", state.OrderNumber()))
	case models.PaymentStepAwaitingPayment:
		return &Reply{Text: fmt.Sprintf("Your online payment of %s for order #%s hasn't been confirmed yet. "+
			"You can complete it here:\n%s", formatAmount(state.Amount), state.OrderNumber(), state.PaymentLink)}
	case models.PaymentStepSuccess, models.PaymentStepFailed, models.PaymentStepCashSelected:
		return outcomeReply(state)
	default:
		return &Reply{Text: msgTryAgain}
	}
}

func outcomeReply(state models.PaymentState) *Reply {
	switch state.Step {
	case models.PaymentStepSuccess:
		return &Reply{
			Text:         fmt.Sprintf("Payment received! Order #%s is confirmed.", state.OrderNumber()),
			QuickReplies: postOrderButtons,
		}
	case models.PaymentStepFailed:
		return &Reply{
			Text: fmt.Sprintf("The payment for order #%s didn't go through. No money was taken; "+
				"please check out again to retry.", state.OrderNumber()),
			QuickReplies: []QuickReply{{Label: "Order more", Value: ButtonOrderMore}},
		}
	case models.PaymentStepCashSelected:
		return &Reply{
			Text:         fmt.Sprintf("Order #%s is confirmed. Please pay %s at the counter.", state.OrderNumber(), formatAmount(state.Amount)),
			QuickReplies: postOrderButtons,
		}
	default:
		return &Reply{Text: msgTryAgain}
	}
}

func methodPrompt(state models.PaymentState, lead string) *Reply {
	return &Reply{
		Text:         fmt.Sprintf("%s\nTotal: %s. How would you like to pay?", lead, formatAmount(state.Amount)),
		QuickReplies: methodButtons,
	}
}

func (w *PaymentWorkflow) save(ctx context.Context, sessionID string, state models.PaymentState) {
	if err := w.store.Set(ctx, sessionID, state); err != nil {
		w.logger.Warnw("Failed to persist payment state", "session_id", sessionID, "step", state.Step, "error", err)
	}
}

func (w *PaymentWorkflow) forgetOrder(ctx context.Context, orderID string) {
	if err := w.orders.Clear(ctx, orderID); err != nil {
		w.logger.Warnw("Failed to drop order index", "order_id", orderID, "error", err)
	}
}

func (w *PaymentWorkflow) record(ctx context.Context, sessionID string, state models.PaymentState, status string) {
	if w.ledger == nil {
		return
	}
	rec := &models.PaymentRecord{
		OrderID:   state.OrderID,
		SessionID: sessionID,
		Method:    state.Method,
		Amount:    state.Amount,
		Currency:  w.currency,
		Status:    status,
	}
	if err := w.ledger.RecordPayment(ctx, rec); err != nil {
		w.logger.Warnw("Failed to record payment", "order_id", state.OrderID, "error", err)
	}
}
