package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"order-bot/internal/models"
	"order-bot/pkg/logger"
)

// maxSettledReplays bounds how many already-paid orders one cart snapshot may
// skip past when the same cart is ordered again.
const maxSettledReplays = 32

const msgOrderMoreFirst = "Tap \"Order more\" to start a new order."

// checkoutNamespace scopes the UUIDv5 idempotency keys handed to order placement.
var checkoutNamespace = uuid.MustParse("6f1c2a0e-4b7d-5e39-9a51-2d8c7b4e0f13")

// CheckoutWorkflow turns "checkout" into a placed order plus an initialised payment.
type CheckoutWorkflow struct {
	carts            CartReader
	orders           OrderPlacer
	payments         *PaymentWorkflow
	defaultOrderType string
	logger           *logger.Logger
}

func NewCheckoutWorkflow(carts CartReader, orders OrderPlacer, payments *PaymentWorkflow, defaultOrderType string, log *logger.Logger) *CheckoutWorkflow {
	if defaultOrderType == "" {
		defaultOrderType = "dine_in"
	}
	return &CheckoutWorkflow{
		carts:            carts,
		orders:           orders,
		payments:         payments,
		defaultOrderType: defaultOrderType,
		logger:           log,
	}
}

// Handle implements Handler so the workflow can sit in the pipeline as the
// checkout interceptor.
func (w *CheckoutWorkflow) Handle(ctx context.Context, sessionID, text string) (*Reply, error) {
	return w.HandleMessage(ctx, sessionID, text)
}

// HandleMessage returns nil unless text is a plain checkout request. A request
// that still adds items is left to the NL agent, which checks out itself once
// the items are resolved.
func (w *CheckoutWorkflow) HandleMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	if !IsCheckoutRequest(text) {
		return nil, nil
	}
	if IsAddItemRequest(text) {
		w.logger.Debugw("Checkout deferred, message still adds items", "session_id", sessionID)
		return nil, nil
	}
	return w.PlaceOrder(ctx, sessionID, ParseOrderType(text, w.defaultOrderType))
}

// PlaceOrder snapshots the cart, places the order and initialises payment
// before returning, so callers never see one without the other.
func (w *CheckoutWorkflow) PlaceOrder(ctx context.Context, sessionID, orderType string) (*Reply, error) {
	current := w.payments.State(ctx, sessionID)
	if current.Active() && !current.Completed {
		w.logger.Infow("Checkout while an order awaits payment", "session_id", sessionID, "order_id", current.OrderID)
		return w.payments.Status(current), nil
	}
	if current.Settled() {
		w.logger.Infow("Checkout after a settled order", "session_id", sessionID, "order_id", current.OrderID)
		return settledReply(w.payments.Status(current)), nil
	}

	cart, err := w.carts.GetCartSummary(ctx, sessionID)
	if err != nil {
		w.logger.Errorw("Failed to read cart", "session_id", sessionID, "error", err)
		return &Reply{Text: msgTryAgain}, nil
	}
	if cart.Empty() {
		return &Reply{Text: msgEmptyCart}, nil
	}

	items := cart.Snapshot()
	amount := cart.Total()

	order, err := w.placeUnsettled(ctx, models.OrderRequest{
		SessionID:      sessionID,
		OrderType:      orderType,
		IdempotencyKey: IdempotencyKey(sessionID, cart),
		Items:          items,
		Amount:         amount,
	})
	if err != nil {
		w.logger.Errorw("Failed to place order", "session_id", sessionID, "error", err)
		return &Reply{Text: msgTryAgain}, nil
	}
	if order.Amount != 0 && order.Amount != amount {
		w.logger.Warnw("Order amount differs from cart total",
			"order_id", order.ID, "order_amount", order.Amount, "cart_total", amount)
	}

	state, err := w.payments.Init(ctx, sessionID, InitRequest{
		OrderID:          order.ID,
		DisplayID:        order.DisplayID,
		Amount:           amount,
		Items:            items,
		OrderType:        orderType,
		Subtotal:         cart.Subtotal,
		PackagingCharges: cart.PackagingCharges,
	})
	if errors.Is(err, ErrPaymentInProgress) {
		return w.payments.Status(state), nil
	}
	if errors.Is(err, ErrOrderSettled) {
		return settledReply(w.payments.Status(state)), nil
	}
	if err != nil {
		w.logger.Errorw("Failed to initialize payment", "session_id", sessionID, "order_id", order.ID, "error", err)
		return &Reply{Text: msgTryAgain}, nil
	}

	w.logger.Infow("Order placed", "session_id", sessionID, "order_id", order.ID, "amount", amount, "order_type", orderType)
	return methodPrompt(state, orderSummary(state)), nil
}

// placeUnsettled places req and, while the key resolves to an order that was
// already paid, moves on to a key derived from that order. A repeated cart
// after "order more" thus becomes a new order, while a retried placement of an
// unpaid cart still collapses onto the same one.
func (w *CheckoutWorkflow) placeUnsettled(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	for i := 0; i <= maxSettledReplays; i++ {
		order, err := w.orders.PlaceOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		if !order.Settled {
			return order, nil
		}
		w.logger.Debugw("Idempotency key maps to a settled order", "session_id", req.SessionID, "order_id", order.ID)
		req.IdempotencyKey = reorderKey(req.IdempotencyKey, order.ID)
	}
	return nil, fmt.Errorf("cart matches more than %d settled orders", maxSettledReplays)
}

func reorderKey(key, settledOrderID string) string {
	return uuid.NewSHA1(checkoutNamespace, []byte(key+"|after|"+settledOrderID)).String()
}

func settledReply(status *Reply) *Reply {
	reply := *status
	reply.Text = status.Text + "\n" + msgOrderMoreFirst
	return &reply
}

// IdempotencyKey is stable for one session and one cart snapshot, so a
// double-submitted checkout maps to the same order.
func IdempotencyKey(sessionID string, cart models.CartSummary) string {
	var b strings.Builder
	b.WriteString(sessionID)
	fmt.Fprintf(&b, "|%s|%.2f|%.2f", cart.UpdatedAt.UTC().Format(time.RFC3339Nano), cart.Subtotal, cart.PackagingCharges)
	for _, it := range cart.Items {
		fmt.Fprintf(&b, "|%s:%d:%.2f", it.Name, it.Quantity, it.Price)
	}
	return uuid.NewSHA1(checkoutNamespace, []byte(b.String())).String()
}

func orderSummary(state models.PaymentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s placed:\n", state.OrderNumber())
	for _, it := range state.Items {
		fmt.Fprintf(&b, "%d x %s\n", it.Quantity, it.Name)
	}
	if state.PackagingCharges > 0 {
		fmt.Fprintf(&b, "Packaging: %s", formatAmount(state.PackagingCharges))
	}
	return strings.TrimRight(b.String(), "\n")
}
