package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"order-bot/internal/config"
	"order-bot/internal/models"
)

const (
	metaOrderID   = "order_id"
	metaSessionID = "session_id"
)

// StripeClient issues Checkout Sessions as payment links and turns their
// webhooks into gateway events.
type StripeClient struct {
	secretKey     string
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	newSession    func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		currency:      cfg.Currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		newSession:    session.New,
	}
}

func (s *StripeClient) CreatePaymentLink(ctx context.Context, req models.PaymentLinkRequest) (*models.PaymentLink, error) {
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := s.checkoutParams(req)
	params.Context = ctx

	sess, err := s.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &models.PaymentLink{ID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeClient) checkoutParams(req models.PaymentLinkRequest) *stripe.CheckoutSessionParams {
	var itemsTotal int64
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items)+1)
	for _, it := range req.Items {
		unit := toMinorUnits(it.Price)
		itemsTotal += unit * int64(it.Quantity)
		lineItems = append(lineItems, s.lineItem(it.Name, unit, int64(it.Quantity)))
	}
	// Packaging and anything else the cart adds on top of the items.
	if extra := toMinorUnits(req.Amount) - itemsTotal; extra > 0 || len(lineItems) == 0 {
		lineItems = append(lineItems, s.lineItem("Packaging & charges", extra, 1))
	}

	orderNumber := req.DisplayID
	if orderNumber == "" {
		orderNumber = req.OrderID
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems:         lineItems,
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String("Order #" + orderNumber),
			Metadata: map[string]string{
				metaOrderID:   req.OrderID,
				metaSessionID: req.SessionID,
			},
		},
	}
	params.AddMetadata(metaOrderID, req.OrderID)
	params.AddMetadata(metaSessionID, req.SessionID)
	params.SetIdempotencyKey("payment-link-" + req.OrderID)
	return params
}

func (s *StripeClient) lineItem(name string, unitAmount, quantity int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(s.currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(unitAmount),
		},
		Quantity: stripe.Int64(quantity),
	}
}

func (s *StripeClient) VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret is not configured")
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

// EventFromStripe maps a verified Stripe event to a gateway event. ok is false
// for event types that carry no final payment outcome.
func EventFromStripe(event stripe.Event) (models.GatewayEvent, bool, error) {
	if event.Data == nil {
		return models.GatewayEvent{}, false, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return models.GatewayEvent{}, false, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		// Delayed methods complete the session before the money arrives.
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return models.GatewayEvent{}, false, nil
		}
		return models.GatewayEvent{
			EventID:   event.ID,
			OrderID:   sessionOrderID(&cs),
			Outcome:   models.OutcomeSucceeded,
			PaymentID: sessionPaymentID(&cs),
		}, true, nil

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return models.GatewayEvent{}, false, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		reason := "payment link expired"
		if event.Type == "checkout.session.async_payment_failed" {
			reason = "payment failed"
		}
		return models.GatewayEvent{
			EventID:   event.ID,
			OrderID:   sessionOrderID(&cs),
			Outcome:   models.OutcomeFailed,
			PaymentID: sessionPaymentID(&cs),
			Error:     reason,
		}, true, nil

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return models.GatewayEvent{}, false, fmt.Errorf("failed to parse payment intent: %w", err)
		}
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return models.GatewayEvent{
			EventID:   event.ID,
			OrderID:   pi.Metadata[metaOrderID],
			Outcome:   models.OutcomeFailed,
			PaymentID: pi.ID,
			Error:     reason,
		}, true, nil

	default:
		return models.GatewayEvent{}, false, nil
	}
}

func sessionOrderID(cs *stripe.CheckoutSession) string {
	if id := cs.Metadata[metaOrderID]; id != "" {
		return id
	}
	return cs.ClientReferenceID
}

func sessionPaymentID(cs *stripe.CheckoutSession) string {
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		return cs.PaymentIntent.ID
	}
	return cs.ID
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
