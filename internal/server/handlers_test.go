package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"order-bot/internal/models"
	"order-bot/internal/session"
	"order-bot/internal/workflow"
	"order-bot/pkg/logger"
)

// ---- mocks ----

type mockPayments struct {
	events []models.GatewayEvent
	result workflow.GatewayResult
	err    error
}

func (m *mockPayments) ApplyGatewayEvent(_ context.Context, event models.GatewayEvent) (workflow.GatewayResult, error) {
	m.events = append(m.events, event)
	return m.result, m.err
}

type mockVerifier struct {
	event stripe.Event
	err   error
}

func (m *mockVerifier) VerifyWebhookSignature([]byte, string) (stripe.Event, error) {
	return m.event, m.err
}

type mockNotifier struct {
	sessions []string
	replies  []*workflow.Reply
}

func (m *mockNotifier) Notify(_ context.Context, sessionID string, reply *workflow.Reply) error {
	m.sessions = append(m.sessions, sessionID)
	m.replies = append(m.replies, reply)
	return nil
}

// ---- helpers ----

func setupServer(payments PaymentEvents, verifier WebhookVerifier, notifier Notifier, secret string) http.Handler {
	gin.SetMode(gin.TestMode)
	s := NewServer(Options{Port: "0", WebhookSecret: secret}, payments, verifier, notifier, logger.NewNop())
	return s.Handler()
}

func post(t *testing.T, h http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func status(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["status"]
}

// ---- tests ----

func TestHealth(t *testing.T) {
	h := setupServer(&mockPayments{}, nil, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaymentWebhook_Applied(t *testing.T) {
	reply := &workflow.Reply{Text: "Payment received!"}
	payments := &mockPayments{result: workflow.GatewayResult{SessionID: "s1", Applied: true, Reply: reply}}
	notifier := &mockNotifier{}
	h := setupServer(payments, nil, notifier, "shh")

	w := post(t, h, "/webhook/payment",
		models.GatewayEvent{OrderID: "ord-1", Outcome: models.OutcomeSucceeded, PaymentID: "pi_1"},
		map[string]string{secretHeader: "shh"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", status(t, w))
	require.Len(t, payments.events, 1)
	assert.Equal(t, "pi_1", payments.events[0].PaymentID)
	assert.Equal(t, []string{"s1"}, notifier.sessions)
	assert.Same(t, reply, notifier.replies[0])
}

func TestPaymentWebhook_Duplicate(t *testing.T) {
	payments := &mockPayments{result: workflow.GatewayResult{SessionID: "s1"}}
	notifier := &mockNotifier{}
	h := setupServer(payments, nil, notifier, "")

	w := post(t, h, "/webhook/payment", models.GatewayEvent{OrderID: "ord-1", Outcome: models.OutcomeSucceeded}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", status(t, w))
	assert.Empty(t, notifier.sessions)
}

func TestPaymentWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		headers map[string]string
		code    int
	}{
		{"wrong secret", models.GatewayEvent{OrderID: "ord-1", Outcome: models.OutcomeSucceeded}, map[string]string{secretHeader: "nope"}, http.StatusUnauthorized},
		{"missing secret", models.GatewayEvent{OrderID: "ord-1", Outcome: models.OutcomeSucceeded}, nil, http.StatusUnauthorized},
		{"malformed json", "{", map[string]string{secretHeader: "shh"}, http.StatusBadRequest},
		{"unknown outcome", models.GatewayEvent{OrderID: "ord-1", Outcome: "refunded"}, map[string]string{secretHeader: "shh"}, http.StatusBadRequest},
		{"missing order", models.GatewayEvent{Outcome: models.OutcomeFailed}, map[string]string{secretHeader: "shh"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPayments{}
			h := setupServer(payments, nil, nil, "shh")

			w := post(t, h, "/webhook/payment", tt.body, tt.headers)
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, payments.events)
		})
	}
}

func TestPaymentWebhook_WorkflowErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown order is acknowledged", workflow.ErrUnknownOrder, http.StatusOK},
		{"busy session is retried", session.ErrLockTimeout, http.StatusServiceUnavailable},
		{"store failure is retried", errors.New("redis down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupServer(&mockPayments{err: tt.err}, nil, nil, "")
			w := post(t, h, "/webhook/payment", models.GatewayEvent{OrderID: "ord-1", Outcome: models.OutcomeFailed}, nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestStripeWebhook(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id": "cs_1", "payment_status": "paid", "payment_intent": "pi_1",
		"metadata": map[string]string{"order_id": "ord-1"},
	})
	require.NoError(t, err)
	verifier := &mockVerifier{event: stripe.Event{ID: "evt_1", Type: "checkout.session.completed", Data: &stripe.EventData{Raw: raw}}}
	payments := &mockPayments{result: workflow.GatewayResult{SessionID: "s1", Applied: true}}
	h := setupServer(payments, verifier, nil, "")

	w := post(t, h, "/webhook/stripe", "{}", map[string]string{signatureHeader: "t=1,v1=abc"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, payments.events, 1)
	assert.Equal(t, models.GatewayEvent{EventID: "evt_1", OrderID: "ord-1", Outcome: models.OutcomeSucceeded, PaymentID: "pi_1"}, payments.events[0])
}

func TestStripeWebhook_Rejections(t *testing.T) {
	t.Run("missing signature", func(t *testing.T) {
		payments := &mockPayments{}
		h := setupServer(payments, &mockVerifier{}, nil, "")
		w := post(t, h, "/webhook/stripe", "{}", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, payments.events)
	})

	t.Run("bad signature", func(t *testing.T) {
		payments := &mockPayments{}
		h := setupServer(payments, &mockVerifier{err: errors.New("bad sig")}, nil, "")
		w := post(t, h, "/webhook/stripe", "{}", map[string]string{signatureHeader: "t=1,v1=abc"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, payments.events)
	})

	t.Run("unhandled type", func(t *testing.T) {
		payments := &mockPayments{}
		verifier := &mockVerifier{event: stripe.Event{ID: "evt_2", Type: "customer.created", Data: &stripe.EventData{Raw: []byte(`{}`)}}}
		h := setupServer(payments, verifier, nil, "")
		w := post(t, h, "/webhook/stripe", "{}", map[string]string{signatureHeader: "t=1,v1=abc"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ignored", status(t, w))
		assert.Empty(t, payments.events)
	})
}

func TestStripeRouteAbsentWithoutVerifier(t *testing.T) {
	h := setupServer(&mockPayments{}, nil, nil, "")
	w := post(t, h, "/webhook/stripe", "{}", map[string]string{signatureHeader: "t=1,v1=abc"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
