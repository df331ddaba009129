package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"order-bot/internal/models"
	"order-bot/internal/session"
	"order-bot/pkg/logger"
)

var fixedNow = time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// ---- OTP ----

type fakeOTP struct {
	code      string
	sendErr   error
	verifyErr error
	sent      []string
}

func (f *fakeOTP) Send(_ context.Context, phone string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone)
	return nil
}

func (f *fakeOTP) Verify(_ context.Context, _, code string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return code == f.code, nil
}

// ---- user directory ----

type fakeUsers struct {
	byPhone   map[string]*models.User
	findErr   error
	createErr error
	nextID    int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byPhone: make(map[string]*models.User), nextID: 100}
}

func (f *fakeUsers) FindUserByPhone(_ context.Context, phone string) (*models.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.byPhone[phone], nil
}

func (f *fakeUsers) CreateUser(_ context.Context, phone, name string) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	u := &models.User{ID: f.nextID, Phone: phone, Name: name}
	f.byPhone[phone] = u
	return u, nil
}

// ---- cart ----

type fakeCart struct {
	cart models.CartSummary
	err  error
}

func (f *fakeCart) GetCartSummary(context.Context, string) (models.CartSummary, error) {
	return f.cart, f.err
}

func twoItemCart() models.CartSummary {
	return models.CartSummary{
		Items: []models.CartItem{
			{Name: "Veg Burger", Price: 150, Quantity: 2},
			{Name: "Cold Coffee", Price: 120, Quantity: 1},
		},
		Subtotal:         420,
		PackagingCharges: 30,
		UpdatedAt:        fixedNow.Add(-time.Minute),
	}
}

// ---- order placement ----

type fakeOrders struct {
	mu     sync.Mutex
	calls  []models.OrderRequest
	byKey  map[string]*models.Order
	ledger *fakeLedger
	err    error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byKey: make(map[string]*models.Order)}
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req models.OrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.byKey[req.IdempotencyKey]
	if !ok {
		n := len(f.byKey) + 1
		o = &models.Order{ID: fmt.Sprintf("ord-%d", n), DisplayID: fmt.Sprintf("A-%03d", n), Amount: req.Amount}
		f.byKey[req.IdempotencyKey] = o
	}
	placed := *o
	placed.Settled = f.ledger.settled(o.ID)
	return &placed, nil
}

// ---- gateway ----

type fakeGateway struct {
	calls []models.PaymentLinkRequest
	err   error
}

func (f *fakeGateway) CreatePaymentLink(_ context.Context, req models.PaymentLinkRequest) (*models.PaymentLink, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.PaymentLink{ID: "cs_" + req.OrderID, URL: "https://pay.example.com/" + req.OrderID}, nil
}

// ---- ledger ----

type fakeLedger struct {
	records []models.PaymentRecord
	updates []string
	latest  map[string]string
}

func (f *fakeLedger) RecordPayment(_ context.Context, rec *models.PaymentRecord) error {
	f.records = append(f.records, *rec)
	f.setStatus(rec.OrderID, rec.Status)
	return nil
}

func (f *fakeLedger) UpdatePaymentStatus(_ context.Context, orderID, status, _ string) error {
	f.updates = append(f.updates, orderID+":"+status)
	f.setStatus(orderID, status)
	return nil
}

func (f *fakeLedger) setStatus(orderID, status string) {
	if f.latest == nil {
		f.latest = make(map[string]string)
	}
	f.latest[orderID] = status
}

func (f *fakeLedger) settled(orderID string) bool {
	if f == nil {
		return false
	}
	status := f.latest[orderID]
	return status == models.PaymentStatusSucceeded || status == models.PaymentStatusCash
}

// ---- agent ----

type fakeAgent struct {
	answer  string
	err     error
	calls   []string
	onReply func(ctx context.Context, sessionID string)
}

func (f *fakeAgent) Reply(ctx context.Context, sessionID, text string) (string, error) {
	f.calls = append(f.calls, text)
	if f.onReply != nil {
		f.onReply(ctx, sessionID)
	}
	return f.answer, f.err
}

// ---- locker ----

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, session.ErrLockTimeout
}

// ---- harness ----

type harness struct {
	backend     *session.MemoryBackend
	locker      *session.LocalLocker
	authStore   *session.Store[models.AuthState]
	payStore    *session.Store[models.PaymentState]
	orderIndex  *session.Store[string]
	otp         *fakeOTP
	users       *fakeUsers
	cart        *fakeCart
	orders      *fakeOrders
	gateway     *fakeGateway
	ledger      *fakeLedger
	agent       *fakeAgent
	auth        *AuthWorkflow
	payments    *PaymentWorkflow
	checkout    *CheckoutWorkflow
	interceptor *PaymentInterceptor
	pipeline    *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()
	backend := session.NewMemoryBackend().WithClock(clock)
	locker := session.NewLocalLocker()

	h := &harness{
		backend:    backend,
		locker:     locker,
		authStore:  session.NewStore(backend, "auth_state", 24*time.Hour, models.NewAuthState, log),
		payStore:   session.NewStore(backend, "payment_state", 2*time.Hour, func() models.PaymentState { return models.PaymentState{} }, log),
		orderIndex: session.NewStore(backend, "payment_order", 2*time.Hour, func() string { return "" }, log),
		otp:        &fakeOTP{code: "123456"},
		users:      newFakeUsers(),
		cart:       &fakeCart{},
		orders:     newFakeOrders(),
		gateway:    &fakeGateway{},
		ledger:     &fakeLedger{},
		agent:      &fakeAgent{answer: "Our burgers are great today."},
	}

	h.orders.ledger = h.ledger

	h.auth = NewAuthWorkflow(h.authStore, h.otp, h.users, AuthOptions{MaxAttempts: 3, DefaultCountryCode: "91"}, log)
	h.auth.now = clock
	h.payments = NewPaymentWorkflow(h.payStore, h.orderIndex, h.gateway, h.ledger, locker, PaymentOptions{Currency: "inr"}, log)
	h.payments.now = clock
	h.checkout = NewCheckoutWorkflow(h.cart, h.orders, h.payments, "dine_in", log)
	h.interceptor = NewPaymentInterceptor(h.payments, log)
	h.pipeline = NewPipeline(locker, h.auth, h.agent, log,
		Stage{Name: "payment", Handler: h.interceptor},
		Stage{Name: "checkout", Handler: h.checkout},
	)
	return h
}

func (h *harness) authenticate(t *testing.T, sessionID string) {
	t.Helper()
	state := models.AuthState{Phone: "+919876543210", UserID: 7, UserName: "Asha"}
	state.MoveTo(models.AuthStepAuthenticated)
	if err := h.authStore.Set(context.Background(), sessionID, state); err != nil {
		t.Fatalf("seed auth state: %v", err)
	}
}

// placeOrder checks out a two-item cart and returns the resulting payment state.
func (h *harness) placeOrder(t *testing.T, sessionID string) models.PaymentState {
	t.Helper()
	h.cart.cart = twoItemCart()
	reply, err := h.checkout.HandleMessage(context.Background(), sessionID, "checkout")
	if err != nil || reply == nil {
		t.Fatalf("checkout: reply=%v err=%v", reply, err)
	}
	return h.payments.State(context.Background(), sessionID)
}

func assertAuthInvariant(t *testing.T, s models.AuthState) {
	t.Helper()
	assert.Equal(t, s.Step == models.AuthStepAuthenticated, s.Authenticated, "authenticated flag out of sync with step %q", s.Step)
}

func assertPaymentInvariant(t *testing.T, s models.PaymentState) {
	t.Helper()
	if !s.Active() {
		return
	}
	assert.Equal(t, s.Step.Terminal(), s.Completed, "completed flag out of sync with step %q", s.Step)
	if s.PaymentLink != "" {
		assert.Equal(t, models.MethodOnline, s.Method)
	}
}

var errBoom = errors.New("boom")
