package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-bot/internal/models"
)

func TestPipelineGatesUnauthenticatedSessions(t *testing.T) {
	h := newHarness(t)
	h.cart.cart = twoItemCart()

	reply := h.pipeline.Handle(context.Background(), "s1", "checkout")
	assert.Equal(t, msgAskPhone, reply.Text)
	assert.Empty(t, h.agent.calls)
	assert.Empty(t, h.orders.calls)
}

func TestPipelineFallsThroughToAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.authenticate(t, "s1")
	h.cart.cart = twoItemCart()

	reply := h.pipeline.Handle(ctx, "s1", "what's good today?")
	assert.Equal(t, "Our burgers are great today.", reply.Text)

	reply = h.pipeline.Handle(ctx, "s1", "I want 2 burgers and checkout")
	assert.Equal(t, "Our burgers are great today.", reply.Text)
	assert.Empty(t, h.orders.calls)
	assert.Equal(t, []string{"what's good today?", "I want 2 burgers and checkout"}, h.agent.calls)

	h.agent.err = errBoom
	reply = h.pipeline.Handle(ctx, "s1", "hello")
	assert.Equal(t, msgAgentUnavailable, reply.Text)
}

func TestPipelineBusySession(t *testing.T) {
	h := newHarness(t)
	p := NewPipeline(failingLocker{}, h.auth, h.agent, h.auth.logger)

	reply := p.Handle(context.Background(), "s1", "hello")
	assert.Equal(t, msgBusy, reply.Text)
	assert.Empty(t, h.agent.calls)
}

func TestPipelineReleasesLockBeforeAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.authenticate(t, "s1")

	var (
		lockErr  error
		deadline bool
	)
	h.agent.onReply = func(ctx context.Context, sessionID string) {
		_, deadline = ctx.Deadline()
		lockCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		unlock, err := h.locker.Lock(lockCtx, sessionID)
		lockErr = err
		if err == nil {
			unlock()
		}
	}

	reply := h.pipeline.Handle(ctx, "s1", "what's good today?")
	assert.Equal(t, "Our burgers are great today.", reply.Text)
	assert.NoError(t, lockErr)
	assert.True(t, deadline)
}

func TestPipelineRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cart.cart = twoItemCart()

	steps := []struct {
		text     string
		contains string
	}{
		{"hi", msgAskPhone},
		{"my number is 98765 43210", "verification code"},
		{"123456", msgAskName},
		{"Asha", "Thanks, Asha"},
		{"checkout", "Order #A-001 placed"},
		{"pay via gpay", "https://pay.example.com/ord-1"},
		{"pay cash", "hasn't been confirmed yet"},
	}
	for _, s := range steps {
		reply := h.pipeline.Handle(ctx, "s1", s.text)
		require.NotNil(t, reply, s.text)
		assert.Contains(t, reply.Text, s.contains, s.text)
	}

	result, err := h.payments.ApplyGatewayEvent(ctx, successEvent("ord-1"))
	require.NoError(t, err)
	assert.True(t, result.Applied)

	reply := h.pipeline.Handle(ctx, "s1", "view receipt")
	assert.Contains(t, reply.Text, "Online (paid)")
	assert.Contains(t, reply.Text, "Payment ID: pi_1")

	reply = h.pipeline.Handle(ctx, "s1", "order more")
	assert.Contains(t, reply.Text, "What would you like to order next")

	assert.False(t, h.payments.State(ctx, "s1").Active())
	auth := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepAuthenticated, auth.Step)
	assertAuthInvariant(t, auth)
	assert.Empty(t, h.agent.calls)
}

func TestPipelineLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.authenticate(t, "s1")

	reply := h.pipeline.Logout(ctx, "s1")
	assert.Equal(t, msgLoggedOut, reply.Text)

	reply = h.pipeline.Handle(ctx, "s1", "hello")
	assert.Equal(t, msgAskPhone, reply.Text)
}
