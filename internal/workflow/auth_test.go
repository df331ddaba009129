package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-bot/internal/models"
)

func TestAuthInvalidPhoneStaysOnCollectPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.auth.Handle(ctx, "s1", "abc")
	require.NoError(t, err)
	require.NotNil(t, reply)

	reply = h.auth.SubmitPhone(ctx, "s1", "12345")
	assert.Equal(t, msgInvalidPhone, reply.Text)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepCollectPhone, state.Step)
	assert.Empty(t, state.Phone)
	assert.Empty(t, h.otp.sent)
	assertAuthInvariant(t, state)
}

func TestAuthExistingUserIsAuthenticated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.users.byPhone["+919876543210"] = &models.User{ID: 42, Phone: "+919876543210", Name: "Ravi"}

	reply, err := h.auth.Handle(ctx, "s1", "98765 43210")
	require.NoError(t, err)
	require.NotNil(t, reply)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepOTPSent, state.Step)
	assert.Equal(t, "+919876543210", state.Phone)
	require.NotNil(t, state.OTPSentAt)
	assert.True(t, fixedNow.Equal(*state.OTPSentAt))
	assert.Equal(t, []string{"+919876543210"}, h.otp.sent)
	assertAuthInvariant(t, state)

	reply, err = h.auth.Handle(ctx, "s1", "123 456")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Ravi")

	state = h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepAuthenticated, state.Step)
	assert.True(t, state.Authenticated)
	assert.Equal(t, int64(42), state.UserID)
	assert.False(t, state.IsNewUser)
	assertAuthInvariant(t, state)

	reply, err = h.auth.Handle(ctx, "s1", "I'd like a burger")
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestAuthNewUserCollectsName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Handle(ctx, "s1", "9876543210")
	require.NoError(t, err)

	reply, err := h.auth.Handle(ctx, "s1", "123456")
	require.NoError(t, err)
	assert.Equal(t, msgAskName, reply.Text)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepCollectName, state.Step)
	assert.True(t, state.IsNewUser)
	assert.False(t, state.Authenticated)
	assertAuthInvariant(t, state)

	reply, err = h.auth.Handle(ctx, "s1", "1234")
	require.NoError(t, err)
	assert.Equal(t, msgInvalidName, reply.Text)

	reply, err = h.auth.Handle(ctx, "s1", "  Asha   Rao ")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Asha Rao")

	state = h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepAuthenticated, state.Step)
	assert.Equal(t, "Asha Rao", state.UserName)
	assert.NotZero(t, state.UserID)
	assertAuthInvariant(t, state)
	assert.Contains(t, h.users.byPhone, "+919876543210")
}

func TestAuthWrongOTPExhaustsAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Handle(ctx, "s1", "9876543210")
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		reply, err := h.auth.Handle(ctx, "s1", "000000")
		require.NoError(t, err)
		assert.Contains(t, reply.Text, "didn't match")

		state := h.auth.State(ctx, "s1")
		assert.Equal(t, models.AuthStepOTPSent, state.Step)
		assert.Equal(t, i, state.Attempts)
	}

	reply, err := h.auth.Handle(ctx, "s1", "000000")
	require.NoError(t, err)
	assert.Equal(t, msgTooManyTries, reply.Text)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepCollectPhone, state.Step)
	assert.Zero(t, state.Attempts)
	assert.Empty(t, state.Phone)
	assertAuthInvariant(t, state)
}

func TestAuthOTPSendFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.otp.sendErr = errBoom

	reply, err := h.auth.Handle(ctx, "s1", "9876543210")
	require.NoError(t, err)
	assert.Equal(t, msgOTPSendFailed, reply.Text)

	_, found, err := h.authStore.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAuthVerifyFailureDoesNotCountAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Handle(ctx, "s1", "9876543210")
	require.NoError(t, err)

	h.otp.verifyErr = errBoom
	reply, err := h.auth.Handle(ctx, "s1", "123456")
	require.NoError(t, err)
	assert.Equal(t, msgTryAgain, reply.Text)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepOTPSent, state.Step)
	assert.Zero(t, state.Attempts)
}

func TestAuthResendAndChangeNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Handle(ctx, "s1", "9876543210")
	require.NoError(t, err)

	_, err = h.auth.Handle(ctx, "s1", ButtonResendOTP)
	require.NoError(t, err)
	assert.Len(t, h.otp.sent, 2)
	assert.Equal(t, models.AuthStepOTPSent, h.auth.State(ctx, "s1").Step)

	reply, err := h.auth.Handle(ctx, "s1", "wrong number")
	require.NoError(t, err)
	assert.Equal(t, msgAskPhone, reply.Text)
	assert.Equal(t, models.AuthStepCollectPhone, h.auth.State(ctx, "s1").Step)
}

func TestAuthLogoutClearsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.authenticate(t, "s1")

	reply := h.auth.Logout(ctx, "s1")
	assert.Equal(t, msgLoggedOut, reply.Text)

	state := h.auth.State(ctx, "s1")
	assert.Equal(t, models.AuthStepCollectPhone, state.Step)
	assert.False(t, state.Authenticated)
}

func TestAuthSubmitOutOfStepReturnsPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply := h.auth.SubmitOTP(ctx, "s1", "123456")
	assert.Equal(t, msgAskPhone, reply.Text)

	reply = h.auth.SubmitName(ctx, "s1", "Asha")
	assert.Equal(t, msgAskPhone, reply.Text)
	assert.Equal(t, models.AuthStepCollectPhone, h.auth.State(ctx, "s1").Step)
}
