package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-bot/internal/config"
)

func TestNewTwilioSenderRequiresCredentials(t *testing.T) {
	_, err := NewTwilioSender(config.TwilioConfig{AccountSID: "AC1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_token")
	assert.Contains(t, err.Error(), "from_number")
}

func TestTwilioSendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+919876543210", r.PostForm.Get("To"))
		assert.Equal(t, "+15550001111", r.PostForm.Get("From"))
		assert.Equal(t, "Your code is 123456", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	s, err := NewTwilioSender(config.TwilioConfig{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+15550001111"})
	require.NoError(t, err)
	s.baseURL = srv.URL

	res, err := s.SendSMS(context.Background(), "+919876543210", "Your code is 123456")
	require.NoError(t, err)
	assert.Equal(t, "SM123", res.MessageID)
	assert.False(t, res.SentAt.IsZero())
}

func TestTwilioSendSMSError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	s, err := NewTwilioSender(config.TwilioConfig{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+15550001111"})
	require.NoError(t, err)
	s.baseURL = srv.URL

	_, err = s.SendSMS(context.Background(), "+1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid To number")
}
