package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"order-bot/internal/models"
	"order-bot/internal/payment"
	"order-bot/internal/session"
	"order-bot/internal/workflow"
)

const (
	secretHeader    = "X-Webhook-Secret"
	signatureHeader = "Stripe-Signature"
	maxBodyBytes    = 64 << 10
	notifyTimeout   = 10 * time.Second
)

func (s *Server) handlePaymentWebhook(c *gin.Context) {
	if s.secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(secretHeader)), []byte(s.secret)) != 1 {
		s.logger.Warnw("Payment webhook with bad secret", "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var event models.GatewayEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.apply(c, event)
}

func (s *Server) handleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		s.logger.Errorw("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature"})
		return
	}

	stripeEvent, err := s.stripe.VerifyWebhookSignature(body, signature)
	if err != nil {
		s.logger.Warnw("Stripe webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	event, ok, err := payment.EventFromStripe(stripeEvent)
	if err != nil {
		s.logger.Errorw("Failed to map Stripe event", "event_id", stripeEvent.ID, "type", stripeEvent.Type, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event data"})
		return
	}
	if !ok {
		s.logger.Infow("Unhandled webhook event type", "event_id", stripeEvent.ID, "type", stripeEvent.Type)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err := event.Validate(); err != nil {
		s.logger.Warnw("Stripe event without order reference", "event_id", stripeEvent.ID, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	s.apply(c, event)
}

// apply hands the event to the payment workflow. Conditions the gateway can
// fix by redelivering get a 5xx; everything else is acknowledged.
func (s *Server) apply(c *gin.Context, event models.GatewayEvent) {
	ctx := c.Request.Context()

	result, err := s.payments.ApplyGatewayEvent(ctx, event)
	switch {
	case errors.Is(err, workflow.ErrUnknownOrder):
		s.logger.Infow("Webhook for unknown order", "order_id", event.OrderID, "event_id", event.EventID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case errors.Is(err, session.ErrLockTimeout):
		s.logger.Warnw("Session busy, asking gateway to retry", "order_id", event.OrderID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy"})
		return
	case err != nil:
		s.logger.Errorw("Failed to apply payment webhook", "order_id", event.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if !result.Applied {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	s.notify(ctx, result)
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}

func (s *Server) notify(ctx context.Context, result workflow.GatewayResult) {
	if s.notifier == nil || result.Reply == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, result.SessionID, result.Reply); err != nil {
		s.logger.Warnw("Failed to notify customer of payment outcome", "session_id", result.SessionID, "error", err)
	}
}
