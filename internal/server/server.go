package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v72"

	"order-bot/internal/models"
	"order-bot/internal/workflow"
	"order-bot/pkg/logger"
)

// PaymentEvents applies final gateway outcomes to sessions.
type PaymentEvents interface {
	ApplyGatewayEvent(ctx context.Context, event models.GatewayEvent) (workflow.GatewayResult, error)
}

// WebhookVerifier checks a Stripe-Signature header and decodes the event.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error)
}

// Notifier pushes a reply to the chat behind a session.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, reply *workflow.Reply) error
}

type Options struct {
	Port          string
	WebhookSecret string
}

type Server struct {
	server   *http.Server
	payments PaymentEvents
	stripe   WebhookVerifier
	notifier Notifier
	secret   string
	logger   *logger.Logger
}

// NewServer builds the webhook server. verifier and notifier may be nil.
func NewServer(opts Options, payments PaymentEvents, verifier WebhookVerifier, notifier Notifier, log *logger.Logger) *Server {
	s := &Server{
		payments: payments,
		stripe:   verifier,
		notifier: notifier,
		secret:   opts.WebhookSecret,
		logger:   log,
	}

	s.server = &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	webhooks := router.Group("/webhook")
	{
		webhooks.POST("/payment", s.handlePaymentWebhook)
		if s.stripe != nil {
			webhooks.POST("/stripe", s.handleStripeWebhook)
		}
	}
	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
