package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"order-bot/internal/bot"
	"order-bot/internal/cart"
	"order-bot/internal/config"
	"order-bot/internal/db"
	"order-bot/internal/gpt"
	"order-bot/internal/models"
	"order-bot/internal/otp"
	"order-bot/internal/payment"
	"order-bot/internal/server"
	"order-bot/internal/session"
	"order-bot/internal/sms"
	"order-bot/internal/workflow"
	"order-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatalw("Failed to load config", "error", err)
	}

	l := logger.ForEnv(cfg.App.Env)
	defer func() { _ = l.Sync() }()
	l.Info("Starting order bot...")

	if err := cfg.Validate(); err != nil {
		l.Fatalw("Invalid configuration", "error", err)
	}

	// Initialize database connection with retry
	var database *db.PostgresDB
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg.DB)
		if err == nil {
			break
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if database == nil {
		l.Fatalw("Failed to connect to database after multiple attempts", "error", err)
	}
	defer database.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	if err := database.Migrate(startCtx); err != nil {
		l.Fatalw("Failed to migrate database", "error", err)
	}

	redisClient, err := session.NewRedisClient(startCtx, cfg.Redis.URL)
	if err != nil {
		l.Fatalw("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	backend := session.NewRedisBackend(redisClient)
	locker := session.NewRedisLocker(redisClient, cfg.Session.LockTTL, cfg.Session.LockWait)
	storeLog := l.Named("session")

	authStore := session.NewStore(backend, "auth_state", cfg.Session.AuthTTL, models.NewAuthState, storeLog)
	paymentStore := session.NewStore(backend, "payment_state", cfg.Session.PaymentTTL,
		func() models.PaymentState { return models.PaymentState{} }, storeLog)
	orderIndex := session.NewStore(backend, "payment_order", cfg.Session.PaymentTTL,
		func() string { return "" }, storeLog)

	var smsSender sms.Sender = sms.NewLogSender(l.Named("sms"))
	if cfg.Twilio.AccountSID != "" {
		twilio, err := sms.NewTwilioSender(cfg.Twilio)
		if err != nil {
			l.Fatalw("Invalid Twilio configuration", "error", err)
		}
		smsSender = twilio
	} else {
		l.Warn("Twilio is not configured, OTP codes will only be logged")
	}

	otpService := otp.NewService(backend, smsSender, otp.Options{
		Length:         cfg.Auth.OTPLength,
		TTL:            cfg.Auth.OTPTTL,
		ResendInterval: cfg.Auth.OTPResendInterval,
		Burst:          cfg.Auth.OTPBurst,
	}, l.Named("otp"))

	stripeClient := payment.NewStripeClient(cfg.Stripe)

	var agent workflow.Agent
	if cfg.GPT.APIKey != "" {
		agent = gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)
	} else {
		l.Warn("GPT API key is not configured, free-text questions get a fallback reply")
	}

	workflowLog := l.Named("workflow")
	auth := workflow.NewAuthWorkflow(authStore, otpService, database, workflow.AuthOptions{
		MaxAttempts:        cfg.Auth.MaxOTPAttempts,
		DefaultCountryCode: cfg.Auth.DefaultCountryCode,
	}, workflowLog)
	payments := workflow.NewPaymentWorkflow(paymentStore, orderIndex, stripeClient, database, locker,
		workflow.PaymentOptions{Currency: cfg.Stripe.Currency}, workflowLog)
	checkout := workflow.NewCheckoutWorkflow(cart.NewRepository(backend), database, payments,
		cfg.Checkout.DefaultOrderType, workflowLog)

	pipeline := workflow.NewPipeline(locker, auth, agent, workflowLog,
		workflow.Stage{Name: "payment", Handler: workflow.NewPaymentInterceptor(payments, workflowLog)},
		workflow.Stage{Name: "checkout", Handler: checkout},
	)

	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.Debug, pipeline, l.Named("telegram"))
	if err != nil {
		l.Fatalw("Failed to create Telegram bot", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telegramBot.Start(ctx); err != nil {
		l.Fatalw("Failed to start Telegram bot", "error", err)
	}
	l.Info("Telegram bot started successfully")

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := server.NewServer(server.Options{
		Port:          cfg.Server.Port,
		WebhookSecret: cfg.Server.WebhookSecret,
	}, payments, stripeClient, telegramBot, l.Named("http"))
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorw("HTTP server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("Shutting down bot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first so no webhook lands mid-shutdown
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during bot shutdown", "error", err)
	}

	l.Info("Bot stopped successfully")
}
