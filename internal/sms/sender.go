package sms

import (
	"context"
	"time"

	"order-bot/pkg/logger"
)

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type Sender interface {
	SendSMS(ctx context.Context, to, msg string) (SendResult, error)
}

// LogSender writes messages to the log instead of a carrier. Used when no
// SMS provider is configured.
type LogSender struct {
	logger *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) SendSMS(_ context.Context, to, msg string) (SendResult, error) {
	now := time.Now()
	s.logger.Infow("SMS (not delivered, no provider configured)", "to", to, "body", msg)
	return SendResult{MessageID: "log-" + now.Format("20060102150405.000000000"), SentAt: now}, nil
}
