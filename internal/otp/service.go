package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"order-bot/internal/session"
	"order-bot/internal/sms"
	"order-bot/pkg/logger"
)

// ErrThrottled is returned when a phone asks for codes faster than allowed.
var ErrThrottled = errors.New("otp: too many codes requested")

const maxLimiters = 4096

type Options struct {
	Length         int
	TTL            time.Duration
	ResendInterval time.Duration
	Burst          int
}

// record is what sits under otp:<phone>. Only the bcrypt hash of the code is kept.
type record struct {
	Hash   []byte    `json:"hash"`
	SentAt time.Time `json:"sent_at"`
}

// Service sends one-time codes by SMS and verifies them. A code is single use.
type Service struct {
	codes  *session.Store[record]
	sender sms.Sender
	length int
	ttl    time.Duration
	every  rate.Limit
	burst  int
	cost   int
	logger *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewService(backend session.Backend, sender sms.Sender, opts Options, log *logger.Logger) *Service {
	if opts.Length < 4 {
		opts.Length = 6
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.ResendInterval <= 0 {
		opts.ResendInterval = 30 * time.Second
	}
	if opts.Burst < 1 {
		opts.Burst = 3
	}
	return &Service{
		codes:    session.NewStore(backend, "otp", opts.TTL, func() record { return record{} }, log),
		sender:   sender,
		length:   opts.Length,
		ttl:      opts.TTL,
		every:    rate.Every(opts.ResendInterval),
		burst:    opts.Burst,
		cost:     bcrypt.DefaultCost,
		logger:   log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send issues a new code for phone, replacing any earlier one.
func (s *Service) Send(ctx context.Context, phone string) error {
	if !s.limiter(phone).Allow() {
		return ErrThrottled
	}

	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	if err := s.codes.Set(ctx, phone, record{Hash: hash, SentAt: time.Now().UTC()}); err != nil {
		return err
	}

	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	res, err := s.sender.SendSMS(ctx, phone, msg)
	if err != nil {
		if clearErr := s.codes.Clear(ctx, phone); clearErr != nil {
			s.logger.Warnw("Failed to drop undelivered OTP", "error", clearErr)
		}
		return fmt.Errorf("send sms: %w", err)
	}

	s.logger.Debugw("OTP dispatched", "message_id", res.MessageID)
	return nil
}

// Verify reports whether code matches the outstanding code for phone. A match
// consumes the code.
func (s *Service) Verify(ctx context.Context, phone, code string) (bool, error) {
	rec, found, err := s.codes.Load(ctx, phone)
	if err != nil {
		return false, err
	}
	if !found || len(rec.Hash) == 0 {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword(rec.Hash, []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare code: %w", err)
	}

	if err := s.codes.Clear(ctx, phone); err != nil {
		s.logger.Warnw("Failed to consume OTP", "error", err)
	}
	return true, nil
}

func (s *Service) generate() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", s.length, n), nil
}

func (s *Service) limiter(phone string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lim, ok := s.limiters[phone]; ok {
		return lim
	}
	if len(s.limiters) >= maxLimiters {
		now := time.Now()
		for key, lim := range s.limiters {
			if lim.TokensAt(now) >= float64(s.burst) {
				delete(s.limiters, key)
			}
		}
	}
	lim := rate.NewLimiter(s.every, s.burst)
	s.limiters[phone] = lim
	return lim
}
