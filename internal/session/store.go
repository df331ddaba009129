// Package session keeps per-session workflow records in a TTL'd key/value backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-bot/pkg/logger"
)

// ErrNotFound is returned by a Backend when the key is absent or expired.
var ErrNotFound = errors.New("session: key not found")

// Backend is the raw byte store underneath a Store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Store is one logical record store per feature, keyed "<feature>:<session_id>".
// It does no locking; callers serialize per session with a Locker.
type Store[T any] struct {
	backend Backend
	feature string
	ttl     time.Duration
	fresh   func() T
	logger  *logger.Logger
}

func NewStore[T any](backend Backend, feature string, ttl time.Duration, fresh func() T, log *logger.Logger) *Store[T] {
	return &Store[T]{
		backend: backend,
		feature: feature,
		ttl:     ttl,
		fresh:   fresh,
		logger:  log,
	}
}

func (s *Store[T]) Key(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.feature, sessionID)
}

func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}

// Get never fails: an absent, unreadable or corrupt record yields a fresh default
// so the conversation keeps going for this turn.
func (s *Store[T]) Get(ctx context.Context, sessionID string) T {
	state, _, err := s.Load(ctx, sessionID)
	if err != nil {
		s.logger.Warnw("Falling back to default session state",
			"feature", s.feature, "session_id", sessionID, "error", err)
		return s.fresh()
	}
	return state
}

// Load is Get with the absence and failure cases made visible.
func (s *Store[T]) Load(ctx context.Context, sessionID string) (T, bool, error) {
	data, err := s.backend.Get(ctx, s.Key(sessionID))
	if errors.Is(err, ErrNotFound) {
		return s.fresh(), false, nil
	}
	if err != nil {
		return s.fresh(), false, fmt.Errorf("failed to read %s: %w", s.Key(sessionID), err)
	}

	var state T
	if err := json.Unmarshal(data, &state); err != nil {
		return s.fresh(), false, fmt.Errorf("failed to decode %s: %w", s.Key(sessionID), err)
	}
	return state, true, nil
}

func (s *Store[T]) Set(ctx context.Context, sessionID string, state T) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.Key(sessionID), err)
	}
	if err := s.backend.Set(ctx, s.Key(sessionID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.Key(sessionID), err)
	}
	return nil
}

func (s *Store[T]) Clear(ctx context.Context, sessionID string) error {
	if err := s.backend.Del(ctx, s.Key(sessionID)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.Key(sessionID), err)
	}
	return nil
}
