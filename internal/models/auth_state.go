package models

import (
	"fmt"
	"time"
)

type AuthStep string

const (
	AuthStepCollectPhone  AuthStep = "collect_phone"
	AuthStepOTPSent       AuthStep = "otp_sent"
	AuthStepCollectName   AuthStep = "collect_name"
	AuthStepAuthenticated AuthStep = "authenticated"
)

func (s AuthStep) Validate() error {
	switch s {
	case AuthStepCollectPhone, AuthStepOTPSent, AuthStepCollectName, AuthStepAuthenticated:
		return nil
	default:
		return fmt.Errorf("unknown auth step %q", string(s))
	}
}

// AuthState is the per-session identity verification record.
type AuthState struct {
	Step          AuthStep   `json:"step"`
	Phone         string     `json:"phone,omitempty"`
	UserID        int64      `json:"user_id,omitempty"`
	UserName      string     `json:"user_name,omitempty"`
	IsNewUser     bool       `json:"is_new_user"`
	Authenticated bool       `json:"authenticated"`
	OTPSentAt     *time.Time `json:"otp_sent_at,omitempty"`
	Attempts      int        `json:"attempts"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func NewAuthState() AuthState {
	return AuthState{Step: AuthStepCollectPhone}
}

// MoveTo is the only way the step changes, so Authenticated can never drift.
func (s *AuthState) MoveTo(step AuthStep) {
	s.Step = step
	s.Authenticated = step == AuthStepAuthenticated
}
