package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"order-bot/internal/models"
	"order-bot/internal/session"
	"order-bot/pkg/logger"
)

const (
	msgAskPhone      = "Welcome! To place orders we need to verify your mobile number. Please share your 10-digit phone number."
	msgInvalidPhone  = "That doesn't look like a valid phone number. Please send a 10-digit mobile number, e.g. 98765 43210."
	msgOTPSendFailed = "We couldn't send the verification code right now. Please send your number again in a moment."
	msgOTPThrottled  = "Please wait a little before requesting another code."
	msgAskCode       = "Please enter the verification code we sent you."
	msgAskName       = "Your number is verified! What name should we put on your orders?"
	msgInvalidName   = "Please tell us your name using letters only."
	msgTooManyTries  = "Too many incorrect codes. Let's start again: please share your phone number."
	msgLoggedOut     = "You've been logged out. Share your phone number whenever you want to order again."
	maxNameLength    = 60
)

var (
	resendPhrases      = compile(`\bresend\b`, `\bsend (it |the code )?again\b`, `\b(didn'?t|did not|never) (get|receive)\b`)
	changePhonePhrases = compile(`\b(change|wrong|different) (my )?(number|phone)\b`)
)

type AuthOptions struct {
	MaxAttempts        int
	DefaultCountryCode string
}

// AuthWorkflow walks a session through phone -> OTP -> (name) -> authenticated.
type AuthWorkflow struct {
	store          *session.Store[models.AuthState]
	otp            OTPService
	users          UserDirectory
	maxAttempts    int
	defaultCountry string
	logger         *logger.Logger
	now            func() time.Time
}

func NewAuthWorkflow(store *session.Store[models.AuthState], otp OTPService, users UserDirectory, opts AuthOptions, log *logger.Logger) *AuthWorkflow {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.DefaultCountryCode == "" {
		opts.DefaultCountryCode = "91"
	}
	return &AuthWorkflow{
		store:          store,
		otp:            otp,
		users:          users,
		maxAttempts:    opts.MaxAttempts,
		defaultCountry: opts.DefaultCountryCode,
		logger:         log,
		now:            time.Now,
	}
}

func (w *AuthWorkflow) State(ctx context.Context, sessionID string) models.AuthState {
	return w.store.Get(ctx, sessionID)
}

// Handle routes text to the transition for the session's current step.
// Authenticated sessions get nil so the message moves on down the pipeline.
func (w *AuthWorkflow) Handle(ctx context.Context, sessionID, text string) (*Reply, error) {
	state := w.store.Get(ctx, sessionID)

	switch state.Step {
	case models.AuthStepAuthenticated:
		return nil, nil
	case models.AuthStepCollectPhone:
		if strings.IndexFunc(text, unicode.IsDigit) < 0 {
			return &Reply{Text: msgAskPhone}, nil
		}
		return w.submitPhone(ctx, sessionID, state, text), nil
	case models.AuthStepOTPSent:
		normalized := normalizeText(text)
		switch {
		case normalized == ButtonResendOTP || matchesAny(resendPhrases, normalized):
			return w.resendOTP(ctx, sessionID, state), nil
		case normalized == ButtonChangePhone || matchesAny(changePhonePhrases, normalized):
			return w.restart(ctx, sessionID, msgAskPhone), nil
		}
		return w.submitOTP(ctx, sessionID, state, text), nil
	case models.AuthStepCollectName:
		return w.submitName(ctx, sessionID, state, text), nil
	default:
		w.logger.Warnw("Unknown auth step, restarting verification",
			"session_id", sessionID, "step", state.Step)
		return w.restart(ctx, sessionID, msgAskPhone), nil
	}
}

func (w *AuthWorkflow) SubmitPhone(ctx context.Context, sessionID, raw string) *Reply {
	state := w.store.Get(ctx, sessionID)
	if state.Step != models.AuthStepCollectPhone {
		return w.prompt(state)
	}
	return w.submitPhone(ctx, sessionID, state, raw)
}

func (w *AuthWorkflow) SubmitOTP(ctx context.Context, sessionID, code string) *Reply {
	state := w.store.Get(ctx, sessionID)
	if state.Step != models.AuthStepOTPSent {
		return w.prompt(state)
	}
	return w.submitOTP(ctx, sessionID, state, code)
}

func (w *AuthWorkflow) SubmitName(ctx context.Context, sessionID, name string) *Reply {
	state := w.store.Get(ctx, sessionID)
	if state.Step != models.AuthStepCollectName {
		return w.prompt(state)
	}
	return w.submitName(ctx, sessionID, state, name)
}

// Logout drops the record; the next message starts again at collect_phone.
func (w *AuthWorkflow) Logout(ctx context.Context, sessionID string) *Reply {
	if err := w.store.Clear(ctx, sessionID); err != nil {
		w.logger.Warnw("Failed to clear auth state", "session_id", sessionID, "error", err)
	}
	return &Reply{Text: msgLoggedOut}
}

func (w *AuthWorkflow) submitPhone(ctx context.Context, sessionID string, state models.AuthState, raw string) *Reply {
	phone, ok := NormalizePhone(raw, w.defaultCountry)
	if !ok {
		return &Reply{Text: msgInvalidPhone}
	}

	if err := w.otp.Send(ctx, phone); err != nil {
		w.logger.Errorw("Failed to send OTP", "session_id", sessionID, "phone", maskPhone(phone), "error", err)
		return &Reply{Text: msgOTPSendFailed}
	}

	now := w.now()
	state.Phone = phone
	state.OTPSentAt = &now
	state.Attempts = 0
	state.MoveTo(models.AuthStepOTPSent)
	w.save(ctx, sessionID, state)

	w.logger.Infow("OTP sent", "session_id", sessionID, "phone", maskPhone(phone))
	return &Reply{
		Text:         fmt.Sprintf("We've sent a verification code to %s. Please enter it here.", maskPhone(phone)),
		QuickReplies: otpButtons,
	}
}

func (w *AuthWorkflow) resendOTP(ctx context.Context, sessionID string, state models.AuthState) *Reply {
	if err := w.otp.Send(ctx, state.Phone); err != nil {
		w.logger.Warnw("Failed to resend OTP", "session_id", sessionID, "error", err)
		return &Reply{Text: msgOTPThrottled, QuickReplies: otpButtons}
	}
	now := w.now()
	state.OTPSentAt = &now
	w.save(ctx, sessionID, state)
	return &Reply{Text: fmt.Sprintf("A new code is on its way to %s.", maskPhone(state.Phone)), QuickReplies: otpButtons}
}

func (w *AuthWorkflow) submitOTP(ctx context.Context, sessionID string, state models.AuthState, text string) *Reply {
	code := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, text)
	if code == "" {
		return &Reply{Text: msgAskCode, QuickReplies: otpButtons}
	}

	// Look the user up first: a verified code is consumed, so a directory
	// failure after verification would force a resend.
	user, err := w.users.FindUserByPhone(ctx, state.Phone)
	if err != nil {
		w.logger.Errorw("Failed to look up user", "session_id", sessionID, "error", err)
		return &Reply{Text: msgTryAgain}
	}

	ok, err := w.otp.Verify(ctx, state.Phone, code)
	if err != nil {
		w.logger.Errorw("Failed to verify OTP", "session_id", sessionID, "error", err)
		return &Reply{Text: msgTryAgain}
	}

	if !ok {
		state.Attempts++
		if state.Attempts >= w.maxAttempts {
			w.logger.Infow("OTP attempts exhausted", "session_id", sessionID, "attempts", state.Attempts)
			return w.restart(ctx, sessionID, msgTooManyTries)
		}
		w.save(ctx, sessionID, state)
		left := w.maxAttempts - state.Attempts
		return &Reply{
			Text:         fmt.Sprintf("That code didn't match. You have %d attempt(s) left.", left),
			QuickReplies: otpButtons,
		}
	}

	state.Attempts = 0
	if user == nil {
		state.IsNewUser = true
		state.MoveTo(models.AuthStepCollectName)
		w.save(ctx, sessionID, state)
		return &Reply{Text: msgAskName}
	}

	state.IsNewUser = false
	state.UserID = user.ID
	state.UserName = user.Name
	state.MoveTo(models.AuthStepAuthenticated)
	w.save(ctx, sessionID, state)

	w.logger.Infow("Session authenticated", "session_id", sessionID, "user_id", user.ID)
	return &Reply{Text: fmt.Sprintf("Welcome back, %s! What would you like to order today?", user.Name)}
}

func (w *AuthWorkflow) submitName(ctx context.Context, sessionID string, state models.AuthState, text string) *Reply {
	name, ok := cleanName(text)
	if !ok {
		return &Reply{Text: msgInvalidName}
	}

	user, err := w.users.CreateUser(ctx, state.Phone, name)
	if err != nil {
		w.logger.Errorw("Failed to create user", "session_id", sessionID, "error", err)
		return &Reply{Text: msgTryAgain}
	}

	state.UserID = user.ID
	state.UserName = user.Name
	state.MoveTo(models.AuthStepAuthenticated)
	w.save(ctx, sessionID, state)

	w.logger.Infow("New user registered", "session_id", sessionID, "user_id", user.ID)
	return &Reply{Text: fmt.Sprintf("Thanks, %s! You're all set. What would you like to order?", user.Name)}
}

func (w *AuthWorkflow) restart(ctx context.Context, sessionID, text string) *Reply {
	state := models.NewAuthState()
	w.save(ctx, sessionID, state)
	return &Reply{Text: text}
}

func (w *AuthWorkflow) prompt(state models.AuthState) *Reply {
	switch state.Step {
	case models.AuthStepCollectPhone:
		return &Reply{Text: msgAskPhone}
	case models.AuthStepOTPSent:
		return &Reply{Text: msgAskCode, QuickReplies: otpButtons}
	case models.AuthStepCollectName:
		return &Reply{Text: msgAskName}
	case models.AuthStepAuthenticated:
		return &Reply{Text: fmt.Sprintf("You're already verified, %s.", state.UserName)}
	default:
		return &Reply{Text: msgAskPhone}
	}
}

func (w *AuthWorkflow) save(ctx context.Context, sessionID string, state models.AuthState) {
	state.UpdatedAt = w.now()
	if err := w.store.Set(ctx, sessionID, state); err != nil {
		w.logger.Warnw("Failed to persist auth state", "session_id", sessionID, "step", state.Step, "error", err)
	}
}

func cleanName(text string) (string, bool) {
	name := strings.Join(strings.Fields(text), " ")
	if name == "" || len([]rune(name)) > maxNameLength {
		return "", false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' && r != '.' && r != '\'' && r != '-' {
			return "", false
		}
	}
	return name, true
}
