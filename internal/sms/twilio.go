package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"order-bot/internal/config"
)

const twilioBaseURL = "https://api.twilio.com"

type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

func NewTwilioSender(cfg config.TwilioConfig) (*TwilioSender, error) {
	var errs []error
	if cfg.AccountSID == "" {
		errs = append(errs, errors.New("twilio account_sid not set"))
	}
	if cfg.AuthToken == "" {
		errs = append(errs, errors.New("twilio auth_token not set"))
	}
	if cfg.FromNumber == "" {
		errs = append(errs, errors.New("twilio from_number not set"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *TwilioSender) SendSMS(ctx context.Context, to, msg string) (SendResult, error) {
	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)

	formData := url.Values{}
	formData.Set("To", to)
	formData.Set("From", t.fromNumber)
	formData.Set("Body", msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("twilio error %s: %s", resp.Status, string(respBody))
	}

	var body struct {
		SID string `json:"sid"`
	}
	result := SendResult{SentAt: time.Now()}
	if err := json.Unmarshal(respBody, &body); err == nil && body.SID != "" {
		result.MessageID = body.SID
	} else {
		result.MessageID = fmt.Sprintf("twilio-%d", result.SentAt.UnixNano())
	}
	return result, nil
}
