// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Session  SessionConfig  `mapstructure:"session"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Checkout CheckoutConfig `mapstructure:"checkout"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	GPT      GPTConfig      `mapstructure:"gpt"`
	Server   ServerConfig   `mapstructure:"server"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

type DBConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"name"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// SessionConfig holds record lifetimes and the per-session lock budget.
type SessionConfig struct {
	AuthTTL    time.Duration `mapstructure:"auth_ttl"`
	PaymentTTL time.Duration `mapstructure:"payment_ttl"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	LockWait   time.Duration `mapstructure:"lock_wait"`
}

type AuthConfig struct {
	MaxOTPAttempts     int           `mapstructure:"max_otp_attempts"`
	DefaultCountryCode string        `mapstructure:"default_country_code"`
	OTPLength          int           `mapstructure:"otp_length"`
	OTPTTL             time.Duration `mapstructure:"otp_ttl"`
	OTPResendInterval  time.Duration `mapstructure:"otp_resend_interval"`
	OTPBurst           int           `mapstructure:"otp_burst"`
}

type CheckoutConfig struct {
	DefaultOrderType string `mapstructure:"default_order_type"`
}

type StripeConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	WebhookKey string `mapstructure:"webhook_key"`
	Currency   string `mapstructure:"currency"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type GPTConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

var defaults = map[string]any{
	"app.env":                     "development",
	"telegram.token":              "",
	"telegram.debug":              false,
	"db.host":                     "localhost",
	"db.port":                     "5432",
	"db.user":                     "postgres",
	"db.password":                 "postgres",
	"db.name":                     "order_bot",
	"db.ssl_mode":                 "disable",
	"db.max_open_conns":           20,
	"db.max_idle_conns":           10,
	"db.conn_lifetime":            5 * time.Minute,
	"redis.url":                   "redis://localhost:6379/0",
	"session.auth_ttl":            24 * time.Hour,
	"session.payment_ttl":         2 * time.Hour,
	"session.lock_ttl":            10 * time.Second,
	"session.lock_wait":           5 * time.Second,
	"auth.max_otp_attempts":       3,
	"auth.default_country_code":   "91",
	"auth.otp_length":             6,
	"auth.otp_ttl":                5 * time.Minute,
	"auth.otp_resend_interval":    30 * time.Second,
	"auth.otp_burst":              3,
	"checkout.default_order_type": "dine_in",
	"stripe.secret_key":           "",
	"stripe.webhook_key":          "",
	"stripe.currency":             "inr",
	"stripe.success_url":          "",
	"stripe.cancel_url":           "",
	"twilio.account_sid":          "",
	"twilio.auth_token":           "",
	"twilio.from_number":          "",
	"gpt.api_key":                 "",
	"gpt.model":                   "gpt-4o-mini",
	"server.port":                 "8080",
	"server.webhook_secret":       "",
	"shutdown_timeout":            10 * time.Second,
}

// Load reads config.yaml (if any) and lets the environment override every key.
// SESSION_PAYMENT_TTL overrides session.payment_ttl and so on.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.order-bot")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate reports settings the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is not configured"))
	}
	if c.Stripe.SecretKey == "" || c.Stripe.WebhookKey == "" {
		errs = append(errs, errors.New("stripe configuration is incomplete"))
	}
	if c.Auth.MaxOTPAttempts < 1 {
		errs = append(errs, errors.New("auth.max_otp_attempts must be at least 1"))
	}
	if c.Session.AuthTTL <= 0 || c.Session.PaymentTTL <= 0 {
		errs = append(errs, errors.New("session TTLs must be positive"))
	}
	return errors.Join(errs...)
}

// DSN builds the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.MaxOpenConns,
	)
}
