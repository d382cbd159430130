package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// DBSource empty selects the in-memory ledger.
	DBSource string
	// RedisAddr empty selects the in-memory session store.
	RedisAddr string

	TransferCeiling int64
	TransferMinimum int64

	ConfirmationTTL time.Duration
	DialogueTTL     time.Duration
	PaymentCodeTTL  time.Duration
	SweepInterval   time.Duration
	ExternalTimeout time.Duration
	TxRetention     time.Duration
	GroupRetention  time.Duration

	DispatchConcurrency int
	Locale              string
	WebhookSecret       string

	SettlementBaseURL string
	SettlementToken   string
	CallbackURL       string

	MessagingBaseURL string
	MessagingToken   string

	NLUBaseURL string
	NLUAPIKey  string
	NLUModel   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TRANSFER_CEILING", 1_000_000)
	v.SetDefault("TRANSFER_MINIMUM", 100)
	v.SetDefault("CONFIRMATION_TTL", "5m")
	v.SetDefault("DIALOGUE_TTL", "10m")
	v.SetDefault("PAYMENT_CODE_TTL", "24h")
	v.SetDefault("SWEEP_INTERVAL", "60s")
	v.SetDefault("EXTERNAL_TIMEOUT", "10s")
	v.SetDefault("TX_RETENTION", "168h")
	v.SetDefault("GROUP_RETENTION", "48h")
	v.SetDefault("DISPATCH_CONCURRENCY", 64)
	v.SetDefault("LOCALE", "pt-BR")
	v.SetDefault("NLU_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("NLU_MODEL", "gpt-4o-mini")

	// Keys without a default still need registering so AutomaticEnv
	// resolves them through Get.
	for _, key := range []string{
		"DB_SOURCE", "REDIS_ADDR", "WEBHOOK_SECRET",
		"SETTLEMENT_BASE_URL", "SETTLEMENT_TOKEN", "CALLBACK_URL",
		"MESSAGING_BASE_URL", "MESSAGING_TOKEN", "NLU_API_KEY",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from v after applying defaults.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		Port:                v.GetString("SERVER_PORT"),
		Env:                 v.GetString("ENVIRONMENT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		DBSource:            v.GetString("DB_SOURCE"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		TransferCeiling:     v.GetInt64("TRANSFER_CEILING"),
		TransferMinimum:     v.GetInt64("TRANSFER_MINIMUM"),
		ConfirmationTTL:     v.GetDuration("CONFIRMATION_TTL"),
		DialogueTTL:         v.GetDuration("DIALOGUE_TTL"),
		PaymentCodeTTL:      v.GetDuration("PAYMENT_CODE_TTL"),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		ExternalTimeout:     v.GetDuration("EXTERNAL_TIMEOUT"),
		TxRetention:         v.GetDuration("TX_RETENTION"),
		GroupRetention:      v.GetDuration("GROUP_RETENTION"),
		DispatchConcurrency: v.GetInt("DISPATCH_CONCURRENCY"),
		Locale:              v.GetString("LOCALE"),
		WebhookSecret:       v.GetString("WEBHOOK_SECRET"),
		SettlementBaseURL:   v.GetString("SETTLEMENT_BASE_URL"),
		SettlementToken:     v.GetString("SETTLEMENT_TOKEN"),
		CallbackURL:         v.GetString("CALLBACK_URL"),
		MessagingBaseURL:    v.GetString("MESSAGING_BASE_URL"),
		MessagingToken:      v.GetString("MESSAGING_TOKEN"),
		NLUBaseURL:          v.GetString("NLU_BASE_URL"),
		NLUAPIKey:           v.GetString("NLU_API_KEY"),
		NLUModel:            v.GetString("NLU_MODEL"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TransferCeiling <= 0 {
		return fmt.Errorf("TRANSFER_CEILING must be positive, got %d", c.TransferCeiling)
	}
	if c.TransferMinimum <= 0 || c.TransferMinimum > c.TransferCeiling {
		return fmt.Errorf("TRANSFER_MINIMUM must be in (0, %d], got %d", c.TransferCeiling, c.TransferMinimum)
	}
	if c.DispatchConcurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive, got %d", c.DispatchConcurrency)
	}
	for name, d := range map[string]time.Duration{
		"CONFIRMATION_TTL": c.ConfirmationTTL,
		"DIALOGUE_TTL":     c.DialogueTTL,
		"PAYMENT_CODE_TTL": c.PaymentCodeTTL,
		"SWEEP_INTERVAL":   c.SweepInterval,
		"EXTERNAL_TIMEOUT": c.ExternalTimeout,
		"TX_RETENTION":     c.TxRetention,
		"GROUP_RETENTION":  c.GroupRetention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}
