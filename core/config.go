package core

import (
	"fmt"
	"strings"
)

type RetryConfig struct {
	MaxRetries     int `koanf:"max_retries" mapstructure:"max_retries"`
	MaxWaitSeconds int `koanf:"max_wait_seconds" mapstructure:"max_wait_seconds"`
}

type LedgerConfig struct {
	LeaseSeconds int `koanf:"lease_seconds" mapstructure:"lease_seconds"`
	MaxAttempts  int `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type Config struct {
	AppID int64 `koanf:"app_id" mapstructure:"app_id"`
	// PrivateKey is the PEM-encoded App signing key.
	PrivateKey string `koanf:"private_key" mapstructure:"private_key"`
	// WebhookSecret is the shared webhook secret. When empty, signature
	// verification degrades to an explicit skip (development mode).
	WebhookSecret string       `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	BaseURL       string       `koanf:"base_url" mapstructure:"base_url"`
	Retry         RetryConfig  `koanf:"retry" mapstructure:"retry"`
	Ledger        LedgerConfig `koanf:"ledger" mapstructure:"ledger"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.github.com",
		Retry: RetryConfig{
			MaxRetries:     3,
			MaxWaitSeconds: 300,
		},
		Ledger: LedgerConfig{
			LeaseSeconds: 30,
			MaxAttempts:  8,
		},
	}
}

func (c Config) Validate() error {
	if c.AppID <= 0 {
		return fmt.Errorf("core: app_id is required")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return fmt.Errorf("core: private_key is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry.max_retries must not be negative")
	}
	return nil
}

// Identity projects the immutable App identity out of the resolved config.
func (c Config) Identity() AppIdentity {
	return AppIdentity{
		AppID:      c.AppID,
		PrivateKey: []byte(c.PrivateKey),
	}
}
