package certsd

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds the timing and retry policy of a renewal run.
type Settings struct {
	// RenewBeforeMonths is the renewal threshold: certificates expiring within it are renewed.
	RenewBeforeMonths int `env:"CERTSD_RENEW_BEFORE_MONTHS" envDefault:"2"`

	// MaxOrderAttempts bounds the polling iterations of one order.
	MaxOrderAttempts int `env:"CERTSD_MAX_ORDER_ATTEMPTS" envDefault:"5"`

	// PollInterval is the pause between order polls and while waiting for issuance.
	PollInterval time.Duration `env:"CERTSD_POLL_INTERVAL" envDefault:"5s"`

	// ValidationPause is the pause between challenge status polls once validation was requested.
	ValidationPause time.Duration `env:"CERTSD_VALIDATION_PAUSE" envDefault:"15s"`

	// MaxRenewalAttempts bounds how often a whole renewal is restarted after an order error.
	MaxRenewalAttempts int `env:"CERTSD_MAX_RENEWAL_ATTEMPTS" envDefault:"5"`

	// RetryCooldown is the wait before a renewal is restarted.
	RetryCooldown time.Duration `env:"CERTSD_RETRY_COOLDOWN" envDefault:"30s"`

	NotifyRetries    int           `env:"CERTSD_NOTIFY_RETRIES" envDefault:"5"`
	NotifyRetryDelay time.Duration `env:"CERTSD_NOTIFY_RETRY_DELAY" envDefault:"5s"`

	// ChallengeTTL is the TTL in seconds of the _acme-challenge TXT record.
	ChallengeTTL int `env:"CERTSD_CHALLENGE_TTL" envDefault:"60"`
}

func DefaultSettings() Settings {
	return Settings{
		RenewBeforeMonths:  2,
		MaxOrderAttempts:   5,
		PollInterval:       5 * time.Second,
		ValidationPause:    15 * time.Second,
		MaxRenewalAttempts: 5,
		RetryCooldown:      30 * time.Second,
		NotifyRetries:      5,
		NotifyRetryDelay:   5 * time.Second,
		ChallengeTTL:       60,
	}
}

// LoadSettings reads Settings from the environment, falling back to the defaults.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.RenewBeforeMonths < 0 {
		return errors.New("settings: renew before months cannot be negative")
	}
	if s.MaxOrderAttempts < 1 || s.MaxRenewalAttempts < 1 {
		return errors.New("settings: attempt limits must be at least 1")
	}
	if s.NotifyRetries < 1 {
		return errors.New("settings: notify retries must be at least 1")
	}
	if s.PollInterval < 0 || s.ValidationPause < 0 || s.RetryCooldown < 0 || s.NotifyRetryDelay < 0 {
		return errors.New("settings: durations cannot be negative")
	}
	if s.ChallengeTTL < 1 {
		return errors.New("settings: challenge ttl must be positive")
	}
	return nil
}
