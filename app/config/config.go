// Package config holds the meetup bot configuration: the shared core settings
// plus storage, payment and notification sections.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/meetupbot/core/config"
	coredatabase "github.com/m3rciful/meetupbot/core/database"
)

const (
	// StoreMemory keeps records in process memory, seeded from a YAML file.
	StoreMemory = "memory"
	// StorePostgres keeps records in PostgreSQL.
	StorePostgres = "postgres"
)

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend  string `yaml:"backend" envconfig:"STORE_BACKEND"`
	SeedFile string `yaml:"seed_file" envconfig:"STORE_SEED_FILE"`
}

// PaymentConfig holds YooKassa credentials. Empty credentials disable donations.
type PaymentConfig struct {
	ShopID         string `yaml:"shop_id" envconfig:"YOOKASSA_SHOP_ID"`
	SecretKey      string `yaml:"secret_key" envconfig:"YOOKASSA_SECRET_KEY"`
	ReturnURL      string `yaml:"return_url" envconfig:"PAYMENT_RETURN_URL"`
	Currency       string `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
	APIURL         string `yaml:"api_url" envconfig:"YOOKASSA_API_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"PAYMENT_TIMEOUT_SECONDS"`
}

// Enabled reports whether both credentials are set.
func (p PaymentConfig) Enabled() bool {
	return strings.TrimSpace(p.ShopID) != "" && strings.TrimSpace(p.SecretKey) != ""
}

// Timeout returns the provider call deadline; zero selects the provider default.
func (p PaymentConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// DonationConfig bounds donation amounts in whole currency units.
type DonationConfig struct {
	Min     int64   `yaml:"min" envconfig:"DONATION_MIN"`
	Max     int64   `yaml:"max" envconfig:"DONATION_MAX"`
	Amounts []int64 `yaml:"amounts" envconfig:"DONATION_AMOUNTS"`
}

// NotifyConfig tunes broadcast fan-out.
type NotifyConfig struct {
	Workers        int `yaml:"workers" envconfig:"NOTIFY_WORKERS"`
	TimeoutSeconds int `yaml:"timeout_seconds" envconfig:"NOTIFY_TIMEOUT_SECONDS"`
}

// HTTPConfig configures the health and payment webhook server. An empty
// Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Store    StoreConfig         `yaml:"store"`
	Payment  PaymentConfig       `yaml:"payment"`
	Donation DonationConfig      `yaml:"donation"`
	Notify   NotifyConfig        `yaml:"notify"`
	HTTP     HTTPConfig          `yaml:"http"`
}

// CoreConfig exposes the embedded core section.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	backend := strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if backend == "" {
		backend = StorePostgres
	}
	switch backend {
	case StorePostgres:
		if strings.TrimSpace(c.Database.Host) == "" || strings.TrimSpace(c.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when store.backend is 'postgres'")
		}
		if strings.TrimSpace(c.Database.Port) == "" {
			c.Database.Port = "5432"
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store.backend %q; allowed: postgres, memory", c.Store.Backend)
	}
	c.Store.Backend = backend

	if c.Donation.Min < 0 || c.Donation.Max < 0 {
		return fmt.Errorf("donation bounds must be >= 0")
	}
	if c.Donation.Min > 0 && c.Donation.Max > 0 && c.Donation.Min > c.Donation.Max {
		return fmt.Errorf("donation.min %d exceeds donation.max %d", c.Donation.Min, c.Donation.Max)
	}
	for _, a := range c.Donation.Amounts {
		if a <= 0 {
			return fmt.Errorf("donation.amounts must be positive, got %d", a)
		}
	}
	if c.Payment.TimeoutSeconds < 0 {
		return fmt.Errorf("payment.timeout_seconds must be >= 0")
	}
	if c.Notify.Workers < 0 || c.Notify.TimeoutSeconds < 0 {
		return fmt.Errorf("notify.workers and notify.timeout_seconds must be >= 0")
	}
	c.Payment.Currency = strings.ToUpper(strings.TrimSpace(c.Payment.Currency))
	return nil
}
