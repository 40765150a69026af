package config

import "github.com/pitabwire/frame"

type MonarchConfig struct {
	frame.ConfigurationDefault

	PartnerName string `envDefault:"" env:"MONARCH_PARTNER_NAME"`

	// Sandbox selects the devapi environment and the sandbox credential set.
	Sandbox bool `envDefault:"true" env:"MONARCH_SANDBOX"`

	SandboxAPIKey        string `envDefault:"" env:"MONARCH_SANDBOX_API_KEY"`
	SandboxAppID         string `envDefault:"" env:"MONARCH_SANDBOX_APP_ID"`
	SandboxMerchantOrgID string `envDefault:"" env:"MONARCH_SANDBOX_MERCHANT_ORG_ID"`

	LiveAPIKey        string `envDefault:"" env:"MONARCH_LIVE_API_KEY"`
	LiveAppID         string `envDefault:"" env:"MONARCH_LIVE_APP_ID"`
	LiveMerchantOrgID string `envDefault:"" env:"MONARCH_LIVE_MERCHANT_ORG_ID"`

	SandboxBaseURL string `envDefault:"https://devapi.monarch.is/v1" env:"MONARCH_SANDBOX_BASE_URL"`
	LiveBaseURL    string `envDefault:"https://api.monarch.is/v1" env:"MONARCH_LIVE_BASE_URL"`

	// checkout page the bank callback returns shoppers to
	CheckoutURL string `envDefault:"/checkout" env:"CHECKOUT_URL"`

	ReconcileIntervalMinutes int `envDefault:"120" env:"RECONCILE_INTERVAL_MINUTES"`

	RedisHost string `envDefault:"localhost" env:"REDIS_HOST"`
	RedisPort string `envDefault:"6379" env:"REDIS_PORT"`
}

func (c *MonarchConfig) BaseURL() string {
	if c.Sandbox {
		return c.SandboxBaseURL
	}
	return c.LiveBaseURL
}

func (c *MonarchConfig) ActiveAPIKey() string {
	if c.Sandbox {
		return c.SandboxAPIKey
	}
	return c.LiveAPIKey
}

func (c *MonarchConfig) ActiveAppID() string {
	if c.Sandbox {
		return c.SandboxAppID
	}
	return c.LiveAppID
}

func (c *MonarchConfig) ActiveMerchantOrgID() string {
	if c.Sandbox {
		return c.SandboxMerchantOrgID
	}
	return c.LiveMerchantOrgID
}

// IsReady reports whether all credentials required to take payments are configured.
func (c *MonarchConfig) IsReady() bool {
	return c.ActiveAPIKey() != "" && c.ActiveAppID() != "" &&
		c.ActiveMerchantOrgID() != "" && c.PartnerName != ""
}
