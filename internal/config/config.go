package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models fundline.yml: the static project catalog plus provider
// credentials. Projects are reference data; the engine never mutates them.
type Config struct {
	Projects  map[string]ProjectConfig `yaml:"projects"`
	Providers struct {
		Stripe StripeConfig `yaml:"stripe"`
		PayPal PayPalConfig `yaml:"paypal"`
	} `yaml:"providers"`
	Checkout struct {
		SuccessURL string `yaml:"success_url"`
		CancelURL  string `yaml:"cancel_url"`
	} `yaml:"checkout"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	FundingGoal int64  `yaml:"funding_goal"`
	Currency    string `yaml:"currency"`
}

type StripeConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIBaseURL    string `yaml:"api_base_url"`
}

type PayPalConfig struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIBaseURL    string `yaml:"api_base_url"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run fundline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("config.projects is required")
	}
	for id, p := range c.Projects {
		if id == "" {
			return fmt.Errorf("config.projects contains empty project id")
		}
		if p.Name == "" {
			return fmt.Errorf("project %s: name is required", id)
		}
		if p.FundingGoal <= 0 {
			return fmt.Errorf("project %s: funding_goal must be positive", id)
		}
		if err := validCurrency(p.Currency); err != nil {
			return fmt.Errorf("project %s: %w", id, err)
		}
	}
	// Provider secrets come from env when unset in YAML; resolve before
	// validating so a file with env placeholders still loads.
	c.resolveEnv()
	return nil
}

func validCurrency(cur string) error {
	if len(cur) != 3 || cur != strings.ToUpper(cur) {
		return fmt.Errorf("currency must be a 3-letter uppercase code, got %q", cur)
	}
	return nil
}

func (c *Config) resolveEnv() {
	if c.Providers.Stripe.APIKey == "" {
		c.Providers.Stripe.APIKey = os.Getenv("FUNDLINE_STRIPE_API_KEY")
	}
	if c.Providers.Stripe.WebhookSecret == "" {
		c.Providers.Stripe.WebhookSecret = os.Getenv("FUNDLINE_STRIPE_WEBHOOK_SECRET")
	}
	if c.Providers.PayPal.ClientID == "" {
		c.Providers.PayPal.ClientID = os.Getenv("FUNDLINE_PAYPAL_CLIENT_ID")
	}
	if c.Providers.PayPal.ClientSecret == "" {
		c.Providers.PayPal.ClientSecret = os.Getenv("FUNDLINE_PAYPAL_CLIENT_SECRET")
	}
	if c.Providers.PayPal.WebhookSecret == "" {
		c.Providers.PayPal.WebhookSecret = os.Getenv("FUNDLINE_PAYPAL_WEBHOOK_SECRET")
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fundline.yml")
}

// Default returns the default Config struct with the sample project catalog.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.resolveEnv()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `projects:
  project_1:
    name: "Open Source Project 1"
    description: "Educational tooling for students"
    funding_goal: 500000
    currency: USD
  project_2:
    name: "Open Source Project 2"
    description: "Community infrastructure"
    funding_goal: 1000000
    currency: USD

providers:
  stripe:
    api_base_url: https://api.stripe.com
    # api_key / webhook_secret resolve from FUNDLINE_STRIPE_* env when empty
  paypal:
    api_base_url: https://api.sandbox.paypal.com
    # client_id / client_secret / webhook_secret resolve from FUNDLINE_PAYPAL_* env

checkout:
  success_url: http://localhost:8080/success
  cancel_url: http://localhost:8080/cancel
`
