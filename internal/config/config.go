// ABOUTME: Configuration loading and parsing for agrobot
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agrobot configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Console    ConsoleConfig    `yaml:"console"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Handoff    HandoffConfig    `yaml:"handoff"`
	Dialog     DialogConfig     `yaml:"dialog"`
	Transport  TransportConfig  `yaml:"transport"`
	CRM        CRMConfig        `yaml:"crm"`
	AI         AIConfig         `yaml:"ai"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Quotes     QuotesConfig     `yaml:"quotes"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// WebhookConfig holds the channel webhook settings
type WebhookConfig struct {
	Path        string `yaml:"path"`
	VerifyToken string `yaml:"verify_token"`
}

// ConsoleConfig holds the operator console settings
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// SessionsConfig holds session persistence and lifecycle settings
type SessionsConfig struct {
	Dir           string `yaml:"dir"`
	LedgerPath    string `yaml:"ledger_path"`
	SweepSchedule string `yaml:"sweep_schedule"` // cron expression

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// DedupeConfig bounds the inbound event dedup cache
type DedupeConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// DispatcherConfig holds outbound delivery pacing
type DispatcherConfig struct {
	MinDelay time.Duration `yaml:"-"`

	MinDelayRaw string `yaml:"min_delay"`
}

// HandoffConfig holds human takeover timing
type HandoffConfig struct {
	Duration      time.Duration `yaml:"-"`
	AlertCooldown time.Duration `yaml:"-"`

	DurationRaw      string `yaml:"duration"`
	AlertCooldownRaw string `yaml:"alert_cooldown"`
}

// DialogConfig holds dialogue engine tuning
type DialogConfig struct {
	CurrentCampaign string `yaml:"current_campaign"`
	SmartAnswers    bool   `yaml:"smart_answers"`

	FreshnessWindow time.Duration `yaml:"-"`

	FreshnessWindowRaw string `yaml:"freshness_window"`
}

// TransportConfig holds the channel API credentials
type TransportConfig struct {
	BaseURL       string `yaml:"base_url"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
}

// CRMConfig holds the profile bridge settings
type CRMConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// AIConfig holds the smart answer collaborator settings
type AIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// AlertsConfig holds the advisor alert broker settings
type AlertsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// QuotesConfig holds the price list and quote output locations
type QuotesConfig struct {
	PriceList string `yaml:"price_list"`
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhook"
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = 12 * time.Hour
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = "*/10 * * * *"
	}
	if c.Sessions.LedgerPath == "" && c.Sessions.Dir != "" {
		c.Sessions.LedgerPath = c.Sessions.Dir + "/mensajes.db"
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 100_000
	}
	if c.Dispatcher.MinDelay == 0 {
		c.Dispatcher.MinDelay = time.Second
	}
	if c.Handoff.Duration == 0 {
		c.Handoff.Duration = 30 * time.Minute
	}
	if c.Handoff.AlertCooldown == 0 {
		c.Handoff.AlertCooldown = 10 * time.Minute
	}
	if c.Dialog.FreshnessWindow == 0 {
		c.Dialog.FreshnessWindow = 5 * time.Minute
	}
	if c.Dialog.CurrentCampaign == "" {
		c.Dialog.CurrentCampaign = "verano"
	}
	if c.Quotes.OutputDir == "" {
		c.Quotes.OutputDir = "cotizaciones"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Alerts.Exchange == "" {
		c.Alerts.Exchange = "advisor.alerts"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook.verify_token is required")
	}
	if c.Sessions.Dir == "" {
		return fmt.Errorf("sessions.dir is required")
	}
	if c.Transport.BaseURL == "" {
		return fmt.Errorf("transport.base_url is required")
	}
	if c.Transport.PhoneNumberID == "" {
		return fmt.Errorf("transport.phone_number_id is required")
	}
	if c.Transport.AccessToken == "" {
		return fmt.Errorf("transport.access_token is required")
	}
	if c.Quotes.PriceList == "" {
		return fmt.Errorf("quotes.price_list is required")
	}
	if c.Console.Enabled && c.Console.Token == "" {
		return fmt.Errorf("console.token is required when the console is enabled")
	}
	if c.CRM.Enabled && c.CRM.BaseURL == "" {
		return fmt.Errorf("crm.base_url is required when crm is enabled")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required when ai is enabled")
	}
	if c.Alerts.Enabled && c.Alerts.URL == "" {
		return fmt.Errorf("alerts.url is required when alerts are enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Sessions.TTLRaw, "sessions.ttl", &cfg.Sessions.TTL},
		{cfg.Dispatcher.MinDelayRaw, "dispatcher.min_delay", &cfg.Dispatcher.MinDelay},
		{cfg.Handoff.DurationRaw, "handoff.duration", &cfg.Handoff.Duration},
		{cfg.Handoff.AlertCooldownRaw, "handoff.alert_cooldown", &cfg.Handoff.AlertCooldown},
		{cfg.Dialog.FreshnessWindowRaw, "dialog.freshness_window", &cfg.Dialog.FreshnessWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
