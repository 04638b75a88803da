package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/blast/internal/dnscheck"
)

// Config is the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Transports TransportsConfig `yaml:"transports"`
	Render     RenderConfig     `yaml:"render"`
	History    HistoryConfig    `yaml:"history"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN used in EHLO and Message-ID
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max campaign request size (default: 25MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // Non-streaming write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustedProxies []string      `yaml:"trusted_proxies"`  // Peers whose X-Forwarded-For is honoured
	CORS           CORSConfig    `yaml:"cors"`
	TLS            TLSConfig     `yaml:"tls"`
}

// CORSConfig controls browser access to the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"` // empty disables CORS handling
	MaxAge         int      `yaml:"max_age"`         // preflight cache in seconds
}

// TLSConfig contains TLS certificate settings for the API listener
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Email         string   `yaml:"email"`
	Domains       []string `yaml:"domains"`
	CacheDir      string   `yaml:"cache_dir"`
	ChallengeAddr string   `yaml:"challenge_addr"` // HTTP-01 listener (default: :80)
}

// CampaignConfig controls pacing and retries of a campaign
type CampaignConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`    // default: 3
	MinInterval    time.Duration `yaml:"min_interval"`    // between any two attempts (default: 50s)
	BackoffBase    time.Duration `yaml:"backoff_base"`    // default: 1s
	BackoffMax     time.Duration `yaml:"backoff_max"`     // default: 30s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"` // default: 2m
	Greeting       string        `yaml:"greeting"`        // liquid template, bindings: name, email
	Providers      []string      `yaml:"providers"`       // allowed emailProvider values (empty = all enabled)
}

// TransportsConfig configures the delivery adapters
type TransportsConfig struct {
	SMTP    SMTPTransportConfig `yaml:"smtp"`
	Resend  ResendConfig        `yaml:"resend"`
	SES     SESConfig           `yaml:"ses"`
	Sandbox SandboxConfig       `yaml:"sandbox"`
}

// SMTPTransportConfig configures submission to gmail, outlook and improvemx
type SMTPTransportConfig struct {
	Port               int               `yaml:"port"`    // default: 587
	Timeout            time.Duration     `yaml:"timeout"` // dial and command timeout (default: 30s)
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	VerifyOnOpen       *bool             `yaml:"verify_on_open"` // authenticate before streaming (default: true)
	Hosts              map[string]string `yaml:"hosts"`          // provider -> host overrides
	DKIM               []DKIMConfig      `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings for one sender domain
type DKIMConfig struct {
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// ResendConfig configures the HTTP API adapter
type ResendConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SESConfig configures the Amazon SES adapter
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SandboxConfig configures the capturing adapter used for dry runs
type SandboxConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ErrorProbability float64 `yaml:"error_probability"` // 0..1, simulated temporary failures
	MaxMessages      int     `yaml:"max_messages"`      // captured messages kept (default: 500)
}

// RenderConfig controls document rendering
type RenderConfig struct {
	Sanitize     bool   `yaml:"sanitize"`
	InlineImages string `yaml:"inline_images"` // data or cid (default: data)
}

// HistoryConfig contains the CLI history cache settings
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9090
	Path            string        `yaml:"path"`             // Default: /metrics
	CollectInterval time.Duration `yaml:"collect_interval"` // Default: 10s
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a runnable configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "localhost"
		}
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 25 << 20 // 25 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.CORS.MaxAge == 0 {
		c.API.CORS.MaxAge = 300
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/blast/certs"
	}
	if c.API.TLS.ACME.ChallengeAddr == "" {
		c.API.TLS.ACME.ChallengeAddr = ":80"
	}

	if c.Campaign.MaxAttempts == 0 {
		c.Campaign.MaxAttempts = 3
	}
	if c.Campaign.MinInterval == 0 {
		c.Campaign.MinInterval = 50 * time.Second
	}
	if c.Campaign.BackoffBase == 0 {
		c.Campaign.BackoffBase = time.Second
	}
	if c.Campaign.BackoffMax == 0 {
		c.Campaign.BackoffMax = 30 * time.Second
	}
	if c.Campaign.AttemptTimeout == 0 {
		c.Campaign.AttemptTimeout = 2 * time.Minute
	}
	if c.Campaign.Greeting == "" {
		c.Campaign.Greeting = "Dear {{ name }},"
	}

	smtp := &c.Transports.SMTP
	if smtp.Port == 0 {
		smtp.Port = 587
	}
	if smtp.Timeout == 0 {
		smtp.Timeout = 30 * time.Second
	}
	if smtp.VerifyOnOpen == nil {
		verify := true
		smtp.VerifyOnOpen = &verify
	}

	if c.Transports.Resend.Endpoint == "" {
		c.Transports.Resend.Endpoint = "https://api.resend.com/emails"
	}
	if c.Transports.Resend.Timeout == 0 {
		c.Transports.Resend.Timeout = 30 * time.Second
	}
	if c.Transports.Sandbox.MaxMessages == 0 {
		c.Transports.Sandbox.MaxMessages = 500
	}

	if c.Render.InlineImages == "" {
		c.Render.InlineImages = "data"
	}

	if c.History.Path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.History.Path = dir + "/blast/history.db"
		} else {
			c.History.Path = "blast-history.db"
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 10 * time.Second
	}
}

var validProviders = map[string]bool{
	"gmail": true, "outlook": true, "improvemx": true,
	"resend": true, "ses": true, "sandbox": true,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateCampaign(); err != nil {
		return err
	}

	if err := c.validateTransports(); err != nil {
		return err
	}

	if c.Render.InlineImages != "data" && c.Render.InlineImages != "cid" {
		return fmt.Errorf("invalid render.inline_images: %s (must be data or cid)", c.Render.InlineImages)
	}

	// Validate TLS configuration
	if err := c.validateTLS(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateCampaign() error {
	cc := c.Campaign
	if cc.MaxAttempts < 1 {
		return fmt.Errorf("campaign.max_attempts must be at least 1")
	}
	if cc.MinInterval < 0 {
		return fmt.Errorf("campaign.min_interval must not be negative")
	}
	if cc.BackoffBase < 0 || cc.BackoffMax < 0 {
		return fmt.Errorf("campaign backoff durations must not be negative")
	}
	if cc.AttemptTimeout < 0 {
		return fmt.Errorf("campaign.attempt_timeout must not be negative")
	}
	for _, p := range cc.Providers {
		if !validProviders[strings.ToLower(p)] {
			return fmt.Errorf("unknown provider in campaign.providers: %s", p)
		}
	}
	return nil
}

func (c *Config) validateTransports() error {
	t := c.Transports
	if t.SMTP.Port < 1 || t.SMTP.Port > 65535 {
		return fmt.Errorf("invalid transports.smtp.port: %d", t.SMTP.Port)
	}
	for provider := range t.SMTP.Hosts {
		switch provider {
		case "gmail", "outlook", "improvemx":
		default:
			return fmt.Errorf("transports.smtp.hosts: %s is not an SMTP provider", provider)
		}
	}
	for i, d := range t.SMTP.DKIM {
		if d.Domain == "" || d.Selector == "" || d.KeyFile == "" {
			return fmt.Errorf("transports.smtp.dkim[%d] requires domain, selector and key_file", i)
		}
		if err := dnscheck.ValidateDomain(d.Domain); err != nil {
			return fmt.Errorf("transports.smtp.dkim[%d].domain: %w", i, err)
		}
		if err := dnscheck.ValidateSelector(d.Selector); err != nil {
			return fmt.Errorf("transports.smtp.dkim[%d].selector: %w", i, err)
		}
	}
	if t.Sandbox.ErrorProbability < 0 || t.Sandbox.ErrorProbability > 1 {
		return fmt.Errorf("transports.sandbox.error_probability must be between 0 and 1")
	}
	return nil
}

// validateTLS validates TLS configuration
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("api.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("api.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// HasTLS returns true if TLS is configured for the API listener
func (c *Config) HasTLS() bool {
	return (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "") || c.API.TLS.ACME.Enabled
}
