package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/torvus"
	ConfigFileName    = "torvus.yml"

	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"

	DefaultIdentityHeader = "Cf-Access-Authenticated-User-Email"
)

// ValidEnvironments lists the accepted values for the environment attribute
var ValidEnvironments = []string{EnvDevelopment, EnvStaging, EnvProduction}

// Config holds all Torvus Console configuration settings
type Config struct {
	// Environment is one of development, staging or production
	Environment string `yaml:"environment" json:"environment"`

	// IdentityHeader is the header the edge access layer sets to the authenticated email
	IdentityHeader string `yaml:"identity_header" json:"identity_header"`

	// AccessJWTPublicKeyPath optionally points at a PEM public key used to verify
	// the edge access JWT assertion
	AccessJWTPublicKeyPath string `yaml:"access_jwt_public_key_path" json:"access_jwt_public_key_path"`

	// TrustedProxies is a list of CIDR ranges whose X-Forwarded-For is honoured
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`

	// ElevationDefaultWindowMinutes is used when a request omits its window
	ElevationDefaultWindowMinutes int `yaml:"elevation_default_window_minutes" json:"elevation_default_window_minutes"`

	// ElevationMaxWindowMinutes caps the window a request may ask for
	ElevationMaxWindowMinutes int `yaml:"elevation_max_window_minutes" json:"elevation_max_window_minutes"`

	// SecretRequestTTLHours is how long a secret change request may stay pending
	SecretRequestTTLHours int `yaml:"secret_request_ttl_hours" json:"secret_request_ttl_hours"`

	// DevSingleApprover relaxes dual control to one approver. Only honoured in
	// binaries built with the torvus_devquorum tag and never in production.
	DevSingleApprover bool `yaml:"dev_single_approver" json:"dev_single_approver"`

	// AuditEnabled turns the audit sink on or off
	AuditEnabled bool `yaml:"audit_enabled" json:"audit_enabled"`

	// NotificationURLs are shoutrrr service URLs
	NotificationURLs []string `yaml:"notification_urls" json:"notification_urls"`

	// WebhookURLs receive signed JSON events
	WebhookURLs []string `yaml:"webhook_urls" json:"webhook_urls"`

	// WebhookSigningSecret signs outgoing webhook bodies
	WebhookSigningSecret string `yaml:"webhook_signing_secret" json:"-"`

	// SweepSchedule is the cron spec of the expiry sweep
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`

	// MetricsEnabled exposes /metrics
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Global singleton config, used by the CLI
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// newDefault returns a config with default values
func newDefault() *Config {
	return &Config{
		Environment:                   EnvProduction,
		IdentityHeader:                DefaultIdentityHeader,
		TrustedProxies:                []string{},
		ElevationDefaultWindowMinutes: 60,
		ElevationMaxWindowMinutes:     480,
		SecretRequestTTLHours:         24,
		DevSingleApprover:             false,
		AuditEnabled:                  true,
		NotificationURLs:              []string{},
		WebhookURLs:                   []string{},
		SweepSchedule:                 "@every 1m",
		MetricsEnabled:                true,
		sources:                       make(map[string]string),
	}
}

// Default returns the built-in configuration without consulting file or environment
func Default() *Config {
	cfg := newDefault()
	for _, name := range attributeNames() {
		cfg.sources[name] = "default"
	}
	return cfg
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	config := Default()

	configPath := os.Getenv("TORVUS_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config.configFilePath = filepath.Join(configPath, ConfigFileName)

	if data, err := os.ReadFile(config.configFilePath); err == nil {
		var fileConfig fileValues
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		config.applyFileConfig(&fileConfig)
	}

	config.applyEnvConfig()

	return config, nil
}

// fileValues mirrors Config with pointer booleans so that an explicit false in
// the file can be told apart from an absent key
type fileValues struct {
	Environment                   string   `yaml:"environment"`
	IdentityHeader                string   `yaml:"identity_header"`
	AccessJWTPublicKeyPath        string   `yaml:"access_jwt_public_key_path"`
	TrustedProxies                []string `yaml:"trusted_proxies"`
	ElevationDefaultWindowMinutes int      `yaml:"elevation_default_window_minutes"`
	ElevationMaxWindowMinutes     int      `yaml:"elevation_max_window_minutes"`
	SecretRequestTTLHours         int      `yaml:"secret_request_ttl_hours"`
	DevSingleApprover             *bool    `yaml:"dev_single_approver"`
	AuditEnabled                  *bool    `yaml:"audit_enabled"`
	NotificationURLs              []string `yaml:"notification_urls"`
	WebhookURLs                   []string `yaml:"webhook_urls"`
	WebhookSigningSecret          string   `yaml:"webhook_signing_secret"`
	SweepSchedule                 string   `yaml:"sweep_schedule"`
	MetricsEnabled                *bool    `yaml:"metrics_enabled"`
}

func attributeNames() []string {
	return []string{
		"environment", "identity_header", "access_jwt_public_key_path",
		"trusted_proxies", "elevation_default_window_minutes",
		"elevation_max_window_minutes", "secret_request_ttl_hours",
		"dev_single_approver", "audit_enabled", "notification_urls",
		"webhook_urls", "webhook_signing_secret", "sweep_schedule",
		"metrics_enabled",
	}
}

func (c *Config) applyFileConfig(file *fileValues) {
	if file.Environment != "" {
		c.Environment = strings.ToLower(file.Environment)
		c.sources["environment"] = "file"
	}
	if file.IdentityHeader != "" {
		c.IdentityHeader = file.IdentityHeader
		c.sources["identity_header"] = "file"
	}
	if file.AccessJWTPublicKeyPath != "" {
		c.AccessJWTPublicKeyPath = file.AccessJWTPublicKeyPath
		c.sources["access_jwt_public_key_path"] = "file"
	}
	if len(file.TrustedProxies) > 0 {
		c.TrustedProxies = file.TrustedProxies
		c.sources["trusted_proxies"] = "file"
	}
	if file.ElevationDefaultWindowMinutes != 0 {
		c.ElevationDefaultWindowMinutes = file.ElevationDefaultWindowMinutes
		c.sources["elevation_default_window_minutes"] = "file"
	}
	if file.ElevationMaxWindowMinutes != 0 {
		c.ElevationMaxWindowMinutes = file.ElevationMaxWindowMinutes
		c.sources["elevation_max_window_minutes"] = "file"
	}
	if file.SecretRequestTTLHours != 0 {
		c.SecretRequestTTLHours = file.SecretRequestTTLHours
		c.sources["secret_request_ttl_hours"] = "file"
	}
	if file.DevSingleApprover != nil {
		c.DevSingleApprover = *file.DevSingleApprover
		c.sources["dev_single_approver"] = "file"
	}
	if file.AuditEnabled != nil {
		c.AuditEnabled = *file.AuditEnabled
		c.sources["audit_enabled"] = "file"
	}
	if len(file.NotificationURLs) > 0 {
		c.NotificationURLs = file.NotificationURLs
		c.sources["notification_urls"] = "file"
	}
	if len(file.WebhookURLs) > 0 {
		c.WebhookURLs = file.WebhookURLs
		c.sources["webhook_urls"] = "file"
	}
	if file.WebhookSigningSecret != "" {
		c.WebhookSigningSecret = file.WebhookSigningSecret
		c.sources["webhook_signing_secret"] = "file"
	}
	if file.SweepSchedule != "" {
		c.SweepSchedule = file.SweepSchedule
		c.sources["sweep_schedule"] = "file"
	}
	if file.MetricsEnabled != nil {
		c.MetricsEnabled = *file.MetricsEnabled
		c.sources["metrics_enabled"] = "file"
	}
}

func (c *Config) applyEnvConfig() {
	if val := os.Getenv("TORVUS_ENV"); val != "" {
		c.Environment = strings.ToLower(val)
		c.sources["environment"] = "environment"
	}
	if val := os.Getenv("TORVUS_IDENTITY_HEADER"); val != "" {
		c.IdentityHeader = val
		c.sources["identity_header"] = "environment"
	}
	if val := os.Getenv("TORVUS_ACCESS_JWT_PUBLIC_KEY_PATH"); val != "" {
		c.AccessJWTPublicKeyPath = val
		c.sources["access_jwt_public_key_path"] = "environment"
	}
	if val := os.Getenv("TORVUS_TRUSTED_PROXIES"); val != "" {
		c.TrustedProxies = splitAndTrim(val)
		c.sources["trusted_proxies"] = "environment"
	}
	if val := os.Getenv("TORVUS_ELEVATION_DEFAULT_WINDOW_MINUTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.ElevationDefaultWindowMinutes = i
			c.sources["elevation_default_window_minutes"] = "environment"
		}
	}
	if val := os.Getenv("TORVUS_ELEVATION_MAX_WINDOW_MINUTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.ElevationMaxWindowMinutes = i
			c.sources["elevation_max_window_minutes"] = "environment"
		}
	}
	if val := os.Getenv("TORVUS_SECRET_REQUEST_TTL_HOURS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.SecretRequestTTLHours = i
			c.sources["secret_request_ttl_hours"] = "environment"
		}
	}
	if val := os.Getenv("TORVUS_DEV_SINGLE_APPROVER"); val != "" {
		c.DevSingleApprover = parseBool(val)
		c.sources["dev_single_approver"] = "environment"
	}
	if val := os.Getenv("TORVUS_AUDIT_ENABLED"); val != "" {
		c.AuditEnabled = parseBool(val)
		c.sources["audit_enabled"] = "environment"
	}
	if val := os.Getenv("TORVUS_NOTIFICATION_URLS"); val != "" {
		c.NotificationURLs = splitAndTrim(val)
		c.sources["notification_urls"] = "environment"
	}
	if val := os.Getenv("TORVUS_WEBHOOK_URLS"); val != "" {
		c.WebhookURLs = splitAndTrim(val)
		c.sources["webhook_urls"] = "environment"
	}
	if val := os.Getenv("TORVUS_WEBHOOK_SIGNING_SECRET"); val != "" {
		c.WebhookSigningSecret = val
		c.sources["webhook_signing_secret"] = "environment"
	}
	if val := os.Getenv("TORVUS_SWEEP_SCHEDULE"); val != "" {
		c.SweepSchedule = val
		c.sources["sweep_schedule"] = "environment"
	}
	if val := os.Getenv("TORVUS_METRICS_ENABLED"); val != "" {
		c.MetricsEnabled = parseBool(val)
		c.sources["metrics_enabled"] = "environment"
	}
}

// ConfigFilePath returns the path to the config file
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// IsProduction reports whether the configured environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ElevationDefaultWindow returns the default elevation window as a duration
func (c *Config) ElevationDefaultWindow() time.Duration {
	return time.Duration(c.ElevationDefaultWindowMinutes) * time.Minute
}

// SecretRequestTTL returns how long secret change requests stay pending
func (c *Config) SecretRequestTTL() time.Duration {
	return time.Duration(c.SecretRequestTTLHours) * time.Hour
}

// IsTrustedProxy checks if an IP is from a trusted proxy
func (c *Config) IsTrustedProxy(ip string) bool {
	if len(c.TrustedProxies) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidr := range c.TrustedProxies {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			if net.ParseIP(cidr) != nil && cidr == ip {
				return true
			}
			continue
		}
		if network.Contains(parsedIP) {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	valid := false
	for _, env := range ValidEnvironments {
		if c.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid environment: %q", c.Environment)
	}

	if c.DevSingleApprover && c.IsProduction() {
		return fmt.Errorf("dev_single_approver cannot be enabled in production")
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			if net.ParseIP(cidr) == nil {
				return fmt.Errorf("invalid trusted_proxies value: %s", cidr)
			}
		}
	}

	if c.IdentityHeader == "" {
		return fmt.Errorf("identity_header must not be empty")
	}
	if c.ElevationDefaultWindowMinutes <= 0 {
		return fmt.Errorf("elevation_default_window_minutes must be positive")
	}
	if c.ElevationMaxWindowMinutes < c.ElevationDefaultWindowMinutes {
		return fmt.Errorf("elevation_max_window_minutes must be at least elevation_default_window_minutes")
	}
	if c.SecretRequestTTLHours <= 0 {
		return fmt.Errorf("secret_request_ttl_hours must be positive")
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSigningSecret == "" {
		return fmt.Errorf("webhook_signing_secret is required when webhook_urls are set")
	}

	return nil
}

// Attributes returns all configuration attributes with their values and sources
func (c *Config) Attributes() []Attribute {
	secret := ""
	if c.WebhookSigningSecret != "" {
		secret = "(set)"
	}
	return []Attribute{
		{Name: "environment", Value: c.Environment, Source: c.Source("environment")},
		{Name: "identity_header", Value: c.IdentityHeader, Source: c.Source("identity_header")},
		{Name: "access_jwt_public_key_path", Value: c.AccessJWTPublicKeyPath, Source: c.Source("access_jwt_public_key_path")},
		{Name: "trusted_proxies", Value: strings.Join(c.TrustedProxies, ","), Source: c.Source("trusted_proxies")},
		{Name: "elevation_default_window_minutes", Value: strconv.Itoa(c.ElevationDefaultWindowMinutes), Source: c.Source("elevation_default_window_minutes")},
		{Name: "elevation_max_window_minutes", Value: strconv.Itoa(c.ElevationMaxWindowMinutes), Source: c.Source("elevation_max_window_minutes")},
		{Name: "secret_request_ttl_hours", Value: strconv.Itoa(c.SecretRequestTTLHours), Source: c.Source("secret_request_ttl_hours")},
		{Name: "dev_single_approver", Value: strconv.FormatBool(c.DevSingleApprover), Source: c.Source("dev_single_approver")},
		{Name: "audit_enabled", Value: strconv.FormatBool(c.AuditEnabled), Source: c.Source("audit_enabled")},
		{Name: "notification_urls", Value: strconv.Itoa(len(c.NotificationURLs)) + " configured", Source: c.Source("notification_urls")},
		{Name: "webhook_urls", Value: strings.Join(c.WebhookURLs, ","), Source: c.Source("webhook_urls")},
		{Name: "webhook_signing_secret", Value: secret, Source: c.Source("webhook_signing_secret")},
		{Name: "sweep_schedule", Value: c.SweepSchedule, Source: c.Source("sweep_schedule")},
		{Name: "metrics_enabled", Value: strconv.FormatBool(c.MetricsEnabled), Source: c.Source("metrics_enabled")},
	}
}

// FormatText returns a text representation of the configuration
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-36s %-30s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-36s %-30s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		sb.WriteString(fmt.Sprintf("%-36s %-30s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file": c.configFilePath,
		"attributes":  c.Attributes(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseBool(val string) bool {
	val = strings.ToLower(strings.TrimSpace(val))
	return val == "true" || val == "1" || val == "yes"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
