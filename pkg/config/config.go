// Package config provides configuration structures and loading logic for the edge.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nolto/nolto-edge/pkg/discovery"
	"github.com/nolto/nolto-edge/pkg/federation"
)

// Config holds the global configuration for the edge.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Federation FederationConfig `yaml:"federation"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Inbox      InboxConfig      `yaml:"inbox"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	Address      string `yaml:"address"`
	AdminAddress string `yaml:"admin_address"`
}

// FederationConfig holds the handle resolver settings.
type FederationConfig struct {
	CanonicalDomain  string   `yaml:"canonical_domain"`
	PreviewSuffixes  []string `yaml:"preview_suffixes"`
	FallbackHostname string   `yaml:"fallback_hostname"`
}

// DiscoveryConfig holds the webfinger proxy rule.
type DiscoveryConfig struct {
	MatchPath   string          `yaml:"match_path"`
	UpstreamURL string          `yaml:"upstream_url"`
	PolicyFile  string          `yaml:"policy_file"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits discovery lookups per client address. Zero disables it.
// TrustForwardedFor keys clients on the last X-Forwarded-For hop and is only
// safe behind a proxy that always sets it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TrustForwardedFor bool    `yaml:"trust_forwarded_for"`
}

// InboxConfig holds the redirector targets.
type InboxConfig struct {
	BackendBaseURL string `yaml:"backend_base_url"`
	ProfilePath    string `yaml:"profile_path"`
	NotFoundPath   string `yaml:"not_found_path"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used before the file and environment are applied.
func Default() *Config {
	settings := federation.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			AdminAddress: ":19090",
		},
		Federation: FederationConfig{
			CanonicalDomain:  settings.CanonicalDomain,
			PreviewSuffixes:  settings.PreviewSuffixes,
			FallbackHostname: settings.FallbackHostname,
		},
		Discovery: DiscoveryConfig{
			MatchPath: discovery.WebfingerPath,
		},
		Inbox: InboxConfig{
			ProfilePath:  "/profile",
			NotFoundPath: "/not-found",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from a file and applies environment variable overrides.
// A missing or invalid upstream or backend URL wraps domain.ErrMisconfiguredEndpoint.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("NOLTO_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("NOLTO_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("NOLTO_CANONICAL_DOMAIN"); val != "" {
		cfg.Federation.CanonicalDomain = val
	}
	if val := os.Getenv("NOLTO_PREVIEW_SUFFIXES"); val != "" {
		cfg.Federation.PreviewSuffixes = splitList(val)
	}
	if val, ok := os.LookupEnv("NOLTO_FALLBACK_HOSTNAME"); ok {
		cfg.Federation.FallbackHostname = val
	}

	if val := os.Getenv("WEBFINGER_UPSTREAM_URL"); val != "" {
		cfg.Discovery.UpstreamURL = val
	}
	if val := os.Getenv("NOLTO_DISCOVERY_POLICY"); val != "" {
		cfg.Discovery.PolicyFile = val
	}
	if val, err := strconv.ParseFloat(os.Getenv("NOLTO_DISCOVERY_RPS"), 64); err == nil {
		cfg.Discovery.RateLimit.RequestsPerSecond = val
	}
	if val, err := strconv.ParseBool(os.Getenv("NOLTO_TRUST_FORWARDED_FOR")); err == nil {
		cfg.Discovery.RateLimit.TrustForwardedFor = val
	}
	if val := os.Getenv("NOLTO_BACKEND_BASE_URL"); val != "" {
		cfg.Inbox.BackendBaseURL = val
	}

	if val := os.Getenv("NOLTO_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val, err := strconv.ParseBool(os.Getenv("NOLTO_OTLP_INSECURE")); err == nil {
		cfg.Telemetry.Insecure = val
	}
	if val := os.Getenv("NOLTO_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}
	if val := os.Getenv("NOLTO_OTLP_HEADERS"); val != "" {
		cfg.Telemetry.Headers = splitPairs(val)
	}
	if val := os.Getenv("NOLTO_RESOURCE_TAGS"); val != "" {
		cfg.Telemetry.ResourceTags = splitPairs(val)
	}

	if val := os.Getenv("NOLTO_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val, err := strconv.ParseBool(os.Getenv("NOLTO_LOG_PRETTY")); err == nil {
		cfg.Logging.Pretty = val
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitPairs parses "k1=v1,k2=v2". Entries without a key are skipped.
func splitPairs(val string) map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(val) {
		k, v, _ := strings.Cut(item, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Federation.Validate(); err != nil {
		return fmt.Errorf("federation configuration: %w", err)
	}

	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery configuration: %w", err)
	}

	if err := c.Inbox.Validate(); err != nil {
		return fmt.Errorf("inbox configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8080"
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19090"
	}
	if c.Address == c.AdminAddress {
		return fmt.Errorf("address and admin_address must differ (both %q)", c.Address)
	}
	return nil
}

// Validate normalises the resolver settings.
func (c *FederationConfig) Validate() error {
	c.CanonicalDomain = federation.NormalizeHost(c.CanonicalDomain)
	if c.CanonicalDomain == "" {
		c.CanonicalDomain = federation.DefaultCanonicalDomain
	}
	if strings.Contains(c.CanonicalDomain, "@") {
		return fmt.Errorf("canonical_domain %q must be a bare host", c.CanonicalDomain)
	}
	c.FallbackHostname = strings.TrimSpace(c.FallbackHostname)
	return nil
}

// Settings converts the section into resolver settings.
func (c FederationConfig) Settings() federation.Settings {
	return federation.Settings{
		CanonicalDomain:  c.CanonicalDomain,
		PreviewSuffixes:  append([]string(nil), c.PreviewSuffixes...),
		FallbackHostname: c.FallbackHostname,
	}
}

// Validate checks the proxy rule. The upstream URL is required.
func (c *DiscoveryConfig) Validate() error {
	if strings.TrimSpace(c.MatchPath) == "" {
		c.MatchPath = discovery.WebfingerPath
	}
	if _, err := discovery.NewRule(c.MatchPath, c.UpstreamURL); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}

// Validate checks the redirector targets. The backend base URL is required.
func (c *InboxConfig) Validate() error {
	if _, err := discovery.ParseEndpoint(c.BackendBaseURL); err != nil {
		return fmt.Errorf("backend_base_url: %w", err)
	}
	if strings.TrimSpace(c.ProfilePath) == "" {
		c.ProfilePath = "/profile"
	}
	if strings.TrimSpace(c.NotFoundPath) == "" {
		c.NotFoundPath = "/not-found"
	}
	for name, p := range map[string]string{"profile_path": c.ProfilePath, "not_found_path": c.NotFoundPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s %q must start with '/'", name, p)
		}
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// StaticChanges lists the settings that differ between c and next but only
// take effect on restart.
func (c *Config) StaticChanges(next *Config) []string {
	var changed []string
	if c.Server != next.Server {
		changed = append(changed, "server")
	}
	if c.Discovery != next.Discovery {
		changed = append(changed, "discovery")
	}
	if c.Inbox != next.Inbox {
		changed = append(changed, "inbox")
	}
	if !cmp.Equal(c.Telemetry, next.Telemetry, cmpopts.EquateEmpty()) {
		changed = append(changed, "telemetry")
	}
	if c.Logging.Pretty != next.Logging.Pretty {
		changed = append(changed, "logging.pretty")
	}
	return changed
}
