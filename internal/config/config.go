// Package config provides YAML configuration loading with validation and
// environment variable substitution for the LUIS proxy.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables holding the backend defaults. They seed the
// settings store at startup and are the reset targets for /config updates.
const (
	EnvServerURL = "LUIS_SERVER_URL"
	EnvAppID     = "LUIS_APP_ID"
	EnvAppKey    = "LUIS_APP_KEY"
	EnvVersionID = "LUIS_VERSION_ID"
)

// DefaultVersionID is the application version targeted when
// LUIS_VERSION_ID is not set.
const DefaultVersionID = "1.0"

// DefaultMaxBodyBytes accepts inbound bodies up to 50 MB.
const DefaultMaxBodyBytes = 50 << 20

// Config is the top-level proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	LUIS      LUISConfig      `yaml:"luis" json:"luis"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig enables HTTPS when both files are set. The pair is reloaded
// when either file changes.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// LUISConfig holds the startup defaults for the backend settings.
// Empty fields are filled from the LUIS_* environment variables.
type LUISConfig struct {
	URL       string        `yaml:"url" json:"url"`
	AppID     string        `yaml:"app_id" json:"app_id"`
	AppKey    string        `yaml:"app_key" json:"app_key"`
	VersionID string        `yaml:"version_id" json:"version_id"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output and access log settings.
type LoggingConfig struct {
	Level           string `yaml:"level" json:"level"`                           // "debug", "info", "warn", "error"; default: "info"
	Output          string `yaml:"output" json:"output"`                         // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB       int    `yaml:"max_size_mb" json:"max_size_mb"`               // max log file size before rotation; default: 100
	MaxBackups      int    `yaml:"max_backups" json:"max_backups"`               // number of rotated files to keep; default: 3
	MaxAgeDays      int    `yaml:"max_age_days" json:"max_age_days"`             // max days to retain rotated files; default: 30
	BodyLogging     bool   `yaml:"body_logging" json:"body_logging"`             // log request/response bodies; default: false
	MaxBodyLogBytes int    `yaml:"max_body_log_bytes" json:"max_body_log_bytes"` // max bytes of body to log; default: 4096
}

// RateLimitConfig holds the global rate limiter settings and optional
// per-path overrides.
type RateLimitConfig struct {
	RequestsPerSecond float64        `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int            `yaml:"burst_size" json:"burst_size"`
	Overrides         []RateOverride `yaml:"overrides" json:"overrides,omitempty"`
}

// RateOverride applies a dedicated limit to requests under PathPrefix.
type RateOverride struct {
	PathPrefix        string  `yaml:"path_prefix" json:"path_prefix"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// ValidLogLevels are the accepted logging.level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// An empty path yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: every
// field at its default, backend settings from the environment.
func Default() (*Config, error) {
	return LoadFromBytes(nil)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Training and import calls can be slow; leave room for the
		// upstream timeout plus the reply.
		cfg.Server.WriteTimeout = 150 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Backend defaults
	l := &cfg.LUIS
	if l.URL == "" {
		l.URL = os.Getenv(EnvServerURL)
	}
	if l.AppID == "" {
		l.AppID = os.Getenv(EnvAppID)
	}
	if l.AppKey == "" {
		l.AppKey = os.Getenv(EnvAppKey)
	}
	if l.VersionID == "" {
		l.VersionID = os.Getenv(EnvVersionID)
	}
	if l.VersionID == "" {
		l.VersionID = DefaultVersionID
	}
	if l.Timeout == 0 {
		l.Timeout = 2 * time.Minute
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.MaxBodyLogBytes == 0 {
		cfg.Logging.MaxBodyLogBytes = 4096
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 50
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls: cert_file and key_file must be set together")
	}
	if cfg.LUIS.Timeout < 0 {
		return fmt.Errorf("luis.timeout must be non-negative")
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}
	seen := make(map[string]bool)
	for i, o := range cfg.RateLimit.Overrides {
		if !strings.HasPrefix(o.PathPrefix, "/") {
			return fmt.Errorf("rate_limit.overrides[%d].path_prefix must start with /", i)
		}
		if o.RequestsPerSecond <= 0 || o.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.overrides[%d]: requests_per_second and burst_size must be positive", i)
		}
		if seen[o.PathPrefix] {
			return fmt.Errorf("duplicate rate_limit override path_prefix: %s", o.PathPrefix)
		}
		seen[o.PathPrefix] = true
	}

	// Logging validation
	if !ValidLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}
	if cfg.Logging.BodyLogging && cfg.Logging.MaxBodyLogBytes < 1 {
		return fmt.Errorf("logging.max_body_log_bytes must be positive when body_logging is enabled")
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.LUIS.URL == "" {
		warnings = append(warnings, "luis.url is empty; set "+EnvServerURL+" or POST /config before forwarding")
	} else if problem := urlProblem(cfg.LUIS.URL); problem != "" {
		warnings = append(warnings, "luis.url "+problem+"; forwarded calls will fail until POST /config sets a usable URL")
	}
	if cfg.LUIS.AppKey == "" {
		warnings = append(warnings, "luis.app_key is empty; cloud requests will be sent without a subscription key")
	}
	if strings.Contains(cfg.LUIS.AppKey, "${") {
		warnings = append(warnings, "luis.app_key contains unresolved environment variable")
	}
	return warnings
}

// urlProblem describes why raw is not an absolute http(s) URL, or returns
// "" when it is.
func urlProblem(raw string) string {
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return "is not a valid URL"
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)
	case u.Host == "":
		return "has no host"
	}
	return ""
}
