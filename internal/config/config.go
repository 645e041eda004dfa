// Package config provides YAML configuration loading with validation and
// environment variable substitution for the token generator.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dskow/seckill-tokengen/internal/generator"
	"github.com/dskow/seckill-tokengen/internal/token"
)

// Defaults reproduce the behaviour of running the tool with no arguments.
const (
	DefaultOutputPath    = generator.DefaultOutputPath
	DefaultCount         = generator.DefaultCount
	DefaultProgressEvery = generator.DefaultProgressEvery
	DefaultAlgorithm     = "HS256"
	DefaultRole          = "user"

	// minSecretBytes matches the HS256 key-size recommendation.
	minSecretBytes = 32
)

// Config is the top-level generator configuration.
type Config struct {
	Output   OutputConfig   `yaml:"output" json:"output"`
	Token    TokenConfig    `yaml:"token" json:"token"`
	Progress ProgressConfig `yaml:"progress" json:"progress"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`

	// Warnings holds non-fatal config issues detected during loading.
	Warnings []string `yaml:"-" json:"-"`
}

// OutputConfig controls where and how many records are written.
type OutputConfig struct {
	Path  string `yaml:"path" json:"path"`
	Count *int   `yaml:"count" json:"count"` // nil means DefaultCount; 0 writes the header only
	CRLF  bool   `yaml:"crlf" json:"crlf"`   // terminate rows with \r\n instead of \n
}

// Records returns the configured record count (defaults to DefaultCount).
func (o OutputConfig) Records() int {
	if o.Count == nil {
		return DefaultCount
	}
	return *o.Count
}

// TokenConfig selects the token source.
type TokenConfig struct {
	Mode           string       `yaml:"mode" json:"mode"` // "mock" or "signed"; default: "mock"
	UsernamePrefix string       `yaml:"username_prefix" json:"username_prefix"`
	Signed         SignedConfig `yaml:"signed" json:"signed"`
}

// SignedConfig holds HMAC JWT settings used when Mode is "signed".
type SignedConfig struct {
	Secret    string `yaml:"secret" json:"-"`
	Algorithm string `yaml:"algorithm" json:"algorithm"` // HS256, HS384 or HS512
	Issuer    string `yaml:"issuer" json:"issuer"`
	Role      string `yaml:"role" json:"role"`
	IssuedAt  int64  `yaml:"issued_at" json:"issued_at"`
	ExpiresAt int64  `yaml:"expires_at" json:"expires_at"`
}

// ProgressConfig controls progress notices during generation.
type ProgressConfig struct {
	Every    *int          `yaml:"every" json:"every"` // nil means DefaultProgressEvery; 0 disables
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// EveryRecords returns the count-based progress cadence.
func (p ProgressConfig) EveryRecords() int {
	if p.Every == nil {
		return DefaultProgressEvery
	}
	return *p.Every
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	Format     string `yaml:"format" json:"format"`             // "text" or "json"; default: "text"
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// MetricsConfig holds Prometheus textfile output settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"` // empty disables metrics output
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
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

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate checks cfg and refreshes cfg.Warnings. Call it again after
// overriding fields from the command line.
func (cfg *Config) Validate() error {
	if err := validate(cfg); err != nil {
		return err
	}
	cfg.Warnings = collectWarnings(cfg)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Output.Path == "" {
		cfg.Output.Path = DefaultOutputPath
	}

	t := &cfg.Token
	if t.Mode == "" {
		t.Mode = token.ModeMock
	}
	if t.UsernamePrefix == "" {
		t.UsernamePrefix = token.DefaultUsernamePrefix
	}
	if t.Signed.Algorithm == "" {
		t.Signed.Algorithm = DefaultAlgorithm
	}
	if t.Signed.Role == "" {
		t.Signed.Role = DefaultRole
	}
	if t.Signed.IssuedAt == 0 {
		t.Signed.IssuedAt = token.MockIssuedAt
	}
	if t.Signed.ExpiresAt == 0 {
		t.Signed.ExpiresAt = token.MockExpiresAt
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
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
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Output.Path) == "" {
		return fmt.Errorf("output.path is required")
	}
	if cfg.Output.Records() < 0 {
		return fmt.Errorf("output.count must be non-negative, got %d", cfg.Output.Records())
	}

	switch cfg.Token.Mode {
	case token.ModeMock:
	case token.ModeSigned:
		s := cfg.Token.Signed
		if s.Secret == "" {
			return fmt.Errorf("token.signed.secret is required when token.mode is signed")
		}
		if !validAlgorithms[s.Algorithm] {
			return fmt.Errorf("token.signed.algorithm must be one of HS256, HS384, HS512; got %q", s.Algorithm)
		}
		if s.ExpiresAt <= s.IssuedAt {
			return fmt.Errorf("token.signed.expires_at must be after token.signed.issued_at")
		}
	default:
		return fmt.Errorf("token.mode must be mock or signed, got %q", cfg.Token.Mode)
	}
	if strings.ContainsAny(cfg.Token.UsernamePrefix, ",\"\r\n") {
		return fmt.Errorf("token.username_prefix must not contain commas, quotes or newlines")
	}

	if cfg.Progress.EveryRecords() < 0 {
		return fmt.Errorf("progress.every must be non-negative")
	}
	if cfg.Progress.Interval < 0 {
		return fmt.Errorf("progress.interval must be non-negative")
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Token.Mode != token.ModeSigned {
		return warnings
	}
	secret := cfg.Token.Signed.Secret
	if strings.Contains(secret, "${") {
		warnings = append(warnings, "token.signed.secret contains unresolved environment variable")
	}
	if len(secret) < minSecretBytes {
		warnings = append(warnings, fmt.Sprintf("token.signed.secret is shorter than %d bytes", minSecretBytes))
	}
	return warnings
}
