// Package config provides configuration structures and loading logic for the moderation service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-moderation/internal/ratelimit"
	"github.com/polisai/polis-moderation/pkg/logging"
)

// ErrInvalid marks validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the global configuration for the moderation service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Limits     LimitsConfig     `yaml:"limits"`
	Moderation ModerationConfig `yaml:"moderation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    logging.Config   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxBatchItems   int           `yaml:"max_batch_items"`
	CertFile        string        `yaml:"cert_file"`
	KeyFile         string        `yaml:"key_file"`
	// RateLimits is keyed by endpoint name: moderate, moderate_batch, tables.
	RateLimits map[string]ratelimit.Limit `yaml:"rate_limits"`
}

// LimitsConfig caps submission length per content kind, in characters.
// A zero limit disables the check.
type LimitsConfig struct {
	PostMaxLength    int `yaml:"post_max_length"`
	CommentMaxLength int `yaml:"comment_max_length"`
}

// ModerationConfig points at optional table and policy overrides.
type ModerationConfig struct {
	TablesFile       string `yaml:"tables_file"`
	PolicyFile       string `yaml:"policy_file"`
	PolicyEntrypoint string `yaml:"policy_entrypoint"`
	PolicyCache      int    `yaml:"policy_cache_entries"`
	WatchTables      bool   `yaml:"watch_tables"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string            `yaml:"service_name"`
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"`
	// SampleRatio is the root-span sampling ratio in [0, 1]; 0 disables sampling.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			MaxBatchItems:   100,
		},
		Limits: LimitsConfig{
			PostMaxLength:    280,
			CommentMaxLength: 200,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-moderation",
			SampleRatio: 1,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a file, expands ${VAR} references and applies
// environment variable overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
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
	if val := os.Getenv("MODERATION_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("MODERATION_TABLES_FILE"); val != "" {
		cfg.Moderation.TablesFile = val
	}
	if val := os.Getenv("MODERATION_POLICY_FILE"); val != "" {
		cfg.Moderation.PolicyFile = val
	}
	if val := os.Getenv("MODERATION_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("MODERATION_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("MODERATION_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("MODERATION_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits configuration: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry configuration: %w: sample_ratio must be within [0, 1]", ErrInvalid)
	}
	if c.Moderation.WatchTables && c.Moderation.TablesFile == "" {
		return fmt.Errorf("moderation configuration: %w: watch_tables requires tables_file", ErrInvalid)
	}
	if c.Moderation.PolicyFile != "" && strings.TrimSpace(c.Moderation.PolicyEntrypoint) == "" {
		return fmt.Errorf("moderation configuration: %w: policy_file requires policy_entrypoint", ErrInvalid)
	}
	return nil
}

// Validate checks the server settings.
func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalid)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalid)
	}
	if s.MaxBatchItems <= 0 {
		return fmt.Errorf("%w: max_batch_items must be positive", ErrInvalid)
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file must be set together", ErrInvalid)
	}
	for endpoint, limit := range s.RateLimits {
		if limit.RequestsPerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("%w: rate_limits.%s must not be negative", ErrInvalid, endpoint)
		}
	}
	return nil
}

// Validate checks the length limits.
func (l LimitsConfig) Validate() error {
	if l.PostMaxLength < 0 || l.CommentMaxLength < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalid)
	}
	return nil
}
