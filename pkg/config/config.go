// Package config loads kit configuration from YAML with environment-variable
// overrides. All fields have working defaults, so an empty config is valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cecil-the-coder/key-health-kit/pkg/detector"
	"github.com/cecil-the-coder/key-health-kit/pkg/interceptor"
	"github.com/cecil-the-coder/key-health-kit/pkg/keyhealth"
)

// Config is the complete configuration for the kit.
type Config struct {
	// LogLevel controls the zap logger: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Strategy selects the key-selection policy.
	Strategy string `yaml:"strategy"`

	Recovery        RecoveryConfig        `yaml:"recovery"`
	Detection       DetectionConfig       `yaml:"detection"`
	ClientRateLimit ClientRateLimitConfig `yaml:"client_rate_limit"`
}

// RecoveryConfig tunes the background health recovery loop.
type RecoveryConfig struct {
	// Interval is a duration string, e.g. "60s".
	Interval string `yaml:"interval"`

	// Step is how much health each pass restores.
	Step float64 `yaml:"step"`
}

// DetectionConfig tunes the signal detector.
type DetectionConfig struct {
	MaxHistory         int     `yaml:"max_history"`
	BaselineMinSamples int     `yaml:"baseline_min_samples"`
	SlowResponseRatio  float64 `yaml:"slow_response_ratio"`
	LowRemainingRatio  float64 `yaml:"low_remaining_ratio"`
}

// ClientRateLimitConfig tunes the optional client-side limiter.
type ClientRateLimitConfig struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`

	// Interval is a duration string; defaults to "1m".
	Interval string `yaml:"interval"`
}

// Default returns the configuration the kit runs with out of the box.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Strategy: string(keyhealth.StrategyHealthAware),
		Recovery: RecoveryConfig{
			Interval: "60s",
			Step:     1,
		},
		Detection: DetectionConfig{
			MaxHistory:         100,
			BaselineMinSamples: 5,
			SlowResponseRatio:  2.5,
			LowRemainingRatio:  0.10,
		},
		ClientRateLimit: ClientRateLimitConfig{
			Interval: "1m",
		},
	}
}

// Load reads a YAML config file, applies environment overrides, and
// validates the result. A missing path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays KEYHEALTH_* environment variables onto the config.
func (c *Config) applyEnv() {
	c.LogLevel = getEnv("KEYHEALTH_LOG_LEVEL", c.LogLevel)
	c.Strategy = getEnv("KEYHEALTH_STRATEGY", c.Strategy)
	c.Recovery.Interval = getEnv("KEYHEALTH_RECOVERY_INTERVAL", c.Recovery.Interval)
	c.ClientRateLimit.RPM = getEnvAsInt("KEYHEALTH_CLIENT_RPM", c.ClientRateLimit.RPM)
}

// Validate checks field values and cross-field consistency.
func (c *Config) Validate() error {
	if _, err := keyhealth.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if _, err := parseDuration(c.Recovery.Interval, time.Minute); err != nil {
		return fmt.Errorf("recovery.interval: %w", err)
	}
	if _, err := parseDuration(c.ClientRateLimit.Interval, time.Minute); err != nil {
		return fmt.Errorf("client_rate_limit.interval: %w", err)
	}
	if c.Detection.SlowResponseRatio != 0 && c.Detection.SlowResponseRatio <= 1 {
		return fmt.Errorf("detection.slow_response_ratio must be > 1, got %v", c.Detection.SlowResponseRatio)
	}
	if c.Detection.LowRemainingRatio < 0 || c.Detection.LowRemainingRatio >= 1 {
		return fmt.Errorf("detection.low_remaining_ratio must be in [0, 1), got %v", c.Detection.LowRemainingRatio)
	}
	return nil
}

// ManagerConfig converts to the health manager's config.
func (c *Config) ManagerConfig() keyhealth.Config {
	strategy, _ := keyhealth.ParseStrategy(c.Strategy)
	interval, _ := parseDuration(c.Recovery.Interval, time.Minute)
	return keyhealth.Config{
		Strategy:         strategy,
		RecoveryInterval: interval,
		RecoveryStep:     c.Recovery.Step,
		Detector: detector.Config{
			MaxHistory:         c.Detection.MaxHistory,
			BaselineMinSamples: c.Detection.BaselineMinSamples,
			SlowResponseRatio:  c.Detection.SlowResponseRatio,
			LowRemainingRatio:  c.Detection.LowRemainingRatio,
		},
	}
}

// InterceptorConfig converts to the interceptor's config.
func (c *Config) InterceptorConfig() interceptor.Config {
	interval, _ := parseDuration(c.ClientRateLimit.Interval, time.Minute)
	return interceptor.Config{
		ClientRateLimitRPM:      c.ClientRateLimit.RPM,
		ClientRateLimitBurst:    c.ClientRateLimit.Burst,
		ClientRateLimitInterval: interval,
	}
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", value)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}
