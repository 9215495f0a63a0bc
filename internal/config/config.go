// Package config handles YAML configuration and invocation payloads for autosnap.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultRetentionDays = 2
	defaultCallTimeout   = "30s"
	defaultServiceName   = "autosnap"
	defaultMetricsAddr   = ":9090"
	defaultLogLevel      = "info"
	defaultEnabledTag    = "ec2_backup_enabled"
	defaultRetentionTag  = "ec2_backup_count"
)

// Config is the root configuration structure. The flat keys double as the
// invocation payload; the nested sections only come from the config file.
type Config struct {
	Regions       []string          `yaml:"regions" json:"regions"`
	RetentionDays Days              `yaml:"retention_days" json:"retention_days"`
	EmailFrom     string            `yaml:"email_from" json:"email_from"`
	EmailTo       string            `yaml:"email_to" json:"email_to"`
	SNSTopicARN   string            `yaml:"sns_topic_arn" json:"sns_topic_arn"`
	DryRun        bool              `yaml:"dry_run" json:"dry_run"`
	StrictPrune   bool              `yaml:"strict_prune" json:"strict_prune"`
	EnabledTag    string            `yaml:"enabled_tag" json:"enabled_tag"`
	RetentionTag  string            `yaml:"retention_tag" json:"retention_tag"`
	ExcludeTags   map[string]string `yaml:"exclude_tags" json:"exclude_tags"`

	AWS    AWSConfig    `yaml:"aws" json:"-"`
	Daemon DaemonConfig `yaml:"daemon" json:"-"`
	OTEL   OTELConfig   `yaml:"otel" json:"-"`
	Log    LogConfig    `yaml:"log" json:"-"`
}

// AWSConfig holds AWS SDK settings.
type AWSConfig struct {
	Profile        string        `yaml:"profile"`
	CallTimeoutStr string        `yaml:"call_timeout"`
	CallTimeout    time.Duration `yaml:"-"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// DaemonConfig holds settings for the in-process scheduler.
type DaemonConfig struct {
	Schedule    string `yaml:"schedule"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Days is a day count that accepts both numbers and numeric strings.
type Days int

// UnmarshalJSON accepts 7 and "7".
func (d *Days) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("retention_days %s: %w", string(b), err)
	}
	*d = Days(n)
	return nil
}

// UnmarshalYAML accepts 7 and "7".
func (d *Days) UnmarshalYAML(value *yaml.Node) error {
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("retention_days %q: %w", value.Value, err)
	}
	*d = Days(n)
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{RetentionDays: defaultRetentionDays}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Seeded before decoding so an explicit 0 survives.
	cfg := &Config{RetentionDays: defaultRetentionDays}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyPayload overlays an invocation payload onto cfg. Keys absent from the
// payload keep their current values; unknown keys are ignored.
func (c *Config) ApplyPayload(raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.EnabledTag == "" {
		cfg.EnabledTag = defaultEnabledTag
	}
	if cfg.RetentionTag == "" {
		cfg.RetentionTag = defaultRetentionTag
	}
	if cfg.AWS.CallTimeoutStr == "" {
		cfg.AWS.CallTimeoutStr = defaultCallTimeout
	}
	if cfg.AWS.CallTimeout == 0 {
		cfg.AWS.CallTimeout, _ = time.ParseDuration(cfg.AWS.CallTimeoutStr)
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = defaultMetricsAddr
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = defaultServiceName
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
}

func parseTimeout(cfg *Config) error {
	d, err := time.ParseDuration(cfg.AWS.CallTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse call_timeout %q: %w", cfg.AWS.CallTimeoutStr, err)
	}
	cfg.AWS.CallTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative (got %d)", c.RetentionDays)
	}
	if c.AWS.CallTimeout <= 0 {
		return fmt.Errorf("aws: call_timeout must be positive (got %s)", c.AWS.CallTimeout)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Daemon.Schedule != "" {
		if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
			return fmt.Errorf("daemon: invalid schedule %q: %w", c.Daemon.Schedule, err)
		}
	}
	return nil
}
