// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Log         LogConfig                   `mapstructure:"logging" yaml:"logging"`
	State       StateConfig                 `mapstructure:"state" yaml:"state"`
	Data        DataConfig                  `mapstructure:"data" yaml:"data"`
	Enrichment  EnrichmentConfig            `mapstructure:"enrichment" yaml:"enrichment"`
	Conferences map[string]ConferenceConfig `mapstructure:"conferences" yaml:"conferences,omitempty"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level   string            `mapstructure:"level" yaml:"level"`
	Format  string            `mapstructure:"format" yaml:"format"`
	Output  []LogOutputConfig `mapstructure:"output" yaml:"output"`
	Levels  map[string]string `mapstructure:"levels" yaml:"levels,omitempty"`
	Context LogContextConfig  `mapstructure:"context" yaml:"context"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type" yaml:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled" yaml:"enabled"`
	Path    string          `mapstructure:"path" yaml:"path,omitempty"`    // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate" yaml:"rotate,omitempty"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller    bool `mapstructure:"include_caller" yaml:"include_caller"`
	IncludeTimestamp bool `mapstructure:"include_timestamp" yaml:"include_timestamp"`
}

// StateConfig holds pipeline state persistence configuration.
type StateConfig struct {
	// Dir is the root under which each conference gets its own state directory
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DataConfig holds the directory layout for inputs and outputs.
type DataConfig struct {
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	AnalyticsDir string `mapstructure:"analytics_dir" yaml:"analytics_dir"`
	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
}

// EnrichmentConfig holds author enrichment tuning.
type EnrichmentConfig struct {
	// MaxConcurrent bounds in-flight profile lookups
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// RequestTimeout is the per-lookup deadline
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimitDelay is the minimum gap between successive lookups
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay" yaml:"rate_limit_delay"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	// Endpoint is an optional JSON lookup API; empty means fetch author
	// homepages directly
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// ConferenceConfig describes one known conference. Conferences not listed
// here fall back to the conventional <data_dir>/<name>/papers.json layout.
type ConferenceConfig struct {
	Name        string `mapstructure:"name" yaml:"name,omitempty"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name,omitempty"`
	Year        int    `mapstructure:"year" yaml:"year,omitempty"`
	DataFile    string `mapstructure:"data_file" yaml:"data_file,omitempty"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	// Create a new config struct with default values
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("confpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.confpipe")
		v.AddConfigPath("/etc/confpipe/")
	}

	// Configure viper to use environment variables
	v.SetEnvPrefix("CONFPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist unless the caller
	// named one explicitly.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the viper configuration into our config struct.
	// This will overwrite the default values with any values found in the config file or env vars.
	// We use a decoder hook to correctly handle nested structs.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand paths that may contain ~ or environment variables
	cfg.expandPaths()

	// Validate the final configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/confpipe.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  50,
						MaxBackups: 5,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false, // Disabled by default to keep run output clean
				},
			},
			Levels: map[string]string{
				"pipeline": "INFO",
				"state":    "INFO",
				"steps":    "INFO",
				"enrich":   "INFO",
				"database": "INFO",
				"cli":      "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:    false,
				IncludeTimestamp: true,
			},
		},
		State: StateConfig{
			Dir: "./state",
		},
		Data: DataConfig{
			DataDir:      "./data",
			AnalyticsDir: "./analytics",
			OutputDir:    "./output",
		},
		Enrichment: EnrichmentConfig{
			MaxConcurrent:  3,
			RequestTimeout: 30 * time.Second,
			RateLimitDelay: 2 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  8 * time.Second,
			UserAgent:      "confpipe/1.0",
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	c.State.Dir = expandPath(c.State.Dir)
	c.Data.DataDir = expandPath(c.Data.DataDir)
	c.Data.AnalyticsDir = expandPath(c.Data.AnalyticsDir)
	c.Data.OutputDir = expandPath(c.Data.OutputDir)

	for name, conf := range c.Conferences {
		if conf.DataFile != "" {
			conf.DataFile = expandPath(conf.DataFile)
			c.Conferences[name] = conf
		}
	}

	for i, output := range c.Log.Output {
		if output.Path != "" {
			c.Log.Output[i].Path = expandPath(output.Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	return path
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.State.Dir == "" {
		return errors.New("state.dir is required")
	}
	if c.Data.DataDir == "" {
		return errors.New("data.data_dir is required")
	}
	if c.Data.AnalyticsDir == "" {
		return errors.New("data.analytics_dir is required")
	}
	if c.Data.OutputDir == "" {
		return errors.New("data.output_dir is required")
	}

	if c.Enrichment.MaxConcurrent < 1 {
		return fmt.Errorf("enrichment.max_concurrent must be at least 1, got %d", c.Enrichment.MaxConcurrent)
	}
	if c.Enrichment.RequestTimeout <= 0 {
		return fmt.Errorf("enrichment.request_timeout must be positive, got %s", c.Enrichment.RequestTimeout)
	}
	if c.Enrichment.RateLimitDelay < 0 {
		return fmt.Errorf("enrichment.rate_limit_delay must not be negative, got %s", c.Enrichment.RateLimitDelay)
	}
	if c.Enrichment.MaxRetries < 1 {
		return fmt.Errorf("enrichment.max_retries must be at least 1, got %d", c.Enrichment.MaxRetries)
	}

	return nil
}

// ResolveConference returns the effective configuration for a conference,
// filling unset fields from the conventional directory layout.
func (c *AppConfig) ResolveConference(name string) (ConferenceConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ConferenceConfig{}, errors.New("conference name is required")
	}

	conf := c.Conferences[name]
	if conf.Name == "" {
		conf.Name = name
	}
	if conf.DisplayName == "" {
		conf.DisplayName = conf.Name
	}
	if conf.DataFile == "" {
		conf.DataFile = filepath.Join(c.Data.DataDir, name, "papers.json")
	}
	return conf, nil
}

// DatabasePath returns where the conference's SQLite database lives
func (c *AppConfig) DatabasePath(conference string) string {
	return filepath.Join(c.Data.AnalyticsDir, conference, "conference.db")
}

// RenderYAML serializes the effective configuration
func (c *AppConfig) RenderYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}

// SaveTo writes the effective configuration to a YAML file
func (c *AppConfig) SaveTo(path string) error {
	data, err := c.RenderYAML()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
