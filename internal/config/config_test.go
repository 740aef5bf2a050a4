// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper functions

// writeConfigFile writes YAML content to a temp file and returns its path
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "confpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	require.Len(t, cfg.Log.Output, 2)
	assert.Equal(t, "file", cfg.Log.Output[0].Type)
	assert.True(t, cfg.Log.Output[0].Enabled)
	assert.Equal(t, "./logs/confpipe.log", cfg.Log.Output[0].Path)
	assert.Equal(t, "console", cfg.Log.Output[1].Type)
	assert.False(t, cfg.Log.Output[1].Enabled, "Console output stays off so run output is clean")

	assert.Equal(t, "./state", cfg.State.Dir)
	assert.Equal(t, "./data", cfg.Data.DataDir)
	assert.Equal(t, "./analytics", cfg.Data.AnalyticsDir)
	assert.Equal(t, "./output", cfg.Data.OutputDir)

	assert.Equal(t, 3, cfg.Enrichment.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Enrichment.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Enrichment.RateLimitDelay)
	assert.Equal(t, 3, cfg.Enrichment.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Enrichment.RetryBaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Enrichment.RetryMaxDelay)
	assert.Equal(t, "confpipe/1.0", cfg.Enrichment.UserAgent)

	assert.NoError(t, cfg.validate(), "The default configuration must validate")
}

func TestNewConfig_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: DEBUG
state:
  dir: /custom/state
data:
  data_dir: /custom/data
enrichment:
  max_concurrent: 7
  request_timeout: 5s
  rate_limit_delay: 0s
conferences:
  icml-2026:
    display_name: ICML 2026
    year: 2026
    data_file: /datasets/icml.json
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, "/custom/state", cfg.State.Dir)
	assert.Equal(t, "/custom/data", cfg.Data.DataDir)
	assert.Equal(t, "./analytics", cfg.Data.AnalyticsDir, "Unset values keep their defaults")

	assert.Equal(t, 7, cfg.Enrichment.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Enrichment.RequestTimeout, "Duration strings parse")
	assert.Equal(t, time.Duration(0), cfg.Enrichment.RateLimitDelay, "Zero delay is a valid setting")
	assert.Equal(t, 3, cfg.Enrichment.MaxRetries, "Defaults survive partial enrichment sections")

	conf, ok := cfg.Conferences["icml-2026"]
	require.True(t, ok)
	assert.Equal(t, "ICML 2026", conf.DisplayName)
	assert.Equal(t, 2026, conf.Year)
	assert.Equal(t, "/datasets/icml.json", conf.DataFile)
}

func TestNewConfig_ExplicitFileMissing(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err, "An explicitly named config file must exist")
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "logging: [unclosed")

	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
state:
  dir: /from/file
`)
	t.Setenv("CONFPIPE_STATE_DIR", "/from/env")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.State.Dir, "Environment variables beat the config file")
}

func TestNewConfig_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
enrichment:
  max_concurrent: 0
`)

	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, err.Error(), "max_concurrent")
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:   "valid_defaults",
			mutate: func(c *AppConfig) {},
		},
		{
			name:    "invalid_log_level",
			mutate:  func(c *AppConfig) { c.Log.Level = "VERBOSE" },
			wantErr: "invalid log level",
		},
		{
			name:   "lowercase_log_level_accepted",
			mutate: func(c *AppConfig) { c.Log.Level = "debug" },
		},
		{
			name:    "missing_state_dir",
			mutate:  func(c *AppConfig) { c.State.Dir = "" },
			wantErr: "state.dir is required",
		},
		{
			name:    "missing_data_dir",
			mutate:  func(c *AppConfig) { c.Data.DataDir = "" },
			wantErr: "data.data_dir is required",
		},
		{
			name:    "missing_analytics_dir",
			mutate:  func(c *AppConfig) { c.Data.AnalyticsDir = "" },
			wantErr: "data.analytics_dir is required",
		},
		{
			name:    "missing_output_dir",
			mutate:  func(c *AppConfig) { c.Data.OutputDir = "" },
			wantErr: "data.output_dir is required",
		},
		{
			name:    "zero_max_concurrent",
			mutate:  func(c *AppConfig) { c.Enrichment.MaxConcurrent = 0 },
			wantErr: "max_concurrent must be at least 1",
		},
		{
			name:    "zero_request_timeout",
			mutate:  func(c *AppConfig) { c.Enrichment.RequestTimeout = 0 },
			wantErr: "request_timeout must be positive",
		},
		{
			name:    "negative_rate_limit_delay",
			mutate:  func(c *AppConfig) { c.Enrichment.RateLimitDelay = -time.Second },
			wantErr: "rate_limit_delay must not be negative",
		},
		{
			name:   "zero_rate_limit_delay_is_fine",
			mutate: func(c *AppConfig) { c.Enrichment.RateLimitDelay = 0 },
		},
		{
			name:    "zero_max_retries",
			mutate:  func(c *AppConfig) { c.Enrichment.MaxRetries = 0 },
			wantErr: "max_retries must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestResolveConference(t *testing.T) {
	cfg := defaultConfig()
	cfg.Data.DataDir = "/data"
	cfg.Conferences = map[string]ConferenceConfig{
		"icml-2026": {
			DisplayName: "ICML 2026",
			Year:        2026,
			DataFile:    "/datasets/icml.json",
		},
	}

	t.Run("registered_conference", func(t *testing.T) {
		conf, err := cfg.ResolveConference("icml-2026")
		require.NoError(t, err)
		assert.Equal(t, "icml-2026", conf.Name, "The map key fills the name when unset")
		assert.Equal(t, "ICML 2026", conf.DisplayName)
		assert.Equal(t, "/datasets/icml.json", conf.DataFile)
	})

	t.Run("unlisted_conference_conventional_layout", func(t *testing.T) {
		conf, err := cfg.ResolveConference("neurips-2026")
		require.NoError(t, err)
		assert.Equal(t, "neurips-2026", conf.Name)
		assert.Equal(t, "neurips-2026", conf.DisplayName, "Display name falls back to the name")
		assert.Equal(t, filepath.Join("/data", "neurips-2026", "papers.json"), conf.DataFile)
	})

	t.Run("name_is_trimmed", func(t *testing.T) {
		conf, err := cfg.ResolveConference("  icml-2026  ")
		require.NoError(t, err)
		assert.Equal(t, "icml-2026", conf.Name)
	})

	t.Run("empty_name_rejected", func(t *testing.T) {
		_, err := cfg.ResolveConference("   ")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conference name is required")
	})
}

func TestDatabasePath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Data.AnalyticsDir = "/analytics"

	assert.Equal(t, filepath.Join("/analytics", "icml-2026", "conference.db"),
		cfg.DatabasePath("icml-2026"))
}

func TestSaveToAndReload(t *testing.T) {
	cfg := defaultConfig()
	cfg.State.Dir = "/round/trip/state"
	cfg.Enrichment.MaxConcurrent = 5
	cfg.Conferences = map[string]ConferenceConfig{
		"icml-2026": {DisplayName: "ICML 2026", Year: 2026},
	}

	path := filepath.Join(t.TempDir(), "nested", "confpipe.yaml")
	require.NoError(t, cfg.SaveTo(path), "SaveTo creates missing parent directories")

	reloaded, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/round/trip/state", reloaded.State.Dir)
	assert.Equal(t, 5, reloaded.Enrichment.MaxConcurrent)
	assert.Equal(t, cfg.Enrichment.RequestTimeout, reloaded.Enrichment.RequestTimeout)
	assert.Equal(t, "ICML 2026", reloaded.Conferences["icml-2026"].DisplayName)
	assert.Equal(t, 2026, reloaded.Conferences["icml-2026"].Year)
}

func TestRenderYAML(t *testing.T) {
	cfg := defaultConfig()

	data, err := cfg.RenderYAML()
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "logging:")
	assert.Contains(t, out, "state:")
	assert.Contains(t, out, "enrichment:")
	assert.NotContains(t, out, "conferences:", "An empty conference map is omitted")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "state"), expandPath("~/state"))
	assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
	assert.Equal(t, "", expandPath(""))

	t.Setenv("CONFPIPE_TEST_ROOT", "/var/confpipe")
	assert.Equal(t, "/var/confpipe/state", expandPath("$CONFPIPE_TEST_ROOT/state"))
}

func TestExpandPaths_AppliesToConferences(t *testing.T) {
	t.Setenv("CONFPIPE_TEST_DATA", "/srv/data")

	cfg := defaultConfig()
	cfg.Conferences = map[string]ConferenceConfig{
		"icml-2026": {DataFile: "$CONFPIPE_TEST_DATA/icml.json"},
	}
	cfg.expandPaths()

	assert.Equal(t, "/srv/data/icml.json", cfg.Conferences["icml-2026"].DataFile)
}
