package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 30, cfg.Browser.NavTimeoutSec)
	require.Equal(t, 1920, cfg.Browser.ViewportWidth)
	require.Equal(t, 1080, cfg.Browser.ViewportHeight)
	require.Equal(t, "gpt-3.5-turbo", cfg.LLM.DefaultModel)
	require.Equal(t, 5, cfg.LLM.MaxTurns)
	require.Equal(t, 10000, cfg.Crunch.BatchSize)
	require.Equal(t, 31, cfg.Crunch.TMinusDays)
	require.Equal(t, 100, cfg.Crunch.MaxInFlight)
	require.Equal(t, "crawled", cfg.Crunch.Prefix)
	require.Equal(t, "snapshots", cfg.Storage.SnapshotPrefix)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9090
browser:
  nav_timeout_seconds: 12
crunch:
  rev: 3
  t_minus_days: 6
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 12, cfg.Browser.NavTimeoutSec)
	require.Equal(t, 3, cfg.Crunch.Rev)
	require.Equal(t, 6, cfg.Crunch.TMinusDays)
	// untouched defaults survive
	require.Equal(t, 10000, cfg.Crunch.BatchSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero nav timeout", func(c *Config) { c.Browser.NavTimeoutSec = 0 }},
		{"negative contexts", func(c *Config) { c.Browser.MaxContexts = -1 }},
		{"turns out of range", func(c *Config) { c.LLM.MaxTurns = 51 }},
		{"zero batch", func(c *Config) { c.Crunch.BatchSize = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
