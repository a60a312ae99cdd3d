package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/koinly-export/service/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"KOINLY_API_URL", "KOINLY_APP_URL", "KOINLY_COOKIE", "KOINLY_API_KEY",
	"KOINLY_PORTFOLIO_ID", "CHROME_DEBUG_URL", "USER_AGENT", "HTTP_TIMEOUT",
	"MIN_DELAY", "MAX_DELAY", "CHECKPOINT_INTERVAL", "CHECKPOINT_DELAY",
	"PAGE_SIZE", "CURRENCY_QUERY", "OUTPUT_DIR", "CSV_MODE", "NATS_URL",
	"METRICS_ADDR", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://api.koinly.io", cfg.APIURL)
	assert.Equal(t, "https://app.koinly.io", cfg.AppURL)
	assert.Equal(t, ".portfolios[0].base_currency.symbol", cfg.CurrencyQuery)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3*time.Second, cfg.MinDelay)
	assert.Equal(t, 7*time.Second, cfg.MaxDelay)
	assert.Equal(t, 10, cfg.CheckpointInterval)
	assert.Equal(t, 15*time.Second, cfg.CheckpointDelay)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, render.Quoted, cfg.CSVMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.MetricsAddr)
	assert.False(t, cfg.HasCredentials())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KOINLY_COOKIE", "API_KEY=k; PORTFOLIO_ID=p")
	t.Setenv("MIN_DELAY", "1s")
	t.Setenv("MAX_DELAY", "2s")
	t.Setenv("CHECKPOINT_INTERVAL", "5")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("CSV_MODE", "raw")
	t.Setenv("OUTPUT_DIR", "/tmp/exports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasCredentials())
	assert.Equal(t, render.Raw, cfg.CSVMode)
	assert.Equal(t, "/tmp/exports", cfg.OutputDir)

	opts := cfg.ExportOptions()
	assert.Equal(t, time.Second, opts.MinDelay)
	assert.Equal(t, 2*time.Second, opts.MaxDelay)
	assert.Equal(t, 5, opts.CheckpointInterval)
	assert.Equal(t, 15*time.Second, opts.CheckpointDelay)
	assert.Equal(t, 50, opts.PageSize)

	require.NoError(t, cfg.Validate())
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("MIN_DELAY", "soon")
	t.Setenv("PAGE_SIZE", "many")
	t.Setenv("CSV_MODE", "excel")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "MIN_DELAY: invalid duration")
	assert.Contains(t, err.Error(), "PAGE_SIZE: invalid integer")
	assert.Contains(t, err.Error(), "CSV_MODE")
}

func TestLoad_MinDelayGreaterThanMax(t *testing.T) {
	clearEnv(t)
	t.Setenv("MIN_DELAY", "10s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be greater than MAX_DELAY")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no credentials",
			mutate:  func(c *Config) {},
			wantErr: "credentials are required",
		},
		{
			name: "api key without portfolio",
			mutate: func(c *Config) {
				c.APIKey = "k"
			},
			wantErr: "credentials are required",
		},
		{
			name: "explicit tokens",
			mutate: func(c *Config) {
				c.APIKey = "k"
				c.PortfolioID = "p"
			},
		},
		{
			name: "chrome only",
			mutate: func(c *Config) {
				c.ChromeDebugURL = "ws://127.0.0.1:9222/devtools/browser/abc"
			},
		},
		{
			name: "bad page size",
			mutate: func(c *Config) {
				c.Cookie = "API_KEY=k; PORTFOLIO_ID=p"
				c.PageSize = 0
			},
			wantErr: "PageSize must be positive",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Cookie = "API_KEY=k; PORTFOLIO_ID=p"
				c.LogLevel = "loud"
			},
			wantErr: "unknown level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "forever")

	assert.Panics(t, func() { MustLoad() })
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("KOINLY_API_KEY")
	os.Unsetenv("PAGE_SIZE")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KOINLY_API_KEY=from-file\nPAGE_SIZE=10\n"), 0o600))

	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() {
		os.Unsetenv("KOINLY_API_KEY")
		os.Unsetenv("PAGE_SIZE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, 10, cfg.PageSize)

	err = LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load env file")
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, "warn", level)

	level, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, "info", level)

	_, err = ParseLogLevel("trace")
	assert.Error(t, err)
}
