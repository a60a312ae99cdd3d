package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/export"
	"github.com/brojonat/koinly-export/service/render"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Koinly API configuration
	APIURL        string
	AppURL        string
	UserAgent     string
	HTTPTimeout   time.Duration
	CurrencyQuery string

	// Credentials. At least one source is required: the cookie header, both
	// explicit tokens, or a Chrome remote debugging URL.
	Cookie         string
	APIKey         string
	PortfolioID    string
	ChromeDebugURL string

	// Pacing configuration
	MinDelay           time.Duration
	MaxDelay           time.Duration
	CheckpointInterval int
	CheckpointDelay    time.Duration
	PageSize           int

	// Output configuration
	OutputDir string
	CSVMode   render.Mode

	// Optional integrations, disabled when empty
	NATSURL     string
	MetricsAddr string

	LogLevel string
}

// LoadEnvFile loads variables from a .env file without overriding variables
// that are already set. An empty path loads ./.env if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables. Malformed values are
// collected and reported together. Credentials are not required here so that
// command line flags can still supply them; call Validate once flags are
// applied.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Koinly API configuration
	cfg.APIURL = getEnvOrDefault("KOINLY_API_URL", client.DefaultBaseURL)
	cfg.AppURL = getEnvOrDefault("KOINLY_APP_URL", client.DefaultAppURL)
	cfg.UserAgent = getEnvOrDefault("USER_AGENT", client.DefaultUserAgent)
	cfg.CurrencyQuery = getEnvOrDefault("CURRENCY_QUERY", client.DefaultCurrencyQuery)

	timeout, err := parseDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPTimeout = timeout
	}

	// Credentials
	cfg.Cookie = os.Getenv("KOINLY_COOKIE")
	cfg.APIKey = os.Getenv("KOINLY_API_KEY")
	cfg.PortfolioID = os.Getenv("KOINLY_PORTFOLIO_ID")
	cfg.ChromeDebugURL = os.Getenv("CHROME_DEBUG_URL")

	// Pacing configuration
	defaults := export.DefaultOptions()

	if d, err := parseDuration("MIN_DELAY", defaults.MinDelay.String()); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinDelay = d
	}

	if d, err := parseDuration("MAX_DELAY", defaults.MaxDelay.String()); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxDelay = d
	}

	if n, err := parseInt("CHECKPOINT_INTERVAL", defaults.CheckpointInterval); err != nil {
		errs = append(errs, err)
	} else {
		cfg.CheckpointInterval = n
	}

	if d, err := parseDuration("CHECKPOINT_DELAY", defaults.CheckpointDelay.String()); err != nil {
		errs = append(errs, err)
	} else {
		cfg.CheckpointDelay = d
	}

	if n, err := parseInt("PAGE_SIZE", defaults.PageSize); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PageSize = n
	}

	// Output configuration
	cfg.OutputDir = getEnvOrDefault("OUTPUT_DIR", ".")

	mode, err := render.ParseMode(os.Getenv("CSV_MODE"))
	if err != nil {
		errs = append(errs, fmt.Errorf("CSV_MODE: %w", err))
	} else {
		cfg.CSVMode = mode
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if cfg.MinDelay > cfg.MaxDelay {
		errs = append(errs, fmt.Errorf("MIN_DELAY (%v) cannot be greater than MAX_DELAY (%v)",
			cfg.MinDelay, cfg.MaxDelay))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is complete enough to run an export.
func (c *Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, fmt.Errorf("APIURL is required"))
	}

	if !c.HasCredentials() {
		errs = append(errs, fmt.Errorf("credentials are required: set KOINLY_COOKIE, KOINLY_API_KEY and KOINLY_PORTFOLIO_ID, or CHROME_DEBUG_URL"))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTPTimeout must be positive"))
	}

	if err := c.ExportOptions().Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// HasCredentials reports whether any credential source is configured.
func (c *Config) HasCredentials() bool {
	return c.Cookie != "" || (c.APIKey != "" && c.PortfolioID != "") || c.ChromeDebugURL != ""
}

// ExportOptions returns the pacing options for the export scheduler.
func (c *Config) ExportOptions() export.Options {
	return export.Options{
		MinDelay:           c.MinDelay,
		MaxDelay:           c.MaxDelay,
		CheckpointInterval: c.CheckpointInterval,
		CheckpointDelay:    c.CheckpointDelay,
		PageSize:           c.PageSize,
	}
}

// ParseLogLevel accepts debug, info, warn or error.
func ParseLogLevel(level string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "debug", "info", "warn", "error":
		return l, nil
	case "":
		return "info", nil
	default:
		return "", fmt.Errorf("LOG_LEVEL: unknown level %q", level)
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
