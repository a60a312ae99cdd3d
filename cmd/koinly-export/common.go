package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/config"
	"github.com/brojonat/koinly-export/service/cookies"
	"github.com/brojonat/koinly-export/service/metrics"
	"github.com/brojonat/koinly-export/service/render"
	"github.com/urfave/cli/v2"
)

// apiFlags are shared by every command that talks to the Koinly API. Each one
// overrides the matching environment variable only when given.
func apiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "api-url",
			Usage: "Koinly API base URL (overrides KOINLY_API_URL)",
		},
		&cli.StringFlag{
			Name:  "cookie",
			Usage: "document.cookie of a logged-in Koinly tab (overrides KOINLY_COOKIE)",
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "API_KEY cookie value (overrides KOINLY_API_KEY)",
		},
		&cli.StringFlag{
			Name:  "portfolio-id",
			Usage: "PORTFOLIO_ID cookie value (overrides KOINLY_PORTFOLIO_ID)",
		},
		&cli.StringFlag{
			Name:  "chrome-url",
			Usage: "Chrome remote debugging websocket to read cookies from (overrides CHROME_DEBUG_URL)",
		},
		&cli.StringFlag{
			Name:  "currency-query",
			Usage: "jq expression selecting the base currency from the session (overrides CURRENCY_QUERY)",
		},
		&cli.DurationFlag{
			Name:  "http-timeout",
			Usage: "Per request timeout (overrides HTTP_TIMEOUT)",
		},
	}
}

// loadConfig reads the environment, applies any flags that were set and
// validates the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	stringOverrides := map[string]*string{
		"api-url":        &cfg.APIURL,
		"cookie":         &cfg.Cookie,
		"api-key":        &cfg.APIKey,
		"portfolio-id":   &cfg.PortfolioID,
		"chrome-url":     &cfg.ChromeDebugURL,
		"currency-query": &cfg.CurrencyQuery,
		"output-dir":     &cfg.OutputDir,
		"nats-url":       &cfg.NATSURL,
		"metrics-addr":   &cfg.MetricsAddr,
		"log-level":      &cfg.LogLevel,
	}
	for name, field := range stringOverrides {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}

	durationOverrides := map[string]*time.Duration{
		"http-timeout":     &cfg.HTTPTimeout,
		"min-delay":        &cfg.MinDelay,
		"max-delay":        &cfg.MaxDelay,
		"checkpoint-delay": &cfg.CheckpointDelay,
	}
	for name, field := range durationOverrides {
		if c.IsSet(name) {
			*field = c.Duration(name)
		}
	}

	if c.IsSet("checkpoint-interval") {
		cfg.CheckpointInterval = c.Int("checkpoint-interval")
	}
	if c.IsSet("page-size") {
		cfg.PageSize = c.Int("page-size")
	}

	if c.IsSet("csv-mode") {
		mode, err := render.ParseMode(c.String("csv-mode"))
		if err != nil {
			return nil, err
		}
		cfg.CSVMode = mode
	}
	if c.Bool("raw") {
		cfg.CSVMode = render.Raw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// credentialSource prefers configured values and falls back to reading the
// cookies out of Chrome.
func credentialSource(cfg *config.Config, logger *slog.Logger) cookies.Source {
	haveStatic := cfg.Cookie != "" || (cfg.APIKey != "" && cfg.PortfolioID != "")
	if !haveStatic && cfg.ChromeDebugURL != "" {
		return cookies.ChromeSource{DebugURL: cfg.ChromeDebugURL, Logger: logger}
	}
	return cookies.StaticSource{Header: cfg.Cookie, APIKey: cfg.APIKey, PortfolioID: cfg.PortfolioID}
}

// newAPIClient resolves credentials and builds the Koinly client. m may be nil.
func newAPIClient(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*client.Client, error) {
	creds, err := credentialSource(cfg, logger).Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	return client.NewClient(cfg.APIURL, *creds,
		&http.Client{Timeout: cfg.HTTPTimeout},
		logger.With("component", "koinly_client"),
		client.Options{
			AppURL:        cfg.AppURL,
			UserAgent:     cfg.UserAgent,
			CurrencyQuery: cfg.CurrencyQuery,
			Metrics:       m,
		},
	)
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
