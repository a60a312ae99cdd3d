package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/download"
	"github.com/brojonat/koinly-export/service/export"
	"github.com/brojonat/koinly-export/service/metrics"
	natspkg "github.com/brojonat/koinly-export/service/nats"
	"github.com/brojonat/koinly-export/service/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func exportCommand() *cli.Command {
	flags := append(apiFlags(),
		&cli.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"o"},
			Usage:   "Directory to save \"Koinly Transactions.csv\" in (overrides OUTPUT_DIR)",
		},
		&cli.BoolFlag{
			Name:  "stdout",
			Usage: "Write the CSV to stdout instead of a file",
		},
		&cli.BoolFlag{
			Name:  "data-uri",
			Usage: "Print the CSV as a data: URI instead of saving a file",
		},
		&cli.StringFlag{
			Name:  "csv-mode",
			Usage: "quoted (standard CSV) or raw (unescaped comma join) (overrides CSV_MODE)",
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "Shorthand for --csv-mode raw",
		},
		&cli.DurationFlag{
			Name:  "min-delay",
			Usage: "Shortest pause between pages (overrides MIN_DELAY)",
		},
		&cli.DurationFlag{
			Name:  "max-delay",
			Usage: "Longest pause between pages (overrides MAX_DELAY)",
		},
		&cli.IntFlag{
			Name:  "checkpoint-interval",
			Usage: "Pages between checkpoint breaks (overrides CHECKPOINT_INTERVAL)",
		},
		&cli.DurationFlag{
			Name:  "checkpoint-delay",
			Usage: "Length of a checkpoint break (overrides CHECKPOINT_DELAY)",
		},
		&cli.IntFlag{
			Name:  "page-size",
			Usage: "Transactions per page (overrides PAGE_SIZE)",
		},
		&cli.StringFlag{
			Name:  "nats-url",
			Usage: "Publish progress events to this NATS server (overrides NATS_URL)",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address while exporting (overrides METRICS_ADDR)",
		},
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Fetch every transaction and save them as CSV",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if c.Bool("stdout") && c.Bool("data-uri") {
				return fmt.Errorf("--stdout and --data-uri are mutually exclusive")
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			m := metrics.NewMetrics(registry)
			if cfg.MetricsAddr != "" {
				srv := metrics.NewServer(cfg.MetricsAddr, registry, m, logger)
				srv.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Error("metrics server shutdown error", "error", err)
					}
				}()
			}

			api, err := newAPIClient(ctx, cfg, m, logger)
			if err != nil {
				return err
			}

			var observers []export.Observer
			if cfg.NATSURL != "" {
				publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
				if err != nil {
					return err
				}
				defer publisher.Close()
				observers = append(observers, natspkg.NewProgressObserver(publisher, logger))
			}

			var sink download.Sink
			switch {
			case c.Bool("stdout"):
				sink = &download.WriterSink{W: c.App.Writer, Metrics: m}
			case c.Bool("data-uri"):
				sink = &download.DataURISink{W: c.App.Writer, Metrics: m}
			default:
				sink = &download.FileSink{Dir: cfg.OutputDir, Metrics: m}
			}

			exporter, err := export.NewExporter(export.Config{
				API:       api,
				Options:   cfg.ExportOptions(),
				Renderer:  render.NewRenderer(cfg.CSVMode, m),
				Sink:      sink,
				Observers: observers,
				Metrics:   m,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			summary, err := exporter.Run(ctx)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			// the CSV itself may be on stdout
			out := c.App.Writer
			if c.Bool("stdout") || c.Bool("data-uri") {
				out = c.App.ErrWriter
			}
			if c.Bool("json") {
				return printJSON(out, summary)
			}
			fmt.Fprintf(out, "✓ Exported %d transactions (%d pages, base currency %s)\n",
				summary.Transactions, summary.PagesFetched, summary.BaseCurrency)
			fmt.Fprintf(out, "  Net value: %s %s\n", summary.NetValue, summary.BaseCurrency)
			fmt.Fprintf(out, "  Saved to:  %s\n", summary.Location)
			fmt.Fprintf(out, "  Took:      %s\n", summary.Duration.Round(time.Second))
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Check the credentials and print the portfolio's base currency",
		Flags: apiFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			api, err := newAPIClient(c.Context, cfg, nil, logger)
			if err != nil {
				return err
			}

			session, err := api.FetchSession(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, session)
			}
			fmt.Fprintf(c.App.Writer, "✓ Session is valid\n")
			fmt.Fprintf(c.App.Writer, "  Base currency: %s\n", session.BaseCurrency)
			return nil
		},
	}
}

func pageCommand() *cli.Command {
	return &cli.Command{
		Name:  "page",
		Usage: "Fetch a single page of transactions and print it",
		Flags: append(apiFlags(),
			&cli.IntFlag{
				Name:    "number",
				Aliases: []string{"n"},
				Usage:   "Page to fetch",
				Value:   1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Transactions per page (overrides PAGE_SIZE)",
			},
			&cli.StringFlag{
				Name:  "csv-mode",
				Usage: "Print rows as quoted or raw CSV instead of JSON",
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			api, err := newAPIClient(c.Context, cfg, nil, logger)
			if err != nil {
				return err
			}

			page, err := api.FetchPage(c.Context, client.PageRequest{
				Page:    c.Int("number"),
				PerPage: cfg.PageSize,
			})
			if err != nil {
				return err
			}

			if !c.IsSet("csv-mode") {
				return printJSON(c.App.Writer, page)
			}

			session, err := api.FetchSession(c.Context)
			if err != nil {
				return err
			}
			data, err := render.NewRenderer(cfg.CSVMode, nil).Render(session.BaseCurrency, page.Transactions)
			if err != nil {
				return err
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "koinly-export\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
