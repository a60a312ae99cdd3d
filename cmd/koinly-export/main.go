package main

import (
	"fmt"
	"log"
	"os"

	"github.com/brojonat/koinly-export/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "koinly-export",
		Usage: "Export every Koinly transaction to a CSV file",
		Description: `Downloads all transactions of the active Koinly portfolio through the same
API the web app uses and writes them as "Koinly Transactions.csv".

Credentials come from an already logged-in browser session: pass the
document.cookie string (KOINLY_COOKIE), the API_KEY and PORTFOLIO_ID cookie
values, or point --chrome-url at a Chrome started with --remote-debugging-port.

Pages are fetched one at a time with a 3-7s pause between them and a 15s
break every 10 pages, so large portfolios take a while.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before: func(c *cli.Context) error {
			return config.LoadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			exportCommand(),
			sessionCommand(),
			pageCommand(),
			watchCommand(),
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file (default: ./.env if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
