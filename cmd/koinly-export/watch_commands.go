package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/koinly-export/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// watchCommand follows the progress events of running exports.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow export progress published to NATS",
		ArgsUsage: "[run_id]",
		Description: `Stream the progress events an export publishes when NATS_URL is set.

Without a run ID every export is followed. With one, the command exits once
that run completes or fails.

Example:
  koinly-export watch 3f0c1f5e-8d7b-4b8e-9a55-0c7d2e1b9f10`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one run ID may be given")
			}
			runID := c.Args().Get(0)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return watchProgress(ctx, c.String("nats-url"), runID, c.Bool("json"), c.App.Writer)
		},
	}
}

func watchProgress(ctx context.Context, natsURL, runID string, jsonOutput bool, w io.Writer) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.StreamSubjects
	deliver := jetstream.DeliverNewPolicy
	if runID != "" {
		subject = natspkg.Subject(runID)
		// replay what the run already published
		deliver = jetstream.DeliverAllPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: deliver,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(w, "📡 Watching: %s\n\n", subject)
	}

	// cancelled first on return so a handler blocked on msgChan gives up
	ctx, cancel := context.WithCancel(ctx)
	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(forwardTo(ctx, msgChan))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()
	defer cancel()

	for {
		select {
		case msg := <-msgChan:
			var event natspkg.ProgressEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(w, string(data))
			} else {
				fmt.Fprintln(w, formatEvent(&event))
			}

			if runID != "" && isTerminal(event.Kind) {
				if event.Kind == natspkg.KindFailed {
					return fmt.Errorf("export %s failed: %s", runID, event.Error)
				}
				return nil
			}

		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out watching %s", subject)
			}
			return nil
		}
	}
}

// forwardTo hands consumed messages to ch until ctx is done. Messages that
// arrive after that are dropped unacked and redelivered to the next consumer.
func forwardTo(ctx context.Context, ch chan<- jetstream.Msg) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
}

func isTerminal(kind string) bool {
	return kind == natspkg.KindCompleted || kind == natspkg.KindFailed
}

// formatEvent renders one progress event as a human readable line.
func formatEvent(e *natspkg.ProgressEvent) string {
	ts := e.Timestamp.Local().Format(time.TimeOnly)
	switch e.Kind {
	case natspkg.KindStarted:
		return fmt.Sprintf("%s  %s  started", ts, e.RunID)
	case natspkg.KindPage:
		return fmt.Sprintf("%s  %s  page %d/%s  (%d transactions)", ts, e.RunID, e.Page, pagesLabel(e.TotalPages), e.Transactions)
	case natspkg.KindCheckpoint:
		return fmt.Sprintf("%s  %s  checkpoint after page %d/%s", ts, e.RunID, e.Page, pagesLabel(e.TotalPages))
	case natspkg.KindCompleted:
		return fmt.Sprintf("%s  %s  ✅ completed: %d transactions saved to %s", ts, e.RunID, e.Transactions, e.Location)
	case natspkg.KindFailed:
		return fmt.Sprintf("%s  %s  ❌ failed: %s", ts, e.RunID, e.Error)
	default:
		return fmt.Sprintf("%s  %s  %s", ts, e.RunID, e.Kind)
	}
}

func pagesLabel(total int) string {
	if total <= 0 {
		return "?"
	}
	return fmt.Sprint(total)
}
