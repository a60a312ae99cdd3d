package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/koinly-export/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing export progress to NATS.
type Publisher interface {
	// PublishProgress publishes a single progress event to JetStream.
	// The event is published to the subject "exports.{run_id}".
	PublishProgress(ctx context.Context, event *ProgressEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes progress events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for export progress.
	StreamName = "EXPORTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "exports.*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// Subject returns the subject progress of runID is published on.
func Subject(runID string) string {
	return fmt.Sprintf("exports.%s", runID)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("koinly-export"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Progress events from Koinly transaction exports",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishProgress publishes a single progress event.
func (p *JetStreamPublisher) PublishProgress(ctx context.Context, event *ProgressEvent) error {
	start := time.Now()
	subject := Subject(event.RunID)

	data, err := json.Marshal(event)
	if err != nil {
		p.record(event.Kind, "error", start)
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.record(event.Kind, "error", start)
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	p.record(event.Kind, "success", start)

	p.logger.Debug("published progress event",
		"subject", subject,
		"kind", event.Kind,
		"page", event.Page,
	)

	return nil
}

func (p *JetStreamPublisher) record(kind, status string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(kind, status, time.Since(start).Seconds())
	}
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
