package nats

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/koinly-export/service/export"
)

// ProgressObserver publishes export progress as it happens. Publish failures
// are logged and never abort the export.
type ProgressObserver struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

var _ export.Observer = (*ProgressObserver)(nil)

// NewProgressObserver wraps publisher as an export observer.
func NewProgressObserver(publisher Publisher, logger *slog.Logger) *ProgressObserver {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ProgressObserver{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

func (o *ProgressObserver) Started(ctx context.Context, runID string) {
	o.publish(ctx, &ProgressEvent{RunID: runID, Kind: KindStarted, Timestamp: time.Now().UTC()})
}

func (o *ProgressObserver) PageFetched(ctx context.Context, p export.Progress) {
	o.publish(ctx, FromProgress(KindPage, p))
}

func (o *ProgressObserver) Checkpoint(ctx context.Context, p export.Progress) {
	o.publish(ctx, FromProgress(KindCheckpoint, p))
}

func (o *ProgressObserver) Completed(ctx context.Context, s export.Summary) {
	o.publish(ctx, FromSummary(s))
}

func (o *ProgressObserver) Failed(ctx context.Context, runID string, err error) {
	event := &ProgressEvent{RunID: runID, Kind: KindFailed, Timestamp: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
	}
	// the run context may already be cancelled; still report the failure
	o.publish(context.WithoutCancel(ctx), event)
}

func (o *ProgressObserver) publish(ctx context.Context, event *ProgressEvent) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.publisher.PublishProgress(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish progress event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"error", err,
		)
	}
}
