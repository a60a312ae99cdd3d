package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/download"
	"github.com/brojonat/koinly-export/service/metrics"
	"github.com/brojonat/koinly-export/service/render"
	"github.com/google/uuid"
)

// API is the part of the Koinly client an export needs.
type API interface {
	PageFetcher
	FetchSession(ctx context.Context) (*client.Session, error)
}

// Summary describes a finished export.
type Summary struct {
	RunID        string        `json:"run_id"`
	BaseCurrency string        `json:"base_currency"`
	TotalPages   int           `json:"total_pages"`
	PagesFetched int           `json:"pages_fetched"`
	Transactions int           `json:"transactions"`
	NetValue     string        `json:"net_value"` // sum of net values in BaseCurrency
	Location     string        `json:"location"`
	Duration     time.Duration `json:"duration"`
}

// Config wires an Exporter. API and Sink are required.
type Config struct {
	API       API
	Options   Options
	Renderer  *render.Renderer // defaults to quoted CSV
	Sink      download.Sink
	FileName  string // defaults to download.DefaultFileName
	Observers []Observer
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger

	// Sleeper and Jitter override real pacing, mostly for tests.
	Sleeper Sleeper
	Jitter  JitterFunc
}

// Exporter runs one complete export: session, every page, render, save.
type Exporter struct {
	api       API
	opts      Options
	renderer  *render.Renderer
	sink      download.Sink
	fileName  string
	observers observers
	metrics   *metrics.Metrics
	logger    *slog.Logger
	sleeper   Sleeper
	jitter    JitterFunc
	newRunID  func() string
}

// NewExporter validates cfg and builds an Exporter.
func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.API == nil {
		return nil, errors.New("export: API is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("export: Sink is required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewRenderer(render.Quoted, cfg.Metrics)
	}
	if cfg.FileName == "" {
		cfg.FileName = download.DefaultFileName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper
	}
	if cfg.Jitter == nil {
		cfg.Jitter = UniformJitter
	}

	return &Exporter{
		api:       cfg.API,
		opts:      cfg.Options,
		renderer:  cfg.Renderer,
		sink:      cfg.Sink,
		fileName:  cfg.FileName,
		observers: observers(cfg.Observers),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "exporter"),
		sleeper:   cfg.Sleeper,
		jitter:    cfg.Jitter,
		newRunID:  uuid.NewString,
	}, nil
}

// Run performs the export. On any error nothing is saved and the pages
// fetched so far are discarded.
func (e *Exporter) Run(ctx context.Context) (*Summary, error) {
	runID := e.newRunID()
	logger := e.logger.With("run_id", runID)
	start := time.Now()

	logger.InfoContext(ctx, "starting export",
		"page_size", e.opts.PageSize,
		"csv_mode", e.renderer.Mode().String(),
	)
	e.observers.started(ctx, runID)

	summary, err := e.run(ctx, runID, logger)
	duration := time.Since(start)

	if err != nil {
		logger.ErrorContext(ctx, "export failed", "error", err, "duration", duration)
		e.observers.failed(ctx, runID, err)
		if e.metrics != nil {
			e.metrics.RecordRun("error", duration.Seconds())
		}
		return nil, err
	}

	summary.Duration = duration
	logger.InfoContext(ctx, "export complete",
		"transactions", summary.Transactions,
		"pages", summary.PagesFetched,
		"net_value", summary.NetValue,
		"location", summary.Location,
		"duration", duration,
	)
	e.observers.completed(ctx, *summary)
	if e.metrics != nil {
		e.metrics.RecordRun("success", duration.Seconds())
	}
	return summary, nil
}

func (e *Exporter) run(ctx context.Context, runID string, logger *slog.Logger) (*Summary, error) {
	session, err := e.api.FetchSession(ctx)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "session loaded", "base_currency", session.BaseCurrency)

	scheduler := NewScheduler(e.api, e.opts, e.logger,
		WithSleeper(e.sleeper),
		WithJitter(e.jitter),
		WithObservers(e.observers...),
		WithMetrics(e.metrics),
	)
	result, err := scheduler.FetchAll(ctx, runID)
	if err != nil {
		return nil, err
	}

	data, err := e.renderer.Render(session.BaseCurrency, result.Transactions)
	if err != nil {
		return nil, fmt.Errorf("failed to render csv: %w", err)
	}

	location, err := e.sink.Save(ctx, e.fileName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to save export: %w", err)
	}

	netValue, skipped := client.SumNetValue(result.Transactions)
	if skipped > 0 {
		logger.DebugContext(ctx, "transactions without a net value", "count", skipped)
	}

	return &Summary{
		RunID:        runID,
		BaseCurrency: session.BaseCurrency,
		TotalPages:   result.TotalPages,
		PagesFetched: result.PagesFetched,
		Transactions: len(result.Transactions),
		NetValue:     netValue.String(),
		Location:     location,
	}, nil
}
