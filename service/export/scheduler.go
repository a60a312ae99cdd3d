package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/metrics"
)

// PageFetcher fetches a single page of transactions.
type PageFetcher interface {
	FetchPage(ctx context.Context, req client.PageRequest) (*client.Page, error)
}

// Result is the ordered concatenation of every fetched page.
type Result struct {
	Transactions []client.Transaction
	TotalPages   int // as reported by page 1
	PagesFetched int
}

// Scheduler walks every page of the transactions endpoint exactly once, in
// increasing order, with a single request in flight and pauses in between.
type Scheduler struct {
	fetcher   PageFetcher
	opts      Options
	sleeper   Sleeper
	jitter    JitterFunc
	observers observers
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSleeper replaces the real timer, mostly for tests.
func WithSleeper(sleeper Sleeper) SchedulerOption {
	return func(s *Scheduler) { s.sleeper = sleeper }
}

// WithJitter replaces the uniform random delay picker.
func WithJitter(jitter JitterFunc) SchedulerOption {
	return func(s *Scheduler) { s.jitter = jitter }
}

// WithObservers registers observers for page and checkpoint notifications.
func WithObservers(obs ...Observer) SchedulerOption {
	return func(s *Scheduler) { s.observers = append(s.observers, obs...) }
}

// WithMetrics records pages and delays. A nil *Metrics disables recording.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler. Options are used as given; call
// Options.Validate first when they come from user input.
func NewScheduler(fetcher PageFetcher, opts Options, logger *slog.Logger, options ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Scheduler{
		fetcher: fetcher,
		opts:    opts,
		sleeper: TimerSleeper,
		jitter:  UniformJitter,
		logger:  logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// FetchAll fetches page 1 to learn the page count, then pages 2..N with a
// random pause before each request and a longer pause at every checkpoint.
// The first failing page aborts the run; nothing fetched so far is returned.
func (s *Scheduler) FetchAll(ctx context.Context, runID string) (*Result, error) {
	logger := s.logger.With("run_id", runID)

	logger.InfoContext(ctx, "fetching first page to determine total pages")
	first, err := s.fetcher.FetchPage(ctx, client.PageRequest{Page: 1, PerPage: s.opts.PageSize})
	if err != nil {
		return nil, pageError(1, err)
	}

	totalPages := first.TotalPages()
	logger.InfoContext(ctx, "starting export",
		"total_pages", totalPages,
		"estimated_transactions", totalPages*s.opts.PageSize,
		"estimated_minutes", strconv.FormatFloat(s.opts.EstimatedDuration(totalPages).Minutes(), 'f', 1, 64),
		"min_delay", s.opts.MinDelay,
		"max_delay", s.opts.MaxDelay,
	)

	transactions := make([]client.Transaction, 0, len(first.Transactions))
	transactions = append(transactions, first.Transactions...)
	s.pageDone(ctx, runID, 1, totalPages, len(first.Transactions), len(transactions))

	for i := 2; i <= totalPages; i++ {
		if err := s.pause(ctx, logger, "jitter", s.jitter(s.opts.MinDelay, s.opts.MaxDelay)); err != nil {
			return nil, fmt.Errorf("export interrupted before page %d: %w", i, err)
		}

		page, err := s.fetcher.FetchPage(ctx, client.PageRequest{
			Page:       i,
			PerPage:    s.opts.PageSize,
			TotalPages: totalPages,
		})
		if err != nil {
			return nil, pageError(i, err)
		}

		transactions = append(transactions, page.Transactions...)
		s.pageDone(ctx, runID, i, totalPages, len(page.Transactions), len(transactions))

		if s.opts.IsCheckpoint(i, totalPages) {
			logger.InfoContext(ctx, "progress checkpoint",
				"pages_complete", i,
				"total_pages", totalPages,
				"transactions", len(transactions),
				"break", s.opts.CheckpointDelay,
			)
			s.observers.checkpoint(ctx, Progress{
				RunID:        runID,
				Page:         i,
				TotalPages:   totalPages,
				Transactions: len(transactions),
				Timestamp:    time.Now().UTC(),
			})
			if s.metrics != nil {
				s.metrics.RecordCheckpoint()
			}
			if err := s.pause(ctx, logger, "checkpoint", s.opts.CheckpointDelay); err != nil {
				return nil, fmt.Errorf("export interrupted after page %d: %w", i, err)
			}
		}
	}

	pagesFetched := max(totalPages, 1)
	logger.InfoContext(ctx, "all pages fetched",
		"transactions", len(transactions),
		"pages", pagesFetched,
	)

	return &Result{
		Transactions: transactions,
		TotalPages:   totalPages,
		PagesFetched: pagesFetched,
	}, nil
}

func (s *Scheduler) pause(ctx context.Context, logger *slog.Logger, kind string, d time.Duration) error {
	logger.DebugContext(ctx, "waiting", "kind", kind, "seconds", strconv.FormatFloat(d.Seconds(), 'f', 1, 64))
	if err := s.sleeper.Sleep(ctx, d); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordDelay(kind, d.Seconds())
	}
	return nil
}

func (s *Scheduler) pageDone(ctx context.Context, runID string, page, totalPages, pageCount, accumulated int) {
	if s.metrics != nil {
		s.metrics.RecordPageFetched(pageCount)
	}
	s.observers.pageFetched(ctx, Progress{
		RunID:        runID,
		Page:         page,
		TotalPages:   totalPages,
		Transactions: accumulated,
		Timestamp:    time.Now().UTC(),
	})
}

// pageError guarantees the returned error identifies the failing page.
func pageError(page int, err error) error {
	var pageErr *client.PageFetchError
	if errors.As(err, &pageErr) {
		return err
	}
	return &client.PageFetchError{Page: page, Err: err}
}
