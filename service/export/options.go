package export

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Options tune the pagination scheduler. They are passed explicitly to the
// scheduler; nothing reads package-level tuning constants.
type Options struct {
	MinDelay           time.Duration // lower bound of the random pause before pages 2..N
	MaxDelay           time.Duration // upper bound of the random pause
	CheckpointInterval int           // pages between checkpoint pauses
	CheckpointDelay    time.Duration // fixed pause taken at each checkpoint
	PageSize           int           // per_page sent to the API
}

// DefaultOptions returns the pacing the Koinly web app tolerates without
// tripping rate limits: 3-7s between pages and a 15s break every 10 pages.
func DefaultOptions() Options {
	return Options{
		MinDelay:           3 * time.Second,
		MaxDelay:           7 * time.Second,
		CheckpointInterval: 10,
		CheckpointDelay:    15 * time.Second,
		PageSize:           25,
	}
}

// Validate checks that the options describe a usable schedule.
func (o Options) Validate() error {
	var errs []error

	if o.MinDelay < 0 {
		errs = append(errs, fmt.Errorf("MinDelay cannot be negative"))
	}
	if o.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("MaxDelay cannot be negative"))
	}
	if o.MinDelay > o.MaxDelay {
		errs = append(errs, fmt.Errorf("MinDelay (%v) cannot be greater than MaxDelay (%v)", o.MinDelay, o.MaxDelay))
	}
	if o.CheckpointInterval <= 0 {
		errs = append(errs, fmt.Errorf("CheckpointInterval must be positive"))
	}
	if o.CheckpointDelay < 0 {
		errs = append(errs, fmt.Errorf("CheckpointDelay cannot be negative"))
	}
	if o.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PageSize must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid export options: %v", errs)
	}
	return nil
}

// IsCheckpoint reports whether a checkpoint pause follows page i of total.
// The last page never gets one.
func (o Options) IsCheckpoint(page, totalPages int) bool {
	return o.CheckpointInterval > 0 && page%o.CheckpointInterval == 0 && page < totalPages
}

// EstimatedDuration is the expected wall time of a run of totalPages pages,
// using the midpoint of the delay window.
func (o Options) EstimatedDuration(totalPages int) time.Duration {
	if totalPages <= 0 {
		return 0
	}
	return time.Duration(totalPages) * (o.MinDelay + o.MaxDelay) / 2
}

// Sleeper pauses the export between requests.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a real timer and returns early if ctx is cancelled.
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// JitterFunc picks a pause in [min, max].
type JitterFunc func(min, max time.Duration) time.Duration

// UniformJitter picks a uniformly random pause in [min, max] at millisecond
// granularity, both ends inclusive.
func UniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64((max - min) / time.Millisecond)
	return min + time.Duration(rand.Int63n(span+1))*time.Millisecond
}
