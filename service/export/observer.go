package export

import (
	"context"
	"time"
)

// Progress is a snapshot of an export run.
type Progress struct {
	RunID        string
	Page         int // last page fetched
	TotalPages   int
	Transactions int // transactions accumulated so far
	Timestamp    time.Time
}

// Observer receives notifications as an export progresses. Implementations
// must not block for long: they run on the export's only goroutine.
type Observer interface {
	Started(ctx context.Context, runID string)
	PageFetched(ctx context.Context, p Progress)
	Checkpoint(ctx context.Context, p Progress)
	Completed(ctx context.Context, s Summary)
	Failed(ctx context.Context, runID string, err error)
}

// NopObserver implements Observer with no-ops; embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) Started(context.Context, string)       {}
func (NopObserver) PageFetched(context.Context, Progress) {}
func (NopObserver) Checkpoint(context.Context, Progress)  {}
func (NopObserver) Completed(context.Context, Summary)    {}
func (NopObserver) Failed(context.Context, string, error) {}

type observers []Observer

func (o observers) started(ctx context.Context, runID string) {
	for _, obs := range o {
		obs.Started(ctx, runID)
	}
}

func (o observers) pageFetched(ctx context.Context, p Progress) {
	for _, obs := range o {
		obs.PageFetched(ctx, p)
	}
}

func (o observers) checkpoint(ctx context.Context, p Progress) {
	for _, obs := range o {
		obs.Checkpoint(ctx, p)
	}
}

func (o observers) completed(ctx context.Context, s Summary) {
	for _, obs := range o {
		obs.Completed(ctx, s)
	}
}

func (o observers) failed(ctx context.Context, runID string, err error) {
	for _, obs := range o {
		obs.Failed(ctx, runID, err)
	}
}
