package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves totalPages pages of perPage transactions each and
// records every request it receives.
type fakeFetcher struct {
	totalPages int
	perPage    int
	failOn     int
	err        error
	requests   []client.PageRequest
	inFlight   int
	maxFlight  int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req client.PageRequest) (*client.Page, error) {
	f.inFlight++
	defer func() { f.inFlight-- }()
	f.maxFlight = max(f.maxFlight, f.inFlight)

	f.requests = append(f.requests, req)
	if req.Page == f.failOn {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("connection reset")
	}

	txns := make([]client.Transaction, f.perPage)
	for i := range txns {
		id := fmt.Sprintf("p%d-t%d", req.Page, i)
		txns[i] = client.Transaction{ID: json.RawMessage(strconv.Quote(id)), Description: id}
	}
	page := &client.Page{Number: req.Page, Transactions: txns}
	if req.Page == 1 {
		page.Meta = &client.PageMeta{Page: &client.PageInfo{CurrentPage: 1, TotalPages: f.totalPages}}
	}
	return page, nil
}

// recordingSleeper records pauses instead of waiting.
type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) count(d time.Duration) int {
	n := 0
	for _, got := range s.delays {
		if got == d {
			n++
		}
	}
	return n
}

type recordingObserver struct {
	NopObserver
	pages       []Progress
	checkpoints []Progress
}

func (o *recordingObserver) PageFetched(ctx context.Context, p Progress) {
	o.pages = append(o.pages, p)
}

func (o *recordingObserver) Checkpoint(ctx context.Context, p Progress) {
	o.checkpoints = append(o.checkpoints, p)
}

const (
	testJitter     = 4 * time.Second
	testCheckpoint = 15 * time.Second
)

func newTestScheduler(fetcher PageFetcher, sleeper Sleeper, obs ...Observer) *Scheduler {
	opts := DefaultOptions()
	return NewScheduler(fetcher, opts, nil,
		WithSleeper(sleeper),
		WithJitter(func(min, max time.Duration) time.Duration { return testJitter }),
		WithObservers(obs...),
	)
}

func TestFetchAll_VisitsEveryPageOnceInOrder(t *testing.T) {
	tests := []struct {
		totalPages      int
		wantFetches     int
		wantJitter      int
		wantCheckpoints int
	}{
		{totalPages: 0, wantFetches: 1, wantJitter: 0, wantCheckpoints: 0},
		{totalPages: 1, wantFetches: 1, wantJitter: 0, wantCheckpoints: 0},
		{totalPages: 2, wantFetches: 2, wantJitter: 1, wantCheckpoints: 0},
		{totalPages: 10, wantFetches: 10, wantJitter: 9, wantCheckpoints: 0},
		{totalPages: 11, wantFetches: 11, wantJitter: 10, wantCheckpoints: 1},
		{totalPages: 20, wantFetches: 20, wantJitter: 19, wantCheckpoints: 1},
		{totalPages: 21, wantFetches: 21, wantJitter: 20, wantCheckpoints: 2},
		{totalPages: 25, wantFetches: 25, wantJitter: 24, wantCheckpoints: 2},
		{totalPages: 101, wantFetches: 101, wantJitter: 100, wantCheckpoints: 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d pages", tt.totalPages), func(t *testing.T) {
			fetcher := &fakeFetcher{totalPages: tt.totalPages, perPage: 2}
			sleeper := &recordingSleeper{}

			result, err := newTestScheduler(fetcher, sleeper).FetchAll(context.Background(), "run-1")
			require.NoError(t, err)

			require.Len(t, fetcher.requests, tt.wantFetches)
			for i, req := range fetcher.requests {
				assert.Equal(t, i+1, req.Page)
				assert.Equal(t, 25, req.PerPage)
			}
			assert.Equal(t, 1, fetcher.maxFlight)

			assert.Equal(t, tt.wantJitter, sleeper.count(testJitter))
			assert.Equal(t, tt.wantCheckpoints, sleeper.count(testCheckpoint))
			assert.Len(t, sleeper.delays, tt.wantJitter+tt.wantCheckpoints)

			assert.Equal(t, tt.totalPages, result.TotalPages)
			assert.Equal(t, tt.wantFetches, result.PagesFetched)
			assert.Len(t, result.Transactions, tt.wantFetches*2)
		})
	}
}

func TestFetchAll_CheckpointFollowsJitterOfSamePage(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 12, perPage: 1}
	sleeper := &recordingSleeper{}

	_, err := newTestScheduler(fetcher, sleeper).FetchAll(context.Background(), "run-1")
	require.NoError(t, err)

	// 9 jitters for pages 2..10, the checkpoint after page 10, then pages 11 and 12
	require.Len(t, sleeper.delays, 12)
	assert.Equal(t, testCheckpoint, sleeper.delays[9])
	assert.Equal(t, testJitter, sleeper.delays[10])
	assert.Equal(t, testJitter, sleeper.delays[11])
}

func TestFetchAll_PreservesPageAndIntraPageOrder(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 3, perPage: 2}

	result, err := newTestScheduler(fetcher, &recordingSleeper{}).FetchAll(context.Background(), "run-1")
	require.NoError(t, err)

	ids := make([]string, len(result.Transactions))
	for i, txn := range result.Transactions {
		ids[i] = txn.Description
	}
	assert.Equal(t, []string{"p1-t0", "p1-t1", "p2-t0", "p2-t1", "p3-t0", "p3-t1"}, ids)
}

func TestFetchAll_PassesTotalPagesForLogging(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 3, perPage: 1}

	_, err := newTestScheduler(fetcher, &recordingSleeper{}).FetchAll(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 0, fetcher.requests[0].TotalPages)
	assert.Equal(t, 3, fetcher.requests[1].TotalPages)
	assert.Equal(t, 3, fetcher.requests[2].TotalPages)
}

func TestFetchAll_PageFailureAborts(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 10, perPage: 5, failOn: 3}
	sleeper := &recordingSleeper{}

	result, err := newTestScheduler(fetcher, sleeper).FetchAll(context.Background(), "run-1")
	require.Error(t, err)
	assert.Nil(t, result)

	var pageErr *client.PageFetchError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 3, pageErr.Page)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Len(t, fetcher.requests, 3)
	assert.Len(t, sleeper.delays, 2)
}

func TestFetchAll_KeepsTypedPageError(t *testing.T) {
	original := &client.PageFetchError{Page: 4, Err: errors.New("429")}
	fetcher := &fakeFetcher{totalPages: 5, perPage: 1, failOn: 4, err: original}

	_, err := newTestScheduler(fetcher, &recordingSleeper{}).FetchAll(context.Background(), "run-1")
	assert.Same(t, original, err)
}

func TestFetchAll_FirstPageFailure(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 5, failOn: 1}
	sleeper := &recordingSleeper{}

	_, err := newTestScheduler(fetcher, sleeper).FetchAll(context.Background(), "run-1")

	var pageErr *client.PageFetchError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 1, pageErr.Page)
	assert.Empty(t, sleeper.delays)
}

func TestFetchAll_CancelledDuringDelay(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 5, perPage: 1}
	sleeper := &recordingSleeper{err: context.Canceled}

	_, err := newTestScheduler(fetcher, sleeper).FetchAll(context.Background(), "run-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "before page 2")
	assert.Len(t, fetcher.requests, 1)
}

func TestFetchAll_NotifiesObservers(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 21, perPage: 3}
	obs := &recordingObserver{}

	_, err := newTestScheduler(fetcher, &recordingSleeper{}, obs).FetchAll(context.Background(), "run-42")
	require.NoError(t, err)

	require.Len(t, obs.pages, 21)
	assert.Equal(t, 1, obs.pages[0].Page)
	assert.Equal(t, 3, obs.pages[0].Transactions)
	assert.Equal(t, 63, obs.pages[20].Transactions)

	require.Len(t, obs.checkpoints, 2)
	assert.Equal(t, Progress{RunID: "run-42", Page: 10, TotalPages: 21, Transactions: 30}, withoutTime(obs.checkpoints[0]))
	assert.Equal(t, Progress{RunID: "run-42", Page: 20, TotalPages: 21, Transactions: 60}, withoutTime(obs.checkpoints[1]))
}

func withoutTime(p Progress) Progress {
	p.Timestamp = time.Time{}
	return p
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerSleeper.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimerSleeper_Waits(t *testing.T) {
	start := time.Now()
	require.NoError(t, TimerSleeper.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestUniformJitter_Bounds(t *testing.T) {
	min, max := 3*time.Second, 7*time.Second
	for i := 0; i < 1000; i++ {
		d := UniformJitter(min, max)
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, max)
		assert.Equal(t, time.Duration(0), d%time.Millisecond)
	}
	assert.Equal(t, 5*time.Second, UniformJitter(5*time.Second, 5*time.Second))
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.MinDelay = 10 * time.Second
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be greater than")

	opts = DefaultOptions()
	opts.CheckpointInterval = 0
	opts.PageSize = 0
	err = opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CheckpointInterval must be positive")
	assert.Contains(t, err.Error(), "PageSize must be positive")
}

func TestOptions_IsCheckpoint(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.IsCheckpoint(10, 11))
	assert.False(t, opts.IsCheckpoint(10, 10))
	assert.False(t, opts.IsCheckpoint(9, 30))
	assert.True(t, opts.IsCheckpoint(20, 30))
}

func TestOptions_EstimatedDuration(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 50*time.Second, opts.EstimatedDuration(10))
	assert.Equal(t, time.Duration(0), opts.EstimatedDuration(0))
}
