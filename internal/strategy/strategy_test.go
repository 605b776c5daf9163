package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/jobharvest/internal/progress"
	"github.com/JakeFAU/jobharvest/internal/wave"
)

type fakeOneShot struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error)
}

func (f *fakeOneShot) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target.Name)
	f.mu.Unlock()
	return f.fn(ctx, target)
}

func (f *fakeOneShot) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func records(prefix string, n int) []crawler.JobRecord {
	out := make([]crawler.JobRecord, n)
	for i := range out {
		out[i] = crawler.JobRecord{ID: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return out
}

type collector struct {
	mu  sync.Mutex
	ids map[string][]string
}

func newCollector() *collector { return &collector{ids: make(map[string][]string)} }

func (c *collector) Emit(_ context.Context, source string, rec crawler.JobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[source] = append(c.ids[source], rec.ID)
	return nil
}

func (c *collector) count(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids[source])
}

func targets(names ...string) []crawler.Target {
	out := make([]crawler.Target, len(names))
	for i, n := range names {
		out[i] = crawler.Target{Name: n, Kind: crawler.KindGreenhouse}
	}
	return out
}

func TestOneShotIsolatesFailures(t *testing.T) {
	t.Parallel()

	adapter := &fakeOneShot{fn: func(_ context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
		if target.Name == "broken" {
			return nil, errors.New("vendor down")
		}
		return records(target.Name, 3), nil
	}}
	var events []progress.Event
	var mu sync.Mutex
	reporter := progress.NewReporter(progress.EmitterFunc(func(evt progress.Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}), uuid.New())

	c := newCollector()
	s := &OneShot{Targets: targets("a", "broken", "b"), Adapter: adapter, Reporter: reporter}
	outcomes := s.Run(context.Background(), c)

	require.Len(t, outcomes, 3)
	require.Equal(t, ReasonDone, outcomes[0].Reason)
	require.True(t, outcomes[1].Failed())
	require.EqualError(t, outcomes[1].Err, "vendor down")
	require.Equal(t, 3, outcomes[2].Emitted)
	require.Equal(t, 3, c.count("a"))
	require.Equal(t, 3, c.count("b"))
	require.Equal(t, []string{"a", "broken", "b"}, adapter.Calls())

	stages := make(map[progress.Stage]int)
	for _, evt := range events {
		stages[evt.Stage]++
	}
	require.Equal(t, 3, stages[progress.StageTargetPage])
	require.Equal(t, 2, stages[progress.StageTargetDone])
	require.Equal(t, 1, stages[progress.StageTargetError])
}

func TestOneShotEmitsPartialResultsBeforeError(t *testing.T) {
	t.Parallel()

	adapter := &fakeOneShot{fn: func(context.Context, crawler.Target) ([]crawler.JobRecord, error) {
		return records("p", 2), errors.New("page 2 failed")
	}}
	c := newCollector()
	outcomes := (&OneShot{Targets: targets("p"), Adapter: adapter}).Run(context.Background(), c)
	require.True(t, outcomes[0].Failed())
	require.Equal(t, 2, outcomes[0].Emitted)
	require.Equal(t, 2, c.count("p"))
}

func TestOneShotStopFinishesCurrentTarget(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeOneShot{fn: func(fetchCtx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
		cancel()
		require.NoError(t, fetchCtx.Err(), "in-flight fetch must not see the stop signal")
		return records(target.Name, 2), nil
	}}
	c := newCollector()
	outcomes := (&OneShot{Targets: targets("first", "second"), Adapter: adapter}).Run(ctx, c)

	require.Equal(t, []string{"first"}, adapter.Calls())
	require.Equal(t, 2, c.count("first"))
	require.Equal(t, ReasonDone, outcomes[0].Reason)
	require.Equal(t, ReasonStopped, outcomes[1].Reason)
}

func TestAggregatorDelaysBetweenTargets(t *testing.T) {
	t.Parallel()

	adapter := &fakeOneShot{fn: func(_ context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
		return records(target.Name, 1), nil
	}}
	var pauses []time.Duration
	s := &Aggregator{
		Targets:  targets("x", "y", "z"),
		Adapter:  adapter,
		Limiter:  ratelimit.New(ratelimit.Config{}),
		MinDelay: time.Second,
		MaxDelay: 3 * time.Second,
		Pause:    func(_ context.Context, d time.Duration) { pauses = append(pauses, d) },
		Jitter: func(lo, hi time.Duration) time.Duration {
			require.Equal(t, time.Second, lo)
			require.Equal(t, 3*time.Second, hi)
			return 2 * time.Second
		},
	}
	outcomes := s.Run(context.Background(), newCollector())
	require.Len(t, outcomes, 3)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, pauses)
	require.Equal(t, "aggregator", s.Name())
}

func TestAggregatorStopDuringDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeOneShot{fn: func(_ context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
		return records(target.Name, 1), nil
	}}
	s := &Aggregator{
		Targets: targets("x", "y"),
		Adapter: adapter,
		Pause: func(context.Context, time.Duration) {
			cancel()
		},
	}
	outcomes := s.Run(ctx, newCollector())
	require.Equal(t, []string{"x"}, adapter.Calls())
	require.Equal(t, ReasonStopped, outcomes[1].Reason)
	require.False(t, outcomes[1].Failed())
}

func TestUniformStaysInRange(t *testing.T) {
	t.Parallel()

	for range 200 {
		d := uniform(10*time.Millisecond, 20*time.Millisecond)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
	require.Equal(t, 5*time.Millisecond, uniform(5*time.Millisecond, 5*time.Millisecond))
	require.Equal(t, time.Duration(0), uniform(-time.Second, 0))
}

type pagedAdapter struct{}

func (pagedAdapter) FetchPage(_ context.Context, target crawler.Target, offset int) (crawler.Page, error) {
	if target.Name == "bad" {
		return crawler.Page{}, errors.New("boom")
	}
	return crawler.Page{
		Records:    records(fmt.Sprintf("%s-%d", target.Name, offset), 2),
		HasMore:    offset == 0,
		KnownTotal: crawler.TotalUnknown,
	}, nil
}

func TestWaveReportsPerTarget(t *testing.T) {
	t.Parallel()

	c := newCollector()
	s := &Wave{
		Targets:   targets("ok", "bad"),
		Adapter:   pagedAdapter{},
		Scheduler: &wave.Scheduler{PageSize: 2, Pause: func(context.Context, time.Duration) {}},
	}
	outcomes := s.Run(context.Background(), c)
	require.Len(t, outcomes, 2)
	require.Equal(t, "bad", outcomes[0].Target)
	require.True(t, outcomes[0].Failed())
	require.Equal(t, "ok", outcomes[1].Target)
	require.Equal(t, 4, outcomes[1].Emitted)
	require.Equal(t, 4, outcomes[1].Scanned)
	require.Equal(t, string(wave.ReasonExhausted), outcomes[1].Reason)
	require.Equal(t, 4, c.count("ok"))
}
