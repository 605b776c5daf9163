package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	r := NewRunner(func(context.Context) (Report, error) {
		close(started)
		<-release
		return Report{}, nil
	}, nil)

	require.NoError(t, r.Trigger(context.Background(), "api"))
	<-started
	require.True(t, r.Running())

	_, err := r.Run(context.Background(), "cli")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, r.Trigger(context.Background(), "api"), ErrBusy)

	close(release)
	r.Wait()
	require.False(t, r.Running())

	last, ok := r.Latest()
	require.True(t, ok)
	require.Equal(t, "api", last.Trigger)
	require.False(t, last.FinishedAt.IsZero())
}

func TestRunnerRecordsErrors(t *testing.T) {
	t.Parallel()

	r := NewRunner(func(context.Context) (Report, error) {
		return Report{}, errors.New("store offline")
	}, nil)
	_, ok := r.Latest()
	require.False(t, ok)

	_, err := r.Run(context.Background(), "cli")
	require.Error(t, err)

	last, ok := r.Latest()
	require.True(t, ok)
	require.Equal(t, "store offline", last.Error)

	// The guard is released after a failure.
	_, err = r.Run(context.Background(), "cli")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrBusy)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New("every now and then", NewRunner(func(context.Context) (Report, error) { return Report{}, nil }, nil), nil)
	require.Error(t, err)
	_, err = New(DefaultSpec, nil, nil)
	require.Error(t, err)
}

func TestSchedulerRunsOnStartAndTick(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	r := NewRunner(func(context.Context) (Report, error) {
		runs.Add(1)
		return Report{}, nil
	}, nil)
	s, err := New("@every 1s", r, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), true))
	require.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	last, ok := r.Latest()
	require.True(t, ok)
	require.Contains(t, []string{"startup", "schedule"}, last.Trigger)
}
