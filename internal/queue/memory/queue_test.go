package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := crawler.QueueItem{Source: "acme", Record: crawler.JobRecord{ID: "gh-1"}}
	require.NoError(t, q.Enqueue(context.Background(), item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "gh-1", got.Record.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), crawler.QueueItem{Source: "primed"}))
	require.EqualError(t, qEnqueue.Enqueue(ctx, crawler.QueueItem{}), "enqueue canceled: context canceled")
	require.Equal(t, 1, qEnqueue.Pending(), "a canceled enqueue must not stay pending")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed)
	// Closing twice should be safe.
	q.Close()
}

func TestQueueWaitBlocksUntilEveryItemIsDone(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.NoError(t, q.Wait(context.Background()), "empty queue is idle")

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{}))
	}
	require.NoError(t, q.Enqueue(context.Background(), crawler.SentinelItem()))
	require.Equal(t, 4, q.Pending())

	waited := make(chan struct{})
	go func() {
		_ = q.Wait(context.Background())
		close(waited)
	}()

	for i := 0; i < 3; i++ {
		_, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		q.Done()
	}
	select {
	case <-waited:
		t.Fatal("wait returned before the sentinel was done")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, item.Sentinel)
	q.Done()

	require.Eventually(t, func() bool {
		select {
		case <-waited:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, q.Pending())
}

func TestQueueWaitHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{Source: "a"}))

	var wg sync.WaitGroup
	wg.Add(1)
	enqueued := make(chan struct{})
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), crawler.QueueItem{Source: "b"})
		close(enqueued)
	}()

	select {
	case <-enqueued:
		t.Fatal("enqueue should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", first.Source)
	wg.Wait()
	second, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b", second.Source)
}
