// Package memory provides the bounded in-process ingestion queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// ErrClosed is returned when the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations and
// completion tracking. Every enqueued item, sentinel included, counts as
// pending until Done is called for it.
type Queue struct {
	ch      chan crawler.QueueItem
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ch:   make(chan crawler.QueueItem, capacity),
		idle: idle,
	}
}

// Enqueue pushes an item, blocking while the queue is full, or returns if the
// context ends first.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.add(1)
	select {
	case <-ctx.Done():
		q.add(-1)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawler.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Done marks one dequeued item as fully processed.
func (q *Queue) Done() {
	q.add(-1)
}

// Wait blocks until every enqueued item has been marked done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-idle:
		return nil
	}
}

// Pending reports how many items are enqueued but not yet done.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

func (q *Queue) add(delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.pending
	q.pending += delta
	if q.pending < 0 {
		panic("memory queue: Done called more times than items enqueued")
	}
	switch {
	case prev == 0 && q.pending > 0:
		q.idle = make(chan struct{})
	case prev > 0 && q.pending == 0:
		close(q.idle)
	}
}
