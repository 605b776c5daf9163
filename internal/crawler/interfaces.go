package crawler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnauthorized signals that a cached vendor session was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownKind is returned when a target names an unregistered source kind.
	ErrUnknownKind = errors.New("unknown source kind")
	// ErrNotFound is returned by stores when a job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by Insert when the id is already stored.
	ErrDuplicate = errors.New("job already stored")
)

// OneShotAdapter returns every posting of a target in a single call.
type OneShotAdapter interface {
	FetchAll(ctx context.Context, target Target) ([]JobRecord, error)
}

// BatchedAdapter returns one page at an offset. Calls are idempotent per
// (target, offset).
type BatchedAdapter interface {
	FetchPage(ctx context.Context, target Target, offset int) (Page, error)
}

// DescriptionFetcher resolves a DescriptionHandle into the posting body.
type DescriptionFetcher interface {
	FetchDescription(ctx context.Context, handle DescriptionHandle) (string, error)
}

// Fetcher retrieves a single HTML page.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Emitter receives records produced by a scan strategy.
type Emitter interface {
	Emit(ctx context.Context, source string, record JobRecord) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, source string, record JobRecord) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, source string, record JobRecord) error {
	return f(ctx, source, record)
}

// JobStore persists jobs keyed by natural id.
type JobStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, job StoredJob) error
	Get(ctx context.Context, id string) (StoredJob, error)
	ListByRelevance(ctx context.Context, relevance Relevance) ([]StoredJob, error)
	UpdateClassification(ctx context.Context, id string, relevance Relevance, c Classification) error
	ListUnnotified(ctx context.Context) ([]StoredJob, error)
	MarkNotified(ctx context.Context, ids []string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides bounded enqueue/dequeue with completion tracking.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Done()
	Wait(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Pause blocks for d or until ctx is done.
func Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
