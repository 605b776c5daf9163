// Package source maps source kinds to adapter capabilities and splits the
// configured targets into the buckets each scan strategy consumes.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// Entry lists what an adapter for one kind can do.
type Entry struct {
	OneShot   crawler.OneShotAdapter
	Batched   crawler.BatchedAdapter
	Describer crawler.DescriptionFetcher
	// Aggregator marks third-party job boards that need rate limiting.
	Aggregator bool
}

func (e Entry) validate() error {
	if e.OneShot == nil && e.Batched == nil {
		return errors.New("entry needs a one-shot or batched adapter")
	}
	if e.Aggregator && e.OneShot == nil {
		return errors.New("aggregator entry needs a one-shot adapter")
	}
	return nil
}

// Registry is the kind → Entry table. It is safe for concurrent lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[crawler.SourceKind]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[crawler.SourceKind]Entry)}
}

// Register adds or replaces the entry for kind.
func (r *Registry) Register(kind crawler.SourceKind, entry Entry) error {
	if kind == "" {
		return errors.New("source kind is required")
	}
	if err := entry.validate(); err != nil {
		return fmt.Errorf("register %s: %w", kind, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = entry
	return nil
}

// Lookup returns the entry for kind.
func (r *Registry) Lookup(kind crawler.SourceKind) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[kind]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", crawler.ErrUnknownKind, kind)
	}
	return entry, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []crawler.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]crawler.SourceKind, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Plan is the result of classifying targets into strategy buckets.
type Plan struct {
	OneShot    []crawler.Target
	Wave       []crawler.Target
	Aggregator []crawler.Target
}

// Len returns the total number of planned targets.
func (p Plan) Len() int {
	return len(p.OneShot) + len(p.Wave) + len(p.Aggregator)
}

// Classify assigns every target to exactly one bucket: batched adapters go
// to the wave bucket, aggregators to the rate-limited bucket and the rest to
// the one-shot bucket. It fails on unknown kinds and duplicate names.
func (r *Registry) Classify(targets []crawler.Target) (Plan, error) {
	var plan Plan
	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target.Name == "" {
			return Plan{}, fmt.Errorf("target of kind %q has no name", target.Kind)
		}
		if _, dup := seen[target.Name]; dup {
			return Plan{}, fmt.Errorf("duplicate target name %q", target.Name)
		}
		seen[target.Name] = struct{}{}

		entry, err := r.Lookup(target.Kind)
		if err != nil {
			return Plan{}, fmt.Errorf("classify %s: %w", target.Name, err)
		}
		switch {
		case entry.Batched != nil:
			plan.Wave = append(plan.Wave, target)
		case entry.Aggregator:
			plan.Aggregator = append(plan.Aggregator, target)
		default:
			plan.OneShot = append(plan.OneShot, target)
		}
	}
	return plan, nil
}

// OneShot returns an adapter that forwards FetchAll to the target kind's
// one-shot adapter.
func (r *Registry) OneShot() crawler.OneShotAdapter {
	return oneShotRouter{r}
}

// Batched returns an adapter that forwards FetchPage to the target kind's
// batched adapter.
func (r *Registry) Batched() crawler.BatchedAdapter {
	return batchedRouter{r}
}

// Describer returns a DescriptionFetcher that resolves handles through the
// kind recorded on each handle.
func (r *Registry) Describer() crawler.DescriptionFetcher {
	return describerRouter{r}
}

type oneShotRouter struct{ r *Registry }

func (o oneShotRouter) FetchAll(ctx context.Context, target crawler.Target) ([]crawler.JobRecord, error) {
	entry, err := o.r.Lookup(target.Kind)
	if err != nil {
		return nil, err
	}
	if entry.OneShot == nil {
		return nil, fmt.Errorf("kind %q has no one-shot adapter", target.Kind)
	}
	return entry.OneShot.FetchAll(ctx, target)
}

type batchedRouter struct{ r *Registry }

func (b batchedRouter) FetchPage(ctx context.Context, target crawler.Target, offset int) (crawler.Page, error) {
	entry, err := b.r.Lookup(target.Kind)
	if err != nil {
		return crawler.Page{}, err
	}
	if entry.Batched == nil {
		return crawler.Page{}, fmt.Errorf("kind %q has no batched adapter", target.Kind)
	}
	return entry.Batched.FetchPage(ctx, target, offset)
}

type describerRouter struct{ r *Registry }

func (d describerRouter) FetchDescription(ctx context.Context, handle crawler.DescriptionHandle) (string, error) {
	entry, err := d.r.Lookup(handle.Kind)
	if err != nil {
		return "", err
	}
	if entry.Describer == nil {
		return "", fmt.Errorf("kind %q cannot fetch descriptions", handle.Kind)
	}
	return entry.Describer.FetchDescription(ctx, handle)
}
