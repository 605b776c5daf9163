package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.StoredJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.StoredJob)}
}

// Exists reports whether id is stored.
func (s *JobStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[id]
	return ok, nil
}

// Insert stores job, refusing ids that already exist.
func (s *JobStore) Insert(_ context.Context, job crawler.StoredJob) error {
	if job.ID == "" {
		return fmt.Errorf("insert job: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("insert %s: %w", job.ID, crawler.ErrDuplicate)
	}
	job.TechStack = slices.Clone(job.TechStack)
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, id string) (crawler.StoredJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.StoredJob{}, fmt.Errorf("get %s: %w", id, crawler.ErrNotFound)
	}
	return job, nil
}

// ListByRelevance returns jobs with the given relevance, oldest first.
func (s *JobStore) ListByRelevance(_ context.Context, relevance crawler.Relevance) ([]crawler.StoredJob, error) {
	return s.list(func(j crawler.StoredJob) bool { return j.Relevance == relevance }), nil
}

// UpdateClassification records a classifier verdict.
func (s *JobStore) UpdateClassification(
	_ context.Context,
	id string,
	relevance crawler.Relevance,
	c crawler.Classification,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("classify %s: %w", id, crawler.ErrNotFound)
	}
	job.Relevance = relevance
	job.Reason = c.Reason
	job.TechStack = slices.Clone(c.TechStack)
	job.YearsRequired = c.YearsRequired
	s.jobs[id] = job
	return nil
}

// ListUnnotified returns relevant jobs that have not been sent yet.
func (s *JobStore) ListUnnotified(_ context.Context) ([]crawler.StoredJob, error) {
	return s.list(func(j crawler.StoredJob) bool {
		return j.Relevance == crawler.RelevanceRelevant && !j.Notified
	}), nil
}

// MarkNotified flags ids as sent. Unknown ids are ignored.
func (s *JobStore) MarkNotified(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			job.Notified = true
			s.jobs[id] = job
		}
	}
	return nil
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) list(keep func(crawler.StoredJob) bool) []crawler.StoredJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.StoredJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
