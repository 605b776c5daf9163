// Package ingest implements the single writer that drains the ingestion
// queue into the job store.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/clock/system"
	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/progress"
	"github.com/JakeFAU/jobharvest/internal/queue/memory"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

// DefaultTopic receives job.discovered events.
const DefaultTopic = "job.discovered"

// Denylist rejects titles containing a blocked keyword.
type Denylist interface {
	Match(title string) (string, bool)
}

// Config controls Consumer behavior.
type Config struct {
	Run   crawler.RunConfig
	Topic string
}

// Stats counts what happened to one source's records.
type Stats struct {
	Received   int `json:"received"`
	Filtered   int `json:"filtered"`
	Duplicates int `json:"duplicates"`
	Saved      int `json:"saved"`
	// Undescribed counts records saved without a description after the
	// secondary fetch failed.
	Undescribed int `json:"undescribed"`
	Errors      int `json:"errors"`
}

// Kept is the number of records that passed the denylist.
func (s Stats) Kept() int {
	return s.Received - s.Filtered
}

// DiscoveredEvent is published after a new job is stored.
type DiscoveredEvent struct {
	ID           string    `json:"id"`
	Company      string    `json:"company"`
	Title        string    `json:"title"`
	Location     string    `json:"location,omitempty"`
	URL          string    `json:"url"`
	Source       string    `json:"source"`
	Relevance    string    `json:"relevance"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Consumer is the only component that writes to the job store during a run.
type Consumer struct {
	queue     crawler.Queue
	store     crawler.JobStore
	describer crawler.DescriptionFetcher
	denylist  Denylist
	publisher crawler.Publisher
	clock     crawler.Clock
	reporter  *progress.Reporter
	cfg       Config
	logger    *zap.Logger

	stats map[string]*Stats
}

// Deps bundles the consumer's collaborators. Describer, Denylist, Publisher
// and Reporter are optional.
type Deps struct {
	Queue     crawler.Queue
	Store     crawler.JobStore
	Describer crawler.DescriptionFetcher
	Denylist  Denylist
	Publisher crawler.Publisher
	Clock     crawler.Clock
	Reporter  *progress.Reporter
	Logger    *zap.Logger
}

// New constructs a Consumer.
func New(deps Deps, cfg Config) *Consumer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Consumer{
		queue:     deps.Queue,
		store:     deps.Store,
		describer: deps.Describer,
		denylist:  deps.Denylist,
		publisher: deps.Publisher,
		clock:     clock,
		reporter:  deps.Reporter,
		cfg:       cfg,
		logger:    logger.Named("consumer"),
		stats:     make(map[string]*Stats),
	}
}

// Run drains the queue until it dequeues the sentinel, then returns the
// per-source statistics. It should be given a context that outlives the
// producers' stop signal so every enqueued item is processed.
func (c *Consumer) Run(ctx context.Context) map[string]Stats {
	for {
		item, err := c.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				c.logger.Warn("consumer stopped before sentinel", zap.Error(err))
				return c.snapshot()
			}
			c.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if item.Sentinel {
			c.queue.Done()
			c.logger.Debug("sentinel received")
			return c.snapshot()
		}
		c.process(ctx, item)
		c.queue.Done()
		if p, ok := c.queue.(interface{ Pending() int }); ok {
			telemetry.SetQueuePending(p.Pending())
		}
	}
}

func (c *Consumer) process(ctx context.Context, item crawler.QueueItem) {
	rec := item.Record
	st := c.statsFor(item.Source)
	st.Received++
	logger := c.logger.With(zap.String("source", item.Source), zap.String("job_id", rec.ID))

	if c.cfg.Run.FilteringEnabled && c.denylist != nil {
		if kw, blocked := c.denylist.Match(rec.Title); blocked {
			st.Filtered++
			logger.Debug("title denied", zap.String("title", rec.Title), zap.String("keyword", kw))
			return
		}
	}

	exists, err := c.store.Exists(ctx, rec.ID)
	if err != nil {
		st.Errors++
		logger.Error("existence check failed", zap.Error(err))
		return
	}
	if exists {
		st.Duplicates++
		return
	}

	if rec.Description == "" && rec.DescriptionHandle != nil && c.describer != nil {
		desc, err := c.describer.FetchDescription(ctx, *rec.DescriptionHandle)
		telemetry.ObserveEnrichment(err == nil)
		if err != nil {
			st.Undescribed++
			logger.Warn("description fetch failed, saving without it", zap.Error(err))
		} else {
			rec.Description = desc
		}
	}

	job := crawler.StoredJob{
		JobRecord:    rec,
		Relevance:    c.cfg.Run.InitialRelevance(),
		DiscoveredAt: c.clock.Now(),
	}
	if job.SourceTag == "" {
		job.SourceTag = item.Source
	}
	if err := c.store.Insert(ctx, job); err != nil {
		if errors.Is(err, crawler.ErrDuplicate) {
			st.Duplicates++
			return
		}
		st.Errors++
		logger.Error("persist failed, dropping record", zap.Error(err))
		return
	}
	st.Saved++
	c.reporter.JobSaved(item.Source, rec.ID)
	logger.Debug("job saved")
	c.publish(ctx, item.Source, job, logger)
}

func (c *Consumer) publish(ctx context.Context, source string, job crawler.StoredJob, logger *zap.Logger) {
	if c.publisher == nil {
		return
	}
	evt := DiscoveredEvent{
		ID:           job.ID,
		Company:      job.Company,
		Title:        job.Title,
		Location:     job.Location,
		URL:          job.URL,
		Source:       source,
		Relevance:    job.Relevance.String(),
		DiscoveredAt: job.DiscoveredAt,
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, evt); err != nil {
		logger.Warn("publish job.discovered failed", zap.Error(err))
	}
}

func (c *Consumer) statsFor(source string) *Stats {
	st, ok := c.stats[source]
	if !ok {
		st = &Stats{}
		c.stats[source] = st
	}
	return st
}

func (c *Consumer) snapshot() map[string]Stats {
	out := make(map[string]Stats, len(c.stats))
	for source, st := range c.stats {
		out[source] = *st
	}
	return out
}
