// Package orchestrator runs one crawl: it classifies targets, starts the
// scan strategies as producers, feeds their records through the bounded
// queue to the single consumer and drains everything before returning.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/clock/system"
	"github.com/JakeFAU/jobharvest/internal/crawler"
	iduuid "github.com/JakeFAU/jobharvest/internal/id/uuid"
	"github.com/JakeFAU/jobharvest/internal/ingest"
	"github.com/JakeFAU/jobharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/jobharvest/internal/progress"
	"github.com/JakeFAU/jobharvest/internal/queue/memory"
	"github.com/JakeFAU/jobharvest/internal/source"
	"github.com/JakeFAU/jobharvest/internal/strategy"
	"github.com/JakeFAU/jobharvest/internal/wave"
)

const defaultQueueDepth = 256

// Deps bundles the collaborators of a run. Denylist, Publisher, Blobs,
// Limiter and Progress are optional.
type Deps struct {
	Registry  *source.Registry
	Store     crawler.JobStore
	Denylist  ingest.Denylist
	Publisher crawler.Publisher
	Blobs     crawler.BlobStore
	Limiter   *ratelimit.Limiter
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Progress  progress.Emitter
	Logger    *zap.Logger
}

// Config holds the per-run settings.
type Config struct {
	Targets    []crawler.Target
	Run        crawler.RunConfig
	QueueDepth int

	PageSize   int
	OffsetCap  int
	Politeness time.Duration

	AggregatorMinDelay time.Duration
	AggregatorMaxDelay time.Duration

	// Topic receives job.discovered events.
	Topic string
	// SummaryPrefix is the blob path prefix for run summaries.
	SummaryPrefix string

	// Pause overrides the inter-wave and inter-target sleeps.
	Pause func(ctx context.Context, d time.Duration)
}

// Orchestrator owns one classified target set and can run it repeatedly.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	plan   source.Plan
	logger *zap.Logger
}

// New validates the configuration and classifies every target. Unknown
// kinds fail here, before any goroutine is started.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if deps.Store == nil {
		return nil, errors.New("job store is required")
	}
	plan, err := deps.Registry.Classify(cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("classify targets: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = iduuid.New()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.SummaryPrefix == "" {
		cfg.SummaryPrefix = "runs"
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		plan:   plan,
		logger: deps.Logger.Named("orchestrator"),
	}, nil
}

// Plan returns the strategy buckets computed by New.
func (o *Orchestrator) Plan() source.Plan {
	return o.plan
}

// Run executes one crawl. Canceling ctx stops the producers at their next
// safe point; the queue is still drained and the summary still returned.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	runID, err := o.deps.IDs.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID.String()))
	reporter := progress.NewReporter(o.deps.Progress, runID)
	started := o.deps.Clock.Now()
	reporter.RunStart(o.plan.Len())
	logger.Info("run starting",
		zap.Int("oneshot", len(o.plan.OneShot)),
		zap.Int("wave", len(o.plan.Wave)),
		zap.Int("aggregator", len(o.plan.Aggregator)))

	queue := memory.NewQueue(o.cfg.QueueDepth)
	drainCtx := context.WithoutCancel(ctx)

	consumer := ingest.New(ingest.Deps{
		Queue:     queue,
		Store:     o.deps.Store,
		Describer: o.deps.Registry.Describer(),
		Denylist:  o.deps.Denylist,
		Publisher: o.deps.Publisher,
		Clock:     o.deps.Clock,
		Reporter:  reporter,
		Logger:    o.deps.Logger,
	}, ingest.Config{Run: o.cfg.Run, Topic: o.cfg.Topic})
	statsCh := make(chan map[string]ingest.Stats, 1)
	go func() {
		statsCh <- consumer.Run(drainCtx)
	}()

	emit := crawler.EmitterFunc(func(ctx context.Context, source string, rec crawler.JobRecord) error {
		return queue.Enqueue(ctx, crawler.QueueItem{Record: rec, Source: source})
	})

	var (
		mu       sync.Mutex
		outcomes []strategy.Outcome
		wg       sync.WaitGroup
	)
	for _, s := range o.strategies(reporter) {
		wg.Add(1)
		go func(s strategy.Strategy) {
			defer wg.Done()
			res := s.Run(ctx, emit)
			mu.Lock()
			outcomes = append(outcomes, res...)
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if err := queue.Enqueue(drainCtx, crawler.SentinelItem()); err != nil {
		return Summary{}, fmt.Errorf("enqueue sentinel: %w", err)
	}
	if err := queue.Wait(drainCtx); err != nil {
		return Summary{}, fmt.Errorf("drain queue: %w", err)
	}
	stats := <-statsCh
	queue.Close()

	finished := o.deps.Clock.Now()
	summary := buildSummary(runID, started, finished, ctx.Err() != nil, o.cfg.Targets, outcomes, stats)
	reporter.RunDone(summary.Totals.Saved, finished.Sub(started))
	logger.Info("run complete",
		zap.Int("saved", summary.Totals.Saved),
		zap.Int("duplicates", summary.Totals.Duplicates),
		zap.Int("filtered", summary.Totals.Filtered),
		zap.Int("failed_targets", summary.Totals.Failed),
		zap.Bool("stopped", summary.Stopped),
		zap.Duration("duration", finished.Sub(started)))

	if uri, err := o.archive(drainCtx, summary); err != nil {
		logger.Warn("archive run summary failed", zap.Error(err))
	} else if uri != "" {
		summary.ArchiveURI = uri
	}
	return summary, nil
}

func (o *Orchestrator) strategies(reporter *progress.Reporter) []strategy.Strategy {
	var out []strategy.Strategy
	if len(o.plan.OneShot) > 0 {
		out = append(out, &strategy.OneShot{
			Targets:  o.plan.OneShot,
			Adapter:  o.deps.Registry.OneShot(),
			Logger:   o.deps.Logger,
			Reporter: reporter,
		})
	}
	if len(o.plan.Wave) > 0 {
		out = append(out, &strategy.Wave{
			Targets: o.plan.Wave,
			Adapter: o.deps.Registry.Batched(),
			Scheduler: &wave.Scheduler{
				PageSize:   o.cfg.PageSize,
				OffsetCap:  o.cfg.OffsetCap,
				Politeness: o.cfg.Politeness,
				Logger:     o.deps.Logger,
				Reporter:   reporter,
				Pause:      o.cfg.Pause,
			},
		})
	}
	if len(o.plan.Aggregator) > 0 {
		out = append(out, &strategy.Aggregator{
			Targets:  o.plan.Aggregator,
			Adapter:  o.deps.Registry.OneShot(),
			Limiter:  o.deps.Limiter,
			MinDelay: o.cfg.AggregatorMinDelay,
			MaxDelay: o.cfg.AggregatorMaxDelay,
			Logger:   o.deps.Logger,
			Reporter: reporter,
			Pause:    o.cfg.Pause,
		})
	}
	return out
}

func (o *Orchestrator) archive(ctx context.Context, summary Summary) (string, error) {
	if o.deps.Blobs == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	name := path.Join(strings.Trim(o.cfg.SummaryPrefix, "/"), summary.RunID+".json")
	uri, err := o.deps.Blobs.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

// TargetSummary is one target's line in the run summary.
type TargetSummary struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Scanned    int    `json:"scanned"`
	Kept       int    `json:"kept"`
	Saved      int    `json:"saved"`
	Duplicates int    `json:"duplicates"`
	Filtered   int    `json:"filtered"`
	Errors     int    `json:"errors"`
	Failed     bool   `json:"failed"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Totals aggregates every target.
type Totals struct {
	Scanned    int `json:"scanned"`
	Kept       int `json:"kept"`
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Filtered   int `json:"filtered"`
	Errors     int `json:"errors"`
	Failed     int `json:"failed_targets"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stopped    bool            `json:"stopped"`
	Targets    []TargetSummary `json:"targets"`
	Totals     Totals          `json:"totals"`
	ArchiveURI string          `json:"archive_uri,omitempty"`
}

// Target returns the summary line for name.
func (s Summary) Target(name string) (TargetSummary, bool) {
	for _, t := range s.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetSummary{}, false
}

func buildSummary(
	runID uuid.UUID,
	started, finished time.Time,
	stopped bool,
	targets []crawler.Target,
	outcomes []strategy.Outcome,
	stats map[string]ingest.Stats,
) Summary {
	byName := make(map[string]strategy.Outcome, len(outcomes))
	for _, out := range outcomes {
		byName[out.Target] = out
	}
	summary := Summary{
		RunID:      runID.String(),
		StartedAt:  started,
		FinishedAt: finished,
		Stopped:    stopped,
		Targets:    make([]TargetSummary, 0, len(targets)),
	}
	for _, t := range targets {
		out := byName[t.Name]
		st := stats[t.Name]
		line := TargetSummary{
			Name:       t.Name,
			Kind:       string(t.Kind),
			Scanned:    out.Scanned,
			Kept:       st.Kept(),
			Saved:      st.Saved,
			Duplicates: st.Duplicates,
			Filtered:   st.Filtered,
			Errors:     st.Errors,
			Failed:     out.Failed(),
			Reason:     out.Reason,
		}
		if out.Err != nil {
			line.Error = out.Err.Error()
		}
		summary.Targets = append(summary.Targets, line)

		summary.Totals.Scanned += line.Scanned
		summary.Totals.Kept += line.Kept
		summary.Totals.Saved += line.Saved
		summary.Totals.Duplicates += line.Duplicates
		summary.Totals.Filtered += line.Filtered
		summary.Totals.Errors += line.Errors
		if line.Failed {
			summary.Totals.Failed++
		}
	}
	sort.SliceStable(summary.Targets, func(i, j int) bool { return summary.Targets[i].Name < summary.Targets[j].Name })
	return summary
}
