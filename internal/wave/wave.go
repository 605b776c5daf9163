// Package wave pages through batched sources in lock-step waves: every active
// target fetches the page at the same offset before the offset advances, so
// no single vendor sees a burst of consecutive requests.
package wave

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/progress"
)

// Default pagination settings.
const (
	DefaultPageSize   = 20
	DefaultOffsetCap  = 2000
	DefaultPoliteness = 500 * time.Millisecond
)

// Reason explains why a target left the wave.
type Reason string

// Finish reasons.
const (
	ReasonError     Reason = "error"
	ReasonLoop      Reason = "loop"
	ReasonExhausted Reason = "exhausted"
	ReasonShortPage Reason = "short_page"
	ReasonTotal     Reason = "total_reached"
	ReasonOffsetCap Reason = "offset_cap"
	ReasonStopped   Reason = "stopped"
)

// TargetResult summarizes one target's pass through the scheduler.
type TargetResult struct {
	Pages   int
	Scanned int
	Emitted int
	Reason  Reason
	Err     error
}

// Failed reports whether the target ended on an error.
func (r TargetResult) Failed() bool {
	return r.Reason == ReasonError
}

// Result is returned by Run.
type Result struct {
	Waves   int
	Targets map[string]TargetResult
}

// Scheduler runs waves over a set of targets sharing one adapter.
type Scheduler struct {
	PageSize   int
	OffsetCap  int
	Politeness time.Duration

	Logger   *zap.Logger
	Reporter *progress.Reporter
	// Pause sleeps between waves; defaults to crawler.Pause.
	Pause func(ctx context.Context, d time.Duration)
}

// targetState is the per-run wave state of one target.
type targetState struct {
	target     crawler.Target
	lastIDs    []string
	knownTotal int
	result     TargetResult
	finished   bool
}

func (s *Scheduler) withDefaults() Scheduler {
	cfg := *s
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.OffsetCap <= 0 {
		cfg.OffsetCap = DefaultOffsetCap
	}
	if cfg.Politeness < 0 {
		cfg.Politeness = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Pause == nil {
		cfg.Pause = crawler.Pause
	}
	return cfg
}

// Run pages every target until it finishes, the offset reaches OffsetCap, or
// ctx is canceled. Cancellation is honored between targets and between
// waves; a fetch already in flight completes and its records are emitted.
func (s *Scheduler) Run(
	ctx context.Context,
	adapter crawler.BatchedAdapter,
	targets []crawler.Target,
	emit crawler.Emitter,
) Result {
	cfg := s.withDefaults()
	logger := cfg.Logger.Named("wave")
	inflight := context.WithoutCancel(ctx)

	states := make([]*targetState, 0, len(targets))
	for _, t := range targets {
		states = append(states, &targetState{target: t, knownTotal: crawler.TotalUnknown})
	}
	active := slices.Clone(states)
	res := Result{Targets: make(map[string]TargetResult, len(states))}

	offset := 0
	for len(active) > 0 && offset < cfg.OffsetCap {
		if ctx.Err() != nil {
			break
		}
		res.Waves++
		processed := 0
		next := make([]*targetState, 0, len(active))
		for i, st := range active {
			if ctx.Err() != nil {
				next = append(next, active[i:]...)
				break
			}
			processed++
			cfg.step(inflight, logger, adapter, st, offset, emit)
			if !st.finished {
				next = append(next, st)
			}
		}
		active = next
		if len(active) == 0 || ctx.Err() != nil {
			break
		}
		offset += cfg.PageSize
		if offset >= cfg.OffsetCap {
			break
		}
		cfg.Pause(ctx, cfg.Politeness*time.Duration(processed))
	}

	leftover := ReasonOffsetCap
	if ctx.Err() != nil {
		leftover = ReasonStopped
	}
	for _, st := range active {
		cfg.finish(logger, st, leftover, nil)
	}
	for _, st := range states {
		res.Targets[st.target.Name] = st.result
	}
	logger.Info("wave run complete", zap.Int("targets", len(states)), zap.Int("waves", res.Waves))
	return res
}

func (s Scheduler) step(
	ctx context.Context,
	logger *zap.Logger,
	adapter crawler.BatchedAdapter,
	st *targetState,
	offset int,
	emit crawler.Emitter,
) {
	name := st.target.Name
	start := time.Now()
	page, err := adapter.FetchPage(ctx, st.target, offset)
	if err != nil {
		logger.Warn("page fetch failed",
			zap.String("target", name),
			zap.String("kind", string(st.target.Kind)),
			zap.Int("offset", offset),
			zap.Error(err))
		s.Reporter.TargetError(StrategyName, name, offset, err)
		s.finish(logger, st, ReasonError, err)
		return
	}
	st.result.Pages++
	st.result.Scanned += page.ScannedCount()
	s.Reporter.Page(StrategyName, name, offset, len(page.Records), time.Since(start))

	ids := make([]string, len(page.Records))
	for i, rec := range page.Records {
		ids[i] = rec.ID
	}
	if len(ids) > 0 && slices.Equal(ids, st.lastIDs) {
		logger.Info("page repeats previous ids, stopping target",
			zap.String("target", name), zap.Int("offset", offset))
		s.finish(logger, st, ReasonLoop, nil)
		return
	}
	st.lastIDs = ids

	for _, rec := range page.Records {
		if err := emit.Emit(ctx, name, rec); err != nil {
			logger.Warn("emit failed", zap.String("target", name), zap.String("job_id", rec.ID), zap.Error(err))
			s.finish(logger, st, ReasonError, err)
			return
		}
		st.result.Emitted++
	}

	if page.KnownTotal > 0 {
		st.knownTotal = page.KnownTotal
	}
	switch {
	case !page.HasMore:
		s.finish(logger, st, ReasonExhausted, nil)
	case page.ScannedCount() < s.PageSize:
		s.finish(logger, st, ReasonShortPage, nil)
	case st.knownTotal > 0 && offset+s.PageSize >= st.knownTotal:
		s.finish(logger, st, ReasonTotal, nil)
	}
}

func (s Scheduler) finish(logger *zap.Logger, st *targetState, reason Reason, err error) {
	if st.finished {
		return
	}
	st.finished = true
	st.result.Reason = reason
	st.result.Err = err
	logger.Debug("target finished",
		zap.String("target", st.target.Name),
		zap.String("reason", string(reason)),
		zap.Int("pages", st.result.Pages),
		zap.Int("emitted", st.result.Emitted))
	if reason != ReasonError {
		s.Reporter.TargetDone(StrategyName, st.target.Name, st.result.Emitted, string(reason))
	}
}

// StrategyName labels progress events produced by the scheduler.
const StrategyName = "wave"
