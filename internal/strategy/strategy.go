// Package strategy implements the scan strategies the orchestrator runs
// concurrently: sequential one-shot fetching, wave paging for batched
// sources and rate-limited aggregator searches.
package strategy

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/progress"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

// Strategy scans its targets and hands every record to the emitter.
type Strategy interface {
	Name() string
	Run(ctx context.Context, emit crawler.Emitter) []Outcome
}

// Outcome reasons reported by the sequential strategies.
const (
	ReasonDone    = "done"
	ReasonError   = "error"
	ReasonStopped = "stopped"
)

// Outcome is one target's result.
type Outcome struct {
	Target  string
	Scanned int
	Emitted int
	Reason  string
	Err     error
}

// Failed reports whether the target ended on an error.
func (o Outcome) Failed() bool {
	return o.Reason == ReasonError
}

// sequential fetches targets one at a time. before runs ahead of every
// target and may abort it by returning an error.
type sequential struct {
	name     string
	targets  []crawler.Target
	adapter  crawler.OneShotAdapter
	logger   *zap.Logger
	reporter *progress.Reporter
	before   func(ctx context.Context, i int, target crawler.Target) error
}

func (s sequential) run(ctx context.Context, emit crawler.Emitter) []Outcome {
	inflight := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, 0, len(s.targets))
	for i, target := range s.targets {
		if ctx.Err() == nil && s.before != nil {
			if err := s.before(ctx, i, target); err != nil && ctx.Err() == nil {
				s.logger.Warn("target skipped", zap.String("target", target.Name), zap.Error(err))
				s.reporter.TargetError(s.name, target.Name, 0, err)
				outcomes = append(outcomes, Outcome{Target: target.Name, Reason: ReasonError, Err: err})
				continue
			}
		}
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{Target: target.Name, Reason: ReasonStopped})
			s.reporter.TargetDone(s.name, target.Name, 0, ReasonStopped)
			continue
		}
		outcomes = append(outcomes, s.one(inflight, target, emit))
	}
	s.logger.Info("strategy complete", zap.Int("targets", len(s.targets)))
	return outcomes
}

func (s sequential) one(ctx context.Context, target crawler.Target, emit crawler.Emitter) Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "strategy."+s.name+".target",
		trace.WithAttributes(
			attribute.String("target", target.Name),
			attribute.String("kind", string(target.Kind)),
		))
	defer span.End()

	out := Outcome{Target: target.Name, Reason: ReasonDone}
	start := time.Now()
	records, err := s.adapter.FetchAll(ctx, target)
	out.Scanned = len(records)
	s.reporter.Page(s.name, target.Name, 0, len(records), time.Since(start))

	for _, rec := range records {
		if emitErr := emit.Emit(ctx, target.Name, rec); emitErr != nil {
			err = emitErr
			break
		}
		out.Emitted++
	}
	span.SetAttributes(attribute.Int("records", out.Emitted))

	if err != nil {
		s.logger.Warn("target failed",
			zap.String("target", target.Name),
			zap.String("kind", string(target.Kind)),
			zap.Int("emitted", out.Emitted),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.reporter.TargetError(s.name, target.Name, 0, err)
		out.Reason = ReasonError
		out.Err = err
		return out
	}
	s.logger.Debug("target done", zap.String("target", target.Name), zap.Int("records", out.Emitted))
	s.reporter.TargetDone(s.name, target.Name, out.Emitted, ReasonDone)
	return out
}
