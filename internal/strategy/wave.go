package strategy

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
	"github.com/JakeFAU/jobharvest/internal/wave"
)

// Wave pages batched targets through a wave.Scheduler.
type Wave struct {
	Targets   []crawler.Target
	Adapter   crawler.BatchedAdapter
	Scheduler *wave.Scheduler
}

// Name implements Strategy.
func (w *Wave) Name() string { return wave.StrategyName }

// Run implements Strategy.
func (w *Wave) Run(ctx context.Context, emit crawler.Emitter) []Outcome {
	sched := w.Scheduler
	if sched == nil {
		sched = &wave.Scheduler{}
	}
	ctx, span := telemetry.Tracer().Start(ctx, "strategy.wave",
		trace.WithAttributes(attribute.Int("targets", len(w.Targets))))
	defer span.End()

	res := sched.Run(ctx, w.Adapter, w.Targets, emit)
	span.SetAttributes(attribute.Int("waves", res.Waves))

	outcomes := make([]Outcome, 0, len(res.Targets))
	for name, tr := range res.Targets {
		outcomes = append(outcomes, Outcome{
			Target:  name,
			Scanned: tr.Scanned,
			Emitted: tr.Emitted,
			Reason:  string(tr.Reason),
			Err:     tr.Err,
		})
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Target < outcomes[j].Target })
	return outcomes
}
