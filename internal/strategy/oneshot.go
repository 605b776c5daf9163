package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/progress"
)

// OneShot fetches each target's full listing in turn. A failed target is
// logged and skipped; there are no retries.
type OneShot struct {
	Targets  []crawler.Target
	Adapter  crawler.OneShotAdapter
	Logger   *zap.Logger
	Reporter *progress.Reporter
}

// Name implements Strategy.
func (o *OneShot) Name() string { return "oneshot" }

// Run implements Strategy.
func (o *OneShot) Run(ctx context.Context, emit crawler.Emitter) []Outcome {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return sequential{
		name:     o.Name(),
		targets:  o.Targets,
		adapter:  o.Adapter,
		logger:   logger.Named(o.Name()),
		reporter: o.Reporter,
	}.run(ctx, emit)
}
