package strategy

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/jobharvest/internal/progress"
)

// Default inter-target delay range for aggregators.
const (
	DefaultMinDelay = 10 * time.Second
	DefaultMaxDelay = 20 * time.Second
)

// Aggregator fetches third-party job boards sequentially, sleeping a random
// delay in [MinDelay, MaxDelay] between targets and taking a token from the
// per-provider limiter before each fetch.
type Aggregator struct {
	Targets  []crawler.Target
	Adapter  crawler.OneShotAdapter
	Limiter  *ratelimit.Limiter
	MinDelay time.Duration
	MaxDelay time.Duration

	Logger   *zap.Logger
	Reporter *progress.Reporter
	// Pause sleeps between targets; defaults to crawler.Pause.
	Pause func(ctx context.Context, d time.Duration)
	// Jitter picks a delay in [min, max]; defaults to a uniform draw.
	Jitter func(min, max time.Duration) time.Duration
}

// Name implements Strategy.
func (a *Aggregator) Name() string { return "aggregator" }

// Run implements Strategy.
func (a *Aggregator) Run(ctx context.Context, emit crawler.Emitter) []Outcome {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(a.Name())
	pause := a.Pause
	if pause == nil {
		pause = crawler.Pause
	}
	jitter := a.Jitter
	if jitter == nil {
		jitter = uniform
	}

	return sequential{
		name:     a.Name(),
		targets:  a.Targets,
		adapter:  a.Adapter,
		logger:   logger,
		reporter: a.Reporter,
		before: func(ctx context.Context, i int, target crawler.Target) error {
			if i > 0 {
				d := jitter(a.MinDelay, a.MaxDelay)
				logger.Debug("aggregator delay", zap.String("target", target.Name), zap.Duration("delay", d))
				pause(ctx, d)
			}
			if a.Limiter == nil {
				return nil
			}
			return a.Limiter.Wait(ctx, string(target.Kind))
		},
	}.run(ctx, emit)
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
