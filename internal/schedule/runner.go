// Package schedule guards pipeline runs so only one executes at a time and
// triggers them on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/orchestrator"
	"github.com/JakeFAU/jobharvest/internal/postscan"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Report describes one full pipeline run.
type Report struct {
	Trigger    string               `json:"trigger"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Scan       orchestrator.Summary `json:"scan"`
	PostScan   postscan.Result      `json:"postscan"`
	Error      string               `json:"error,omitempty"`
}

// RunFunc executes one pipeline run.
type RunFunc func(ctx context.Context) (Report, error)

// Runner allows a single run at a time and remembers the latest report.
type Runner struct {
	run    RunFunc
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	last    *Report
	wg      sync.WaitGroup
}

// NewRunner wraps run with the single-run guard.
func NewRunner(run RunFunc, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{run: run, logger: logger.Named("runner")}
}

// Run executes a run synchronously or returns ErrBusy.
func (r *Runner) Run(ctx context.Context, trigger string) (Report, error) {
	if !r.acquire() {
		return Report{}, ErrBusy
	}
	return r.execute(ctx, trigger)
}

// Trigger starts a run in the background or returns ErrBusy.
func (r *Runner) Trigger(ctx context.Context, trigger string) error {
	if !r.acquire() {
		return ErrBusy
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(ctx, trigger)
	}()
	return nil
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Latest returns the most recent finished report.
func (r *Runner) Latest() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Wait blocks until background runs started by Trigger have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) execute(ctx context.Context, trigger string) (Report, error) {
	started := time.Now().UTC()
	r.logger.Info("run triggered", zap.String("trigger", trigger))
	report, err := r.run(ctx)
	report.Trigger = trigger
	if report.StartedAt.IsZero() {
		report.StartedAt = started
	}
	if report.FinishedAt.IsZero() {
		report.FinishedAt = time.Now().UTC()
	}
	if err != nil {
		report.Error = err.Error()
		r.logger.Error("run failed", zap.String("trigger", trigger), zap.Error(err))
	}

	r.mu.Lock()
	r.last = &report
	r.running = false
	r.mu.Unlock()
	return report, err
}
