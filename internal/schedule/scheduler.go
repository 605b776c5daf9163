package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec runs the pipeline every six hours.
const DefaultSpec = "@every 6h"

// Scheduler fires the runner on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	spec   string
	entry  cron.EntryID
	logger *zap.Logger
}

// New validates spec and builds a stopped Scheduler.
func New(spec string, runner *Runner, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		runner: runner,
		spec:   spec,
		logger: logger,
	}, nil
}

// Start registers the job and starts the cron loop. When runNow is set one
// run is triggered immediately so results are available before the first
// tick.
func (s *Scheduler) Start(ctx context.Context, runNow bool) error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.runner.Trigger(ctx, "schedule"); errors.Is(err, ErrBusy) {
			s.logger.Info("skipping scheduled run, previous run still in progress")
		}
	})
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", s.Next()))
	if runNow {
		if err := s.runner.Trigger(ctx, "startup"); err != nil {
			s.logger.Warn("startup run skipped", zap.Error(err))
		}
	}
	return nil
}

// Next returns the next scheduled fire time, zero when not started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the cron loop and waits for a running run to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
	}
	s.logger.Info("scheduler stopped")
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
