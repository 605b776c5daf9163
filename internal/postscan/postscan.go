// Package postscan runs the steps that follow a crawl: classifying pending
// jobs and mailing a digest of relevant ones.
package postscan

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

// Classifier judges one posting. The verdict is tri-state: a nil error
// with Relevant set or unset maps to relevant or rejected, and any error
// means the verdict is absent, which leaves the job pending for a later
// run.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (crawler.Classification, error)
}

// Notifier delivers a digest.
type Notifier interface {
	Notify(ctx context.Context, jobs []crawler.StoredJob, recipient string) error
}

// Config gates the two passes.
type Config struct {
	Run       crawler.RunConfig
	Recipient string
}

// Result counts what a pass did.
type Result struct {
	Classified     int `json:"classified"`
	Relevant       int `json:"relevant"`
	Rejected       int `json:"rejected"`
	ClassifyErrors int `json:"classify_errors"`
	Notified       int `json:"notified"`
}

// Pipeline runs the post-scan passes against a job store.
type Pipeline struct {
	store      crawler.JobStore
	classifier Classifier
	notifier   Notifier
	cfg        Config
	logger     *zap.Logger
}

// New builds a Pipeline. classifier and notifier may be nil when the
// matching pass is disabled.
func New(store crawler.JobStore, classifier Classifier, notifier Notifier, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if cfg.Run.ClassificationEnabled && classifier == nil {
		return nil, errors.New("classification enabled without a classifier")
	}
	if cfg.Run.NotificationsEnabled && (notifier == nil || cfg.Recipient == "") {
		return nil, errors.New("notifications enabled without a notifier and recipient")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      store,
		classifier: classifier,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.Named("postscan"),
	}, nil
}

// Run executes the classification pass and then the notification pass.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result
	if p.cfg.Run.ClassificationEnabled {
		if err := p.classify(ctx, &res); err != nil {
			return res, err
		}
	}
	if p.cfg.Run.NotificationsEnabled {
		if err := p.notify(ctx, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// classify judges every pending job. A failed call leaves the job pending so
// the next run retries it.
func (p *Pipeline) classify(ctx context.Context, res *Result) error {
	pending, err := p.store.ListByRelevance(ctx, crawler.RelevancePending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	p.logger.Info("classifying pending jobs", zap.Int("jobs", len(pending)))
	for _, job := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := p.logger.With(zap.String("job_id", job.ID))
		verdict, err := p.classifier.Classify(ctx, job.Title, job.Description)
		if err != nil {
			res.ClassifyErrors++
			telemetry.ObservePostScan("classify", "error")
			logger.Warn("classification failed, job stays pending", zap.Error(err))
			continue
		}
		relevance := crawler.RelevanceRejected
		if verdict.Relevant {
			relevance = crawler.RelevanceRelevant
		}
		if err := p.store.UpdateClassification(ctx, job.ID, relevance, verdict); err != nil {
			res.ClassifyErrors++
			telemetry.ObservePostScan("classify", "error")
			logger.Error("store classification failed", zap.Error(err))
			continue
		}
		res.Classified++
		if verdict.Relevant {
			res.Relevant++
			telemetry.ObservePostScan("classify", "relevant")
		} else {
			res.Rejected++
			telemetry.ObservePostScan("classify", "rejected")
		}
		logger.Debug("job classified", zap.Bool("relevant", verdict.Relevant), zap.String("reason", verdict.Reason))
	}
	return nil
}

// notify mails every relevant, un-notified job and marks them sent only
// after delivery succeeds.
func (p *Pipeline) notify(ctx context.Context, res *Result) error {
	jobs, err := p.store.ListUnnotified(ctx)
	if err != nil {
		return fmt.Errorf("list unnotified jobs: %w", err)
	}
	if len(jobs) == 0 {
		p.logger.Debug("nothing to notify")
		return nil
	}
	if err := p.notifier.Notify(ctx, jobs, p.cfg.Recipient); err != nil {
		telemetry.ObservePostScan("notify", "error")
		return fmt.Errorf("notify %d jobs: %w", len(jobs), err)
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if err := p.store.MarkNotified(ctx, ids); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	res.Notified = len(ids)
	telemetry.ObservePostScan("notify", "sent")
	p.logger.Info("notification sent", zap.Int("jobs", len(ids)))
	return nil
}
