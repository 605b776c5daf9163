package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobharvest/internal/progress"
)

// PrometheusSink exports run progress as Prometheus metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	pages         *prometheus.CounterVec
	pageRecords   *prometheus.CounterVec
	pageDuration  *prometheus.HistogramVec
	targetsDone   *prometheus.CounterVec
	targetsFailed *prometheus.CounterVec
	jobsSaved     *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobharvest_runs_started_total",
			Help: "Scan runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobharvest_runs_completed_total",
			Help: "Scan runs completed.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobharvest_runs_running",
			Help: "Scan runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobharvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobharvest_pages_total",
			Help: "Listing pages fetched per strategy and target.",
		}, []string{"strategy", "target"}),
		pageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobharvest_page_records_total",
			Help: "Postings returned by listing pages.",
		}, []string{"strategy", "target"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobharvest_page_fetch_seconds",
			Help:    "Listing page fetch latency per strategy.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"strategy"}),
		targetsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobharvest_targets_done_total",
			Help: "Targets finished partitioned by finish reason.",
		}, []string{"strategy", "reason"}),
		targetsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobharvest_target_errors_total",
			Help: "Targets finished by a fetch error.",
		}, []string{"strategy", "target"}),
		jobsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobharvest_jobs_saved_total",
			Help: "New postings persisted per target.",
		}, []string{"target"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.pageRecords,
		s.pageDuration,
		s.targetsDone,
		s.targetsFailed,
		s.jobsSaved,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsRunning.Inc()
		case progress.StageRunDone:
			s.runsCompleted.Inc()
			s.runsRunning.Dec()
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageTargetPage:
			s.pages.WithLabelValues(evt.Strategy, evt.Target).Inc()
			s.pageRecords.WithLabelValues(evt.Strategy, evt.Target).Add(float64(evt.Records))
			if evt.Dur > 0 {
				s.pageDuration.WithLabelValues(evt.Strategy).Observe(evt.Dur.Seconds())
			}
		case progress.StageTargetDone:
			reason := evt.Note
			if reason == "" {
				reason = "unknown"
			}
			s.targetsDone.WithLabelValues(evt.Strategy, reason).Inc()
		case progress.StageTargetError:
			s.targetsFailed.WithLabelValues(evt.Strategy, evt.Target).Inc()
		case progress.StageJobSaved:
			s.jobsSaved.WithLabelValues(evt.Target).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
