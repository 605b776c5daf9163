// Package builtin registers every bundled vendor adapter.
package builtin

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/session"
	"github.com/JakeFAU/jobharvest/internal/source"
	"github.com/JakeFAU/jobharvest/internal/source/adzuna"
	"github.com/JakeFAU/jobharvest/internal/source/comeet"
	"github.com/JakeFAU/jobharvest/internal/source/generic"
	"github.com/JakeFAU/jobharvest/internal/source/greenhouse"
	"github.com/JakeFAU/jobharvest/internal/source/lever"
	"github.com/JakeFAU/jobharvest/internal/source/smartrecruiters"
	"github.com/JakeFAU/jobharvest/internal/source/workday"
)

// Options carries the shared dependencies of the bundled adapters.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// PageSize is passed to batched adapters so vendor pages line up with
	// the wave scheduler's offsets.
	PageSize int
	// PageFetcher loads HTML for the generic adapter.
	PageFetcher  crawler.Fetcher
	Sessions     *session.Cache
	AdzunaAppID  string
	AdzunaAppKey string
	Logger       *zap.Logger
}

// NewRegistry returns a registry with every bundled adapter.
func NewRegistry(opts Options) (*source.Registry, error) {
	if opts.PageFetcher == nil {
		return nil, errors.New("page fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.New(logger)
	}

	sr := smartrecruiters.New(opts.HTTPClient, opts.UserAgent, opts.PageSize)
	wd := workday.New(opts.HTTPClient, opts.UserAgent, opts.PageSize)
	entries := map[crawler.SourceKind]source.Entry{
		crawler.KindGreenhouse:      {OneShot: greenhouse.New(opts.HTTPClient, opts.UserAgent)},
		crawler.KindLever:           {OneShot: lever.New(opts.HTTPClient, opts.UserAgent)},
		crawler.KindSmartRecruiters: {Batched: sr, Describer: sr},
		crawler.KindWorkday:         {Batched: wd, Describer: wd},
		crawler.KindComeet:          {OneShot: comeet.New(opts.HTTPClient, opts.UserAgent, sessions, logger)},
		crawler.KindAdzuna: {
			OneShot:    adzuna.New(opts.HTTPClient, opts.UserAgent, opts.AdzunaAppID, opts.AdzunaAppKey, logger),
			Aggregator: true,
		},
		crawler.KindGeneric: {OneShot: generic.New(opts.PageFetcher)},
	}

	registry := source.NewRegistry()
	for kind, entry := range entries {
		if err := registry.Register(kind, entry); err != nil {
			return nil, fmt.Errorf("register builtin adapters: %w", err)
		}
	}
	return registry, nil
}
