// Package pipeline runs one scrape, compare, notify and persist cycle over
// every configured source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/junnnnnw00/shinbo-notification/internal/logging"
	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/notifications"
	"github.com/junnnnnw00/shinbo-notification/internal/posting"
	"github.com/junnnnnw00/shinbo-notification/internal/source"
	"github.com/junnnnnw00/shinbo-notification/internal/store"
)

// Source outcomes, also used as the metrics label.
const (
	OutcomeOK           = "ok"
	OutcomeUntrusted    = "untrusted"
	OutcomeInvalid      = "invalid"
	OutcomeStoreError   = "store_error"
	OutcomePersistError = "persist_error"
	OutcomePanic        = "panic"
)

// Summary aggregates one run. Skipped counts sources whose state was left
// untouched; Delivered and Failed count device deliveries.
type Summary struct {
	Sources     int
	Skipped     int
	NewPostings int
	Delivered   int
	Failed      int
	Stale       int
}

// BuildFunc turns a source configuration into a scrapeable source.
type BuildFunc func(cfg source.Config, opts source.Options) (source.Source, error)

type Options struct {
	Gateway       *store.Gateway
	Dispatcher    *notifications.Dispatcher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	SourceOptions source.Options
	// Build defaults to source.New.
	Build BuildFunc
}

type Runner struct {
	configs    []source.Config
	gateway    *store.Gateway
	dispatcher *notifications.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sourceOpts source.Options
	build      BuildFunc
}

func New(configs []source.Config, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	build := opts.Build
	if build == nil {
		build = source.New
	}
	sourceOpts := opts.SourceOptions
	if sourceOpts.Logger == nil {
		sourceOpts.Logger = logger
	}
	if sourceOpts.Metrics == nil {
		sourceOpts.Metrics = opts.Metrics
	}

	return &Runner{
		configs:    configs,
		gateway:    opts.Gateway,
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
		logger:     logger,
		sourceOpts: sourceOpts,
		build:      build,
	}
}

type sourceResult struct {
	outcome   string
	current   int
	added     int
	delivered notifications.Report
}

// Run visits the sources one at a time. A failing source is logged and
// skipped; Run itself never fails.
func (r *Runner) Run(ctx context.Context) Summary {
	start := time.Now()
	var summary Summary

	for _, cfg := range r.configs {
		summary.Sources++
		logger := logging.WithSource(r.logger, cfg.ID)

		result := r.runSafely(ctx, cfg, logger)
		r.metrics.RecordSourceOutcome(cfg.ID, result.outcome)

		switch result.outcome {
		case OutcomeOK, OutcomePersistError:
		default:
			summary.Skipped++
		}
		summary.NewPostings += result.added
		summary.Delivered += result.delivered.Succeeded
		summary.Failed += result.delivered.Failed
		summary.Stale += result.delivered.Stale
	}

	r.logger.Info("run finished",
		"sources", summary.Sources,
		"skipped", summary.Skipped,
		"new_postings", summary.NewPostings,
		"delivered", summary.Delivered,
		"failed", summary.Failed,
		"stale", summary.Stale,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return summary
}

func (r *Runner) runSafely(ctx context.Context, cfg source.Config, logger *slog.Logger) (result sourceResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("source panicked", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			result = sourceResult{outcome: OutcomePanic, added: result.added, delivered: result.delivered}
		}
	}()
	return r.runSource(ctx, cfg, logger, &result)
}

// progress is updated as deliveries happen so a panic still reports them.
func (r *Runner) runSource(ctx context.Context, cfg source.Config, logger *slog.Logger, progress *sourceResult) sourceResult {
	src, err := r.build(cfg, r.sourceOpts)
	if err != nil {
		logger.Error("invalid source configuration", "kind", cfg.Kind, "err", err)
		return sourceResult{outcome: OutcomeInvalid}
	}

	current, err := src.Scrape(ctx)
	if err != nil {
		if errors.Is(err, source.ErrUntrusted) {
			logger.Warn("no trustworthy result, state left unchanged", "err", err)
		} else {
			logger.Error("scrape failed, state left unchanged", "err", err)
		}
		return sourceResult{outcome: OutcomeUntrusted}
	}

	previous, found, err := r.gateway.Postings(ctx, cfg.ID)
	if err != nil {
		logger.Error("could not read previous state", "err", err)
		return sourceResult{outcome: OutcomeStoreError}
	}

	added := posting.Diff(current, previous)
	logger.Info("scraped",
		"current", len(current),
		"previous", len(previous),
		"new", len(added),
		"first_run", !found,
	)

	if len(added) > 0 {
		tokens, err := r.gateway.Tokens(ctx)
		if err != nil {
			// Persisting now would mark these postings as seen without anyone
			// having been told; leave the baseline so the next run retries.
			logger.Error("could not read destinations", "err", err)
			return sourceResult{outcome: OutcomeStoreError}
		}
		r.metrics.RecordDestinations(len(tokens))
		progress.added = len(added)

		for _, p := range added {
			n := notifications.ForPosting(cfg.ID, src.Name(), p.ID, p.Title, p.Link)
			report := r.dispatcher.Deliver(ctx, tokens, n)
			mirrored := r.dispatcher.Mirror(ctx, n)
			progress.delivered = progress.delivered.Add(report)

			logger.Info("posting announced",
				"posting", p.ID,
				"title", p.Title,
				"delivered", report.Succeeded,
				"failed", report.Failed,
				"mirrored", mirrored.Succeeded,
			)
		}
	}

	r.metrics.RecordPostings(cfg.ID, len(current), len(added))

	if err := r.gateway.SavePostings(ctx, cfg.ID, current); err != nil {
		logger.Error("could not persist state", "err", err)
		return sourceResult{outcome: OutcomePersistError, current: len(current), added: len(added), delivered: progress.delivered}
	}

	return sourceResult{outcome: OutcomeOK, current: len(current), added: len(added), delivered: progress.delivered}
}
