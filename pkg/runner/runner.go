// Package runner executes one site end to end: load the definition, crawl,
// deduplicate, export and report an exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/alert"
	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/crawler"
	"github.com/Sriram-PR/web-to-sheets/pkg/export"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	applog "github.com/Sriram-PR/web-to-sheets/pkg/log"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/process"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// Options configures a single site run. Zero values fall back to the defaults
// of the packages involved.
type Options struct {
	Site      string
	ConfigDir string
	Demo      bool
	// WorkDir resolves relative demo fixtures; defaults to the process cwd.
	WorkDir string

	StoreKind storage.Kind
	StateDir  string
	// Store, when set, is used instead of opening one and is left open.
	Store storage.DedupeStore

	// LogDir enables a per-run log file; empty logs to Logger only.
	LogDir string
	Logger *logrus.Logger

	Metrics      *metrics.Metrics
	HostPool     *fetch.HostSemaphorePool
	Notifier     *alert.Notifier
	Sheets       export.SheetsEnv
	FetchOptions []fetch.FetcherOption
	// NoSummary skips writing <csv_dir>/<site>.run.yaml.
	NoSummary bool
}

// Run executes one site and never panics on site errors: every failure is
// mapped into the returned result's status and exit code.
func Run(ctx context.Context, opts Options) models.RunResult {
	start := time.Now()
	result := models.RunResult{
		Site:      opts.Site,
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	base := opts.Logger
	if base == nil {
		base = applog.Discard().Logger
	}
	runLog, err := applog.NewRunLogger(base, opts.LogDir, opts.Site, start)
	if err != nil {
		base.WithField("site", opts.Site).Warnf("Run log unavailable, using console only: %v", err)
		runLog = &applog.RunLog{Entry: base.WithField("site", opts.Site)}
	}
	defer runLog.Close()
	log := runLog.Entry.WithField("run_id", result.RunID)

	r := &siteRun{opts: opts, log: log, result: &result}
	status, runErr := r.execute(ctx)

	result.Status = status
	result.ExitCode = status.ExitCode()
	result.Duration = time.Since(start)
	if runErr != nil {
		result.Error = runErr.Error()
	}

	opts.Metrics.RunFinished(opts.Site, status.String(), result.Duration.Seconds())
	if r.site != nil && !opts.NoSummary {
		if err := export.WriteSummary(r.site, result, r.sinks, log); err != nil {
			log.Warnf("Failed to write run summary: %v", err)
		}
	}

	fields := logrus.Fields{
		"status":    status.String(),
		"exit_code": int(result.ExitCode),
		"kept":      result.RecordsKept,
		"duration":  result.Duration.Round(time.Millisecond),
	}
	if result.ExitCode == models.ExitOK {
		log.WithFields(fields).Info("Run finished")
	} else {
		log.WithFields(fields).WithField("category", utils.CategorizeError(runErr)).Errorf("Run failed: %v", runErr)
		if err := opts.Notifier.Notify(ctx, alert.Alert{
			Site:     opts.Site,
			RunID:    result.RunID,
			ExitCode: result.ExitCode,
			Error:    result.Error,
		}); err != nil {
			log.Warnf("Failed to send failure alert: %v", err)
		}
	}
	return result
}

// siteRun carries the state one run accumulates for its summary.
type siteRun struct {
	opts   Options
	log    *logrus.Entry
	result *models.RunResult
	site   *config.SiteConfig
	sinks  []string
}

func (r *siteRun) execute(ctx context.Context) (models.RunStatus, error) {
	opts, log, result := r.opts, r.log, r.result
	configDir := opts.ConfigDir
	if configDir == "" {
		configDir = config.DefaultSitesDir
	}

	site, err := config.LoadSite(configDir, opts.Site)
	if err != nil {
		return models.RunStatusConfigError, err
	}
	warnings, err := site.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return models.RunStatusConfigError, err
	}

	if opts.Demo {
		workDir := opts.WorkDir
		if workDir == "" {
			if workDir, err = os.Getwd(); err != nil {
				return models.RunStatusConfigError, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
			}
		}
		if site, err = config.ApplyDemo(site, workDir); err != nil {
			return models.RunStatusConfigError, err
		}
		log.WithField("fixture", site.URLs[0]).Info("Demo mode: replaying local fixture")
	}
	r.site = site

	session, err := crawler.NewSiteSession(site, log, crawler.SessionOptions{
		Metrics:      opts.Metrics,
		HostPool:     opts.HostPool,
		FetchOptions: opts.FetchOptions,
	})
	if err != nil {
		return models.RunStatusConfigError, err
	}

	store, closeStore, err := openStore(ctx, opts, log)
	if err != nil {
		return models.RunStatusSiteError, err
	}
	defer closeStore()

	records, stats, err := session.Run(ctx)
	result.Seeds = stats.Seeds
	result.SeedFailures = len(stats.Failures)
	result.SeedsDenied = stats.SeedsDenied
	result.PagesFetched = stats.PagesFetched
	result.RecordsExtracted = stats.RecordsExtracted
	if err != nil {
		return models.RunStatusSiteError, err
	}
	// Seeds denied by policy are skipped, not failed, so they never trip this.
	if attempted := stats.Seeds - stats.SeedsDenied; attempted > 0 && len(stats.Failures) == attempted {
		return models.RunStatusSiteError, fmt.Errorf("all %d seeds failed: %w", attempted, stats.Failures[0].Err)
	}

	processor := process.NewDataProcessor(site.Name, site.DedupeKeys, site.MinRows, store, log)
	kept, err := processor.Filter(ctx, records)
	if err != nil {
		if errors.Is(err, utils.ErrInsufficientData) {
			return models.RunStatusInsufficientData, err
		}
		return models.RunStatusSiteError, err
	}

	sink, err := export.ForSite(ctx, site, opts.Sheets, log)
	if err != nil {
		return models.RunStatusSiteError, err
	}
	r.sinks = sink.Names()
	if err := sink.Write(ctx, kept); err != nil {
		return models.RunStatusSiteError, err
	}

	if err := processor.Commit(ctx, kept); err != nil {
		return models.RunStatusSiteError, err
	}
	result.RecordsKept = len(kept)
	opts.Metrics.Kept(site.Name, len(kept))
	return models.RunStatusSuccess, nil
}

// openStore returns the dedupe store for this run and its cleanup. Demo runs
// always use a throwaway in-memory store so replays never touch real state.
func openStore(ctx context.Context, opts Options, log *logrus.Entry) (storage.DedupeStore, func(), error) {
	if opts.Demo {
		return storage.NewMemoryStore(), func() {}, nil
	}
	if opts.Store != nil {
		return opts.Store, func() {}, nil
	}
	store, err := storage.Open(ctx, opts.StoreKind, opts.StateDir, log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warnf("Failed to close dedupe store: %v", err)
		}
	}, nil
}
