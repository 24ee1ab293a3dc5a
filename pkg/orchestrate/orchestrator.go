// Package orchestrate runs several site definitions concurrently with shared
// per-host limits and a shared dedupe store.
package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/runner"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
)

// DefaultParallel is the number of sites run at once when not configured.
const DefaultParallel = 2

// Orchestrator manages parallel runs of multiple sites
type Orchestrator struct {
	base     runner.Options
	parallel int
	hostPool *fetch.HostSemaphorePool
	log      *logrus.Entry
}

// NewOrchestrator creates an orchestrator. base is the template for every site
// run; its Site and Store fields are set per run. A nil base.HostPool gets a
// fresh pool shared by all runs of this orchestrator.
func NewOrchestrator(base runner.Options, parallel int, log *logrus.Entry) *Orchestrator {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	pool := base.HostPool
	if pool == nil {
		pool = fetch.NewHostSemaphorePool(fetch.DefaultMaxPerHost, log)
	}
	base.HostPool = pool
	return &Orchestrator{
		base:     base,
		parallel: parallel,
		hostPool: pool,
		log:      log,
	}
}

// HostPool returns the per-host limiter shared by all runs.
func (o *Orchestrator) HostPool() *fetch.HostSemaphorePool { return o.hostPool }

// Parallel returns the maximum number of concurrent site runs.
func (o *Orchestrator) Parallel() int { return o.parallel }

// RunSites runs every named site and returns their results in input order.
// A site failure never stops the others; ctx cancellation stops them all.
func (o *Orchestrator) RunSites(ctx context.Context, names []string) []models.RunResult {
	startTime := time.Now()
	results := make([]models.RunResult, len(names))
	if len(names) == 0 {
		return results
	}
	o.log.Infof("Starting run of %d sites (parallel=%d): %v", len(names), o.parallel, names)

	store, closeStore, err := o.openStore(ctx)
	if err != nil {
		o.log.Errorf("Failed to open dedupe store: %v", err)
		for i, name := range names {
			results[i] = failedResult(name, err)
		}
		return results
	}
	defer closeStore()

	g := new(errgroup.Group)
	g.SetLimit(o.parallel)
	for i, name := range names {
		g.Go(func() error {
			opts := o.base
			opts.Site = name
			opts.Store = store
			results[i] = runner.Run(ctx, opts)
			return nil
		})
	}
	_ = g.Wait()

	o.logSummary(results, time.Since(startTime))
	return results
}

// openStore opens one store for the whole batch so badger's directory lock and
// sqlite's single writer are shared instead of contended.
func (o *Orchestrator) openStore(ctx context.Context) (storage.DedupeStore, func(), error) {
	if o.base.Store != nil || o.base.Demo {
		return o.base.Store, func() {}, nil
	}
	store, err := storage.Open(ctx, o.base.StoreKind, o.base.StateDir, o.log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			o.log.Warnf("Failed to close dedupe store: %v", err)
		}
	}, nil
}

func failedResult(site string, err error) models.RunResult {
	return models.RunResult{
		Site:      site,
		Status:    models.RunStatusSiteError,
		ExitCode:  models.RunStatusSiteError.ExitCode(),
		Error:     err.Error(),
		StartedAt: time.Now(),
	}
}

// logSummary logs a summary of all run results
func (o *Orchestrator) logSummary(results []models.RunResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Batch run completed in %v", totalDuration.Round(time.Millisecond))
	o.log.Info("Site Results:")

	var totalKept int
	successCount := 0
	failCount := 0

	for _, r := range results {
		if r.Success() {
			successCount++
		} else {
			failCount++
		}
		totalKept += r.RecordsKept

		o.log.Infof("  %s: %s (exit %d) - %d pages, %d new records in %v",
			r.Site, r.Status, r.ExitCode, r.PagesFetched, r.RecordsKept, r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			o.log.Infof("    Error: %s", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d new records",
		len(results), successCount, failCount, totalKept)
	o.log.Info("============================================")
}

// MaxExitCode returns the highest exit code among results, used as the
// process exit code of a batch.
func MaxExitCode(results []models.RunResult) models.ExitCode {
	code := models.ExitOK
	for _, r := range results {
		code = max(code, r.ExitCode)
	}
	return code
}

// ValidateSiteNames checks that every name has a definition in configDir.
func ValidateSiteNames(configDir string, names []string) error {
	available, err := config.ListSites(configDir)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	for _, name := range names {
		if !known[name] {
			return fmt.Errorf("site '%s' not found. Available sites: %v", name, available)
		}
	}
	return nil
}
