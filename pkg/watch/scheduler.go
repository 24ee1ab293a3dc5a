// Package watch re-runs sites on a fixed interval, remembering the last run of
// each site across restarts.
package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/orchestrate"
)

// BatchRunner runs a batch of sites. Implemented by *orchestrate.Orchestrator.
type BatchRunner interface {
	RunSites(ctx context.Context, names []string) []models.RunResult
}

// Scheduler manages periodic runs of sites
type Scheduler struct {
	runner       BatchRunner
	sites        []string
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler running sites every interval, with state
// kept under stateDir.
func NewScheduler(runner BatchRunner, sites []string, interval time.Duration, stateDir string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		runner:       runner,
		sites:        sites,
		interval:     interval,
		log:          log,
		stateManager: NewStateManager(stateDir),
	}
}

// State exposes the persisted per-site state.
func (s *Scheduler) State() *StateManager { return s.stateManager }

// Run starts the scheduler and blocks until ctx ends. The batch in flight, if
// any, is waited for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.sites), FormatInterval(s.interval))
	s.logSchedule()

	if orch, ok := s.runner.(*orchestrate.Orchestrator); ok {
		go orch.HostPool().RunEviction(ctx, s.calculateTickInterval())
	}

	s.startDueSites(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.startDueSites(ctx)
		}
	}
}

// startDueSites launches one batch for the due sites unless a batch is still running.
func (s *Scheduler) startDueSites(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug("Previous batch still running; skipping tick")
		return
	}
	due := s.getDueSites()
	if len(due) == 0 {
		s.mu.Unlock()
		s.logNextRun()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.runBatch(ctx, due)
	}()
}

// RunDue runs the due sites once, synchronously, and returns their results.
func (s *Scheduler) RunDue(ctx context.Context) []models.RunResult {
	due := s.getDueSites()
	if len(due) == 0 {
		return nil
	}
	return s.runBatch(ctx, due)
}

func (s *Scheduler) runBatch(ctx context.Context, due []string) []models.RunResult {
	s.log.Infof("Running %d due sites: %v", len(due), due)
	results := s.runner.RunSites(ctx, due)

	for _, result := range results {
		// A run cut short by shutdown is retried on the next start.
		if ctx.Err() != nil && !result.Success() {
			continue
		}
		s.stateManager.RecordResult(result)
	}
	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}

	s.logNextRun()
	return results
}

// getDueSites returns sites that are due for a run
func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, site := range s.sites {
		if s.stateManager.ShouldRun(site, s.interval) {
			due = append(due, site)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due sites
func (s *Scheduler) calculateTickInterval() time.Duration {
	// Check at least every minute, or every 1/10th of the interval
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, site := range s.sites {
		state, exists := s.stateManager.GetSiteState(site)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", site)
			continue
		}
		nextRun := s.stateManager.GetNextRunTime(site, s.interval)
		s.log.Infof("  %s: last run %v (%s, %d new records), next run %v",
			site,
			state.LastRunTime.Format(time.RFC3339),
			state.LastStatus,
			state.RecordsKept,
			nextRun.Format(time.RFC3339))
	}
}

// logNextRun logs when the next run will occur
func (s *Scheduler) logNextRun() {
	type nextRun struct {
		site string
		at   time.Time
	}
	var runs []nextRun
	for _, site := range s.sites {
		runs = append(runs, nextRun{site, s.stateManager.GetNextRunTime(site, s.interval)})
	}
	if len(runs) == 0 {
		return
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].at.Before(runs[j].at)
	})

	next := runs[0]
	until := max(time.Until(next.at), 0)
	s.log.Infof("Next run: %s in %v (at %s)", next.site, until.Round(time.Second), next.at.Format("15:04:05"))
}

// GetStatus returns the current status of all watched sites
func (s *Scheduler) GetStatus() map[string]SiteStatus {
	status := make(map[string]SiteStatus)

	for _, site := range s.sites {
		state, exists := s.stateManager.GetSiteState(site)
		status[site] = SiteStatus{
			Site:        site,
			LastRun:     state,
			NextRunTime: s.stateManager.GetNextRunTime(site, s.interval),
			NeverRun:    !exists,
		}
	}
	return status
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	Site        string
	LastRun     SiteState
	NextRunTime time.Time
	NeverRun    bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for a day suffix
// ("7d", "1d12h"). Intervals must be positive.
func ParseInterval(s string) (time.Duration, error) {
	d, err := parseInterval(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %s", s)
	}
	return d, nil
}

func parseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
