package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/extract"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// PageFetcher retrieves one page. Implemented by *fetch.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.PageContent, error)
}

// SeedFailure records why a seed contributed no records.
type SeedFailure struct {
	URL      string
	Category string
	Err      error
}

// Stats summarizes a session run.
type Stats struct {
	Seeds            int
	SeedsDenied      int
	PagesFetched     int
	RecordsExtracted int
	Failures         []SeedFailure
	Duration         time.Duration
}

// Session crawls every seed of one site definition sequentially. Seeds are
// isolated: a failing seed is logged and contributes nothing, the rest continue.
type Session struct {
	site      *config.SiteConfig
	fetcher   PageFetcher
	extractor *extract.Extractor
	policy    Policy
	log       *logrus.Entry
	metrics   *metrics.Metrics
}

// SessionOptions carries optional collaborators for NewSiteSession.
type SessionOptions struct {
	Metrics      *metrics.Metrics
	HostPool     *fetch.HostSemaphorePool
	FetchOptions []fetch.FetcherOption
}

// NewSession assembles a session from already-built components.
func NewSession(site *config.SiteConfig, fetcher PageFetcher, extractor *extract.Extractor, policy Policy, log *logrus.Entry, m *metrics.Metrics) *Session {
	return &Session{
		site:      site,
		fetcher:   fetcher,
		extractor: extractor,
		policy:    policy,
		log:       log,
		metrics:   m,
	}
}

// NewSiteSession wires the full fetch stack for site: HTTP client, robots cache,
// policy gate, rate limiter, fetcher and extractor. Every component is owned by
// the session; only opts.HostPool may be shared between sessions.
func NewSiteSession(site *config.SiteConfig, log *logrus.Entry, opts SessionOptions) (*Session, error) {
	extractor, err := extract.New(site.Selectors, log)
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(site, log)
	robots := fetch.NewRobotsCache(fetch.NewHTTPRobotsFetcher(client, site.Headers), site.UserAgent(), log, opts.Metrics)
	policy := fetch.NewPolicyGate(site, robots, log, opts.Metrics)
	limiter := fetch.NewRateLimiter(site.RateLimit, log)

	fetchOpts := []fetch.FetcherOption{fetch.WithMetrics(opts.Metrics)}
	if opts.HostPool != nil {
		fetchOpts = append(fetchOpts, fetch.WithHostSemaphore(opts.HostPool))
	}
	fetchOpts = append(fetchOpts, opts.FetchOptions...)
	fetcher := fetch.NewFetcher(site, client, policy, limiter, log, fetchOpts...)

	return NewSession(site, fetcher, extractor, policy, log, opts.Metrics), nil
}

// Run crawls all seeds in order and returns their records concatenated in
// seed, page, container order. The error is non-nil only when ctx ended;
// the records gathered before that are still returned.
func (s *Session) Run(ctx context.Context) ([]models.Record, Stats, error) {
	start := time.Now()
	stats := Stats{Seeds: len(s.site.URLs)}
	var records []models.Record

	s.log.WithFields(logrus.Fields{
		"seeds":      len(s.site.URLs),
		"pagination": s.site.Pagination.Kind().String(),
		"demo":       s.site.DemoMode,
	}).Info("Crawl session starting")

	for _, seed := range s.site.URLs {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return records, stats, err
		}

		// A denied seed contributes nothing but is not a failure; the gate logs why.
		if s.policy != nil && !s.policy.Allowed(ctx, seed) {
			s.log.WithField("url", seed).Info("Seed skipped by policy")
			stats.SeedsDenied++
			continue
		}

		seedRecords, pages, err := s.crawlSeed(ctx, seed)
		stats.PagesFetched += pages
		if err != nil {
			if ctx.Err() != nil {
				stats.Duration = time.Since(start)
				return records, stats, ctx.Err()
			}
			category := utils.CategorizeError(err)
			s.log.WithField("category", category).Errorf("Failed to scrape %s: %v", seed, err)
			s.metrics.SeedFailed(s.site.Name, category)
			stats.Failures = append(stats.Failures, SeedFailure{URL: seed, Category: category, Err: err})
			continue
		}

		stats.RecordsExtracted += len(seedRecords)
		records = append(records, seedRecords...)
	}

	stats.Duration = time.Since(start)
	s.log.WithFields(logrus.Fields{
		"pages":         stats.PagesFetched,
		"records":       stats.RecordsExtracted,
		"seed_failures": len(stats.Failures),
		"seeds_denied":  stats.SeedsDenied,
		"duration":      stats.Duration.Round(time.Millisecond),
	}).Info("Crawl session finished")
	return records, stats, nil
}

// crawlSeed paginates one seed to exhaustion. On error the seed's partial
// records are discarded; pages still reports how many were fetched.
func (s *Session) crawlSeed(ctx context.Context, seed string) (records []models.Record, pages int, err error) {
	driver, err := NewDriver(seed, s.site.Pagination.Strategy, s.policy, s.log)
	if err != nil {
		return nil, 0, err
	}

	for driver.State() == Fetching {
		pageURL := driver.Current()
		pageLog := s.log.WithFields(logrus.Fields{"url": pageURL, "page": driver.Pages() + 1})

		page, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			driver.Stop()
			return nil, driver.Pages(), err
		}

		doc, err := extract.Parse(page.Body)
		if err != nil {
			driver.Stop()
			return nil, driver.Pages() + 1, fmt.Errorf("page %s: %w", pageURL, err)
		}

		pageRecords := s.extractor.Extract(doc)
		s.metrics.Extracted(s.site.Name, len(pageRecords))
		records = append(records, pageRecords...)
		pageLog.Infof("Fetched page with %d records", len(pageRecords))

		driver.Advance(ctx, doc)
	}
	return records, driver.Pages(), nil
}
