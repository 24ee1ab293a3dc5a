package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/parse"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// maxRobotsSize caps how much of a robots.txt body is read.
const maxRobotsSize = 512 * 1024

// RobotsFetcher retrieves a robots.txt document. A non-nil error means the
// server could not be reached; any HTTP response, whatever its status, is
// reported with a nil error.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, robotsURL string) (body []byte, status int, err error)
}

// HTTPRobotsFetcher fetches robots.txt with the site's client and headers.
type HTTPRobotsFetcher struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPRobotsFetcher creates a fetcher sending the given headers on every request.
func NewHTTPRobotsFetcher(client *http.Client, headers map[string]string) *HTTPRobotsFetcher {
	return &HTTPRobotsFetcher{client: client, headers: headers}
}

// FetchRobots implements RobotsFetcher.
func (f *HTTPRobotsFetcher) FetchRobots(ctx context.Context, robotsURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return body, resp.StatusCode, nil
}

type robotsState int

const (
	robotsResolved robotsState = iota
	robotsAssumeAllowed
)

// robotsEntry is either a parsed rule set or the "unavailable, treat as allowed" marker.
type robotsEntry struct {
	state robotsState
	rules *robotstxt.RobotsData
}

func (e robotsEntry) allows(u *url.URL, userAgent string) bool {
	if e.state == robotsAssumeAllowed || e.rules == nil {
		return true
	}
	return e.rules.TestAgent(u.RequestURI(), userAgent)
}

// RobotsCache memoizes robots.txt per origin for the lifetime of a run.
// Each origin is fetched at most once, even under concurrent lookups; failures
// are cached as "assume allowed" and never retried.
type RobotsCache struct {
	fetcher   RobotsFetcher
	userAgent string
	log       *logrus.Entry
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]robotsEntry
	group   singleflight.Group
}

// NewRobotsCache creates an empty cache. m may be nil.
func NewRobotsCache(fetcher RobotsFetcher, userAgent string, log *logrus.Entry, m *metrics.Metrics) *RobotsCache {
	return &RobotsCache{
		fetcher:   fetcher,
		userAgent: userAgent,
		log:       log,
		metrics:   m,
		entries:   make(map[string]robotsEntry),
	}
}

// Allowed reports whether robots.txt for u's origin permits fetching u.
func (c *RobotsCache) Allowed(ctx context.Context, u *url.URL) bool {
	return c.lookup(ctx, u).allows(u, c.userAgent)
}

// Len returns the number of cached origins.
func (c *RobotsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RobotsCache) lookup(ctx context.Context, u *url.URL) robotsEntry {
	key := parse.OriginKey(u)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched := c.fetch(ctx, u)
		// A lookup cut short by cancellation says nothing about the server.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.entries[key] = fetched
			c.mu.Unlock()
		}
		return fetched, nil
	})
	return v.(robotsEntry)
}

func (c *RobotsCache) fetch(ctx context.Context, u *url.URL) robotsEntry {
	robotsURL := parse.RobotsURL(u)
	log := c.log.WithField("robots_url", robotsURL)
	log.Debug("Fetching robots.txt")

	body, status, err := c.fetcher.FetchRobots(ctx, robotsURL)
	if err != nil {
		log.Infof("Failed to fetch robots.txt for %s; assuming allowed: %v", u.Host, err)
		c.metrics.RobotsFetched("error")
		return robotsEntry{state: robotsAssumeAllowed}
	}
	if status < 200 || status >= 300 {
		log.Infof("robots.txt unavailable for %s (status %d); assuming allowed", u.Host, status)
		c.metrics.RobotsFetched("unavailable")
		return robotsEntry{state: robotsAssumeAllowed}
	}

	rules, err := robotstxt.FromBytes(body)
	if err != nil {
		log.Infof("robots.txt for %s could not be parsed; assuming allowed: %v", u.Host, err)
		c.metrics.RobotsFetched("parse_error")
		return robotsEntry{state: robotsAssumeAllowed}
	}
	log.Info("robots.txt loaded")
	c.metrics.RobotsFetched("resolved")
	return robotsEntry{state: robotsResolved, rules: rules}
}
