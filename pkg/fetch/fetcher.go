package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/parse"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const (
	// MaxAttempts is the total number of tries for one URL, first attempt included.
	MaxAttempts = 3
	// MaxBackoff caps a single retry sleep.
	MaxBackoff = 30 * time.Second
	// maxBodySize caps how much of a page body is read.
	maxBodySize = 16 << 20
)

// PageContent is one successfully retrieved page.
type PageContent struct {
	URL         string // URL as requested
	FinalURL    string // URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
	Fixture     bool // read from a local file:// fixture
}

// Fetcher retrieves pages for one site run, applying policy, rate limiting and
// retry with backoff. Local file:// fixtures bypass all three.
type Fetcher struct {
	site        string
	client      *http.Client
	policy      *PolicyGate
	limiter     *RateLimiter
	hosts       *HostSemaphorePool
	headers     map[string]string
	cookies     map[string]string
	readTimeout time.Duration
	log         *logrus.Entry
	metrics     *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHostSemaphore bounds concurrent requests per host across site runs
// sharing the same pool.
func WithHostSemaphore(pool *HostSemaphorePool) FetcherOption {
	return func(f *Fetcher) { f.hosts = pool }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithJitter replaces the backoff jitter source, mainly for tests.
func WithJitter(jitter func() time.Duration) FetcherOption {
	return func(f *Fetcher) { f.jitter = jitter }
}

// NewFetcher creates a Fetcher for site.
func NewFetcher(site *config.SiteConfig, client *http.Client, policy *PolicyGate, limiter *RateLimiter, log *logrus.Entry, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		site:        site.Name,
		client:      client,
		policy:      policy,
		limiter:     limiter,
		headers:     site.Headers,
		cookies:     site.Cookies,
		readTimeout: site.Timeouts.Read.Std(),
		log:         log,
		sleep:       sleepContext,
		jitter:      func() time.Duration { return time.Duration(rand.Float64() * float64(time.Second)) },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff returns the sleep before retrying after attempt (zero-based):
// 2^attempt seconds plus jitter, capped at MaxBackoff.
func Backoff(attempt int, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 30 {
		return MaxBackoff
	}
	base := time.Duration(1<<attempt) * time.Second
	return min(base+jitter, MaxBackoff)
}

// Fetch retrieves rawURL. Statuses 429, 500, 502, 503 and 504 are retried up to
// MaxAttempts; any other failure is returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	page, err := f.fetch(ctx, rawURL)
	if err != nil {
		f.metrics.FetchFailed(f.site, utils.CategorizeError(err))
		return nil, err
	}
	f.metrics.PageFetched(f.site)
	return page, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	if u.Scheme == "file" {
		return f.readFixture(u)
	}
	if !parse.IsNetworkScheme(u) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", utils.ErrRequestCreation, u.Scheme)
	}

	if err := f.policy.Check(ctx, u); err != nil {
		return nil, err
	}

	reqLog := f.log.WithField("url", rawURL)
	var lastErr error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		// --- Context Check ---
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		page, retryable, err := f.attempt(ctx, u)
		if err == nil {
			reqLog.WithField("status", page.StatusCode).Debug("Fetched page")
			return page, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		if attempt == MaxAttempts-1 {
			break
		}
		f.metrics.FetchRetried(f.site)
		delay := Backoff(attempt, f.jitter())
		reqLog.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Warnf("Retrying after: %v", err)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// attempt performs one HTTP exchange. retryable reports whether err is transient.
func (f *Fetcher) attempt(ctx context.Context, u *url.URL) (page *PageContent, retryable bool, err error) {
	if f.hosts != nil {
		if err := f.hosts.Acquire(ctx, u.Host); err != nil {
			return nil, false, err
		}
		defer f.hosts.Release(u.Host)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", config.DefaultUserAgent)
	}
	for name, value := range f.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("%w: %w", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
	case isRetryableStatus(code):
		_, _ = io.Copy(io.Discard, resp.Body)
		sentinel := utils.ErrServerHTTPError
		if code == http.StatusTooManyRequests {
			sentinel = utils.ErrClientHTTPError
		}
		return nil, true, statusError(sentinel, code)
	case code >= 400 && code < 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, statusError(utils.ErrClientHTTPError, code)
	case code >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, statusError(utils.ErrServerHTTPError, code)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, statusError(utils.ErrOtherHTTPError, code)
	}

	// Headers arrived; the read timeout now bounds the body.
	if f.readTimeout > 0 {
		timer := time.AfterFunc(f.readTimeout, cancel)
		defer timer.Stop()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}

	return &PageContent{
		URL:         u.String(),
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  code,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, false, nil
}

func (f *Fetcher) readFixture(u *url.URL) (*PageContent, error) {
	path := parse.FixturePath(u)
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", utils.ErrFixtureNotFound, path)
		}
		return nil, fmt.Errorf("%w: read fixture %s: %w", utils.ErrFilesystem, path, err)
	}
	f.log.WithField("path", path).Debug("Loaded local fixture")
	return &PageContent{
		URL:         u.String(),
		FinalURL:    u.String(),
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        body,
		Fixture:     true,
	}, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func statusError(sentinel error, code int) error {
	return fmt.Errorf("%w: status %d (%s)", sentinel, code, http.StatusText(code))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
