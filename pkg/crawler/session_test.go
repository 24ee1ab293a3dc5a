package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

func quotePage(prefix string, n int, nextHref string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div class="quote"><span class="text">%s-%d</span><small class="author">A%d</small></div>`, prefix, i, i)
	}
	if nextHref != "" {
		fmt.Fprintf(&b, `<li class="next"><a href="%s">Next</a></li>`, nextHref)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// siteServer serves quote listings and records every non-robots request path
type siteServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits []string
}

func newSiteServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *siteServer {
	t.Helper()
	s := &siteServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		s.hits = append(s.hits, r.URL.RequestURI())
		s.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func sessionSite(urls ...string) *config.SiteConfig {
	cfg := &config.SiteConfig{
		Name: "quotes",
		URLs: urls,
		Selectors: config.Selectors{Item: ".quote", Fields: []config.FieldSelector{
			{Name: "text", Expr: ".text"},
			{Name: "author", Expr: ".author"},
		}},
		DedupeKeys: []string{"text"},
		Output:     config.OutputConfig{SheetTab: "Quotes"},
		RateLimit:  config.RateLimitConfig{RPS: 0, Burst: 1},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestSession(t *testing.T, site *config.SiteConfig, log *logrus.Entry) *Session {
	t.Helper()
	noSleep := fetch.WithSleep(func(context.Context, time.Duration) error { return nil })
	s, err := NewSiteSession(site, log, SessionOptions{FetchOptions: []fetch.FetcherOption{noSleep}})
	require.NoError(t, err)
	return s
}

func TestSession_QueryParamTwoPages(t *testing.T) {
	srv := newSiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, quotePage("p"+r.URL.Query().Get("page"), 2, ""))
	})

	site := sessionSite(srv.URL + "/list?tag=life")
	site.Pagination.Strategy = config.QueryParamPagination{Param: "page", Start: 1, MaxPages: 2}

	records, stats, err := newTestSession(t, site, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/list?tag=life&page=1", "/list?tag=life&page=2"}, srv.requests())
	require.Len(t, records, 4)
	var got []string
	for _, r := range records {
		got = append(got, r.Value("text"))
	}
	assert.Equal(t, []string{"p1-1", "p1-2", "p2-1", "p2-2"}, got)
	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 4, stats.RecordsExtracted)
	assert.Empty(t, stats.Failures)
}

func TestSession_NextLinkFollowsRelativeHrefs(t *testing.T) {
	srv := newSiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/catalogue/page-1.html":
			fmt.Fprint(w, quotePage("one", 1, "page-2.html"))
		case "/catalogue/page-2.html":
			fmt.Fprint(w, quotePage("two", 1, ""))
		default:
			http.NotFound(w, r)
		}
	})

	site := sessionSite(srv.URL + "/catalogue/page-1.html")
	site.Pagination.Strategy = config.NextLinkPagination{NextSelector: "li.next a"}

	records, stats, err := newTestSession(t, site, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/catalogue/page-1.html", "/catalogue/page-2.html"}, srv.requests())
	require.Len(t, records, 2)
	assert.Equal(t, "one-1", records[0].Value("text"))
	assert.Equal(t, "two-1", records[1].Value("text"))
	assert.Equal(t, 2, stats.PagesFetched)
}

func TestSession_SeedIsolation(t *testing.T) {
	srv := newSiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			fmt.Fprint(w, quotePage("good", 2, ""))
		case "/partial":
			fmt.Fprint(w, quotePage("partial", 3, "/missing"))
		default:
			http.NotFound(w, r)
		}
	})

	logger, hook := test.NewNullLogger()
	site := sessionSite(srv.URL+"/missing-seed", srv.URL+"/partial", srv.URL+"/good")
	site.Pagination.Strategy = config.NextLinkPagination{NextSelector: "li.next a"}

	records, stats, err := newTestSession(t, site, logrus.NewEntry(logger)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 2, "failed seeds contribute nothing, partial pages included")
	assert.Equal(t, "good-1", records[0].Value("text"))
	assert.Equal(t, 3, stats.Seeds)
	require.Len(t, stats.Failures, 2)
	assert.Equal(t, srv.URL+"/missing-seed", stats.Failures[0].URL)
	assert.Equal(t, "HTTP_404", stats.Failures[0].Category)
	assert.ErrorIs(t, stats.Failures[1].Err, utils.ErrClientHTTPError)

	var failureLogs int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.HasPrefix(e.Message, "Failed to scrape ") {
			failureLogs++
		}
	}
	assert.Equal(t, 2, failureLogs)
}

func TestSession_AllowListDenialYieldsNothing(t *testing.T) {
	srv := newSiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, quotePage("x", 1, ""))
	})

	site := sessionSite(srv.URL + "/list")
	site.AllowedDomains = []string{"quotes.toscrape.com"}

	logger, hook := test.NewNullLogger()
	records, stats, err := newTestSession(t, site, logrus.NewEntry(logger)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, srv.requests())
	assert.Empty(t, stats.Failures, "a denied seed is not a failed seed")
	assert.Equal(t, 1, stats.SeedsDenied)
	assert.Equal(t, 0, stats.PagesFetched)

	var denials int
	for _, e := range hook.AllEntries() {
		assert.False(t, strings.HasPrefix(e.Message, "Failed to scrape "), "unexpected failure log: %s", e.Message)
		if e.Level == logrus.ErrorLevel && e.Message == "URL not in allowed domains" {
			denials++
		}
	}
	assert.Equal(t, 1, denials)
}

func TestSession_RobotsDeniedNextPageStopsQuietly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
		case "/public":
			fmt.Fprint(w, quotePage("pub", 1, "/private/2"))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	site := sessionSite(srv.URL + "/public")
	site.Pagination.Strategy = config.NextLinkPagination{NextSelector: "li.next a"}

	records, stats, err := newTestSession(t, site, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, stats.Failures)
}

func TestSession_FixtureEndToEnd(t *testing.T) {
	fixture, err := filepath.Abs(filepath.Join("..", "..", "docs", "fixtures", "quotes.html"))
	require.NoError(t, err)

	site := sessionSite("https://quotes.toscrape.com/")
	site.Selectors.Fields = append(site.Selectors.Fields,
		config.FieldSelector{Name: "tags", Expr: ".tag::textlist"},
		config.FieldSelector{Name: "author_url", Expr: ".author + a::attr(href)"},
	)
	site.DemoFixture = fixture
	demo, err := config.ApplyDemo(site, t.TempDir())
	require.NoError(t, err)

	records, stats, err := newTestSession(t, demo, testLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, 1, stats.PagesFetched, "demo mode fetches a single page")

	first := records[0]
	assert.Equal(t, "Albert Einstein", first.Value("author"))
	assert.Equal(t, "change, deep-thoughts, thinking, world", first.Value("tags"))
	assert.Equal(t, "/author/Albert-Einstein", first.Value("author_url"))
	assert.Equal(t, []string{"text", "author", "tags", "author_url"}, first.Keys())
}

func TestSession_ContextCancelled(t *testing.T) {
	site := sessionSite("https://example.invalid/a", "https://example.invalid/b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, _, err := newTestSession(t, site, testLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
}

func TestNewSiteSession_InvalidSelectors(t *testing.T) {
	site := sessionSite("https://example.com/")
	site.Selectors.Item = "div["
	_, err := NewSiteSession(site, testLogger(), SessionOptions{})
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
