package crawler

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// policyFunc adapts a function to the Policy interface
type policyFunc func(rawURL string) bool

func (f policyFunc) Allowed(_ context.Context, rawURL string) bool { return f(rawURL) }

func allowAll() Policy { return policyFunc(func(string) bool { return true }) }

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const withNext = `<ul><li class="next"><a href="/page/2/">Next</a></li></ul>`

func TestDriver_NoneFetchesOnce(t *testing.T) {
	d, err := NewDriver("https://example.com/list", config.NoPagination{}, allowAll(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, Fetching, d.State())
	assert.Equal(t, "https://example.com/list", d.Current())

	d.Advance(context.Background(), mustDoc(t, withNext))
	assert.Equal(t, Done, d.State())
	assert.Equal(t, 1, d.Pages())
}

func TestDriver_NilStrategyIsNone(t *testing.T) {
	d, err := NewDriver("https://example.com/", nil, allowAll(), testLogger())
	require.NoError(t, err)
	d.Advance(context.Background(), nil)
	assert.Equal(t, Done, d.State())
}

func TestDriver_QueryParam(t *testing.T) {
	strategy := config.QueryParamPagination{Param: "page", Start: 1, MaxPages: 3}
	d, err := NewDriver("https://example.com/list?sort=asc&page=9", strategy, allowAll(), testLogger())
	require.NoError(t, err)

	var urls []string
	for d.State() == Fetching {
		urls = append(urls, d.Current())
		d.Advance(context.Background(), nil)
	}

	assert.Equal(t, []string{
		"https://example.com/list?sort=asc&page=1",
		"https://example.com/list?sort=asc&page=2",
		"https://example.com/list?sort=asc&page=3",
	}, urls)
	assert.Equal(t, 3, d.Pages())
}

func TestDriver_QueryParamStartZero(t *testing.T) {
	strategy := config.QueryParamPagination{Param: "p", Start: 0, MaxPages: 2}
	d, err := NewDriver("https://example.com/", strategy, allowAll(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/?p=0", d.Current())
	d.Advance(context.Background(), nil)
	assert.Equal(t, "https://example.com/?p=1", d.Current())
	d.Advance(context.Background(), nil)
	assert.Equal(t, Done, d.State())
}

func TestDriver_NextLink(t *testing.T) {
	strategy := config.NextLinkPagination{NextSelector: "li.next a"}
	d, err := NewDriver("https://example.com/page/1/", strategy, allowAll(), testLogger())
	require.NoError(t, err)

	d.Advance(context.Background(), mustDoc(t, withNext))
	require.Equal(t, Fetching, d.State())
	assert.Equal(t, "https://example.com/page/2/", d.Current(), "relative href resolves against the current page")

	d.Advance(context.Background(), mustDoc(t, `<a class="next" href="https://mirror.example.com/page/3/">abs</a><li class="next"><a href="https://mirror.example.com/page/3/">n</a></li>`))
	assert.Equal(t, "https://mirror.example.com/page/3/", d.Current())

	d.Advance(context.Background(), mustDoc(t, `<p>last page</p>`))
	assert.Equal(t, Done, d.State())
	assert.Equal(t, 3, d.Pages())
}

func TestDriver_NextLinkMissingHref(t *testing.T) {
	d, err := NewDriver("https://example.com/", config.NextLinkPagination{NextSelector: "li.next a"}, allowAll(), testLogger())
	require.NoError(t, err)

	d.Advance(context.Background(), mustDoc(t, `<li class="next"><a>no href</a></li>`))
	assert.Equal(t, Done, d.State())
}

func TestDriver_NextLinkMaxPages(t *testing.T) {
	d, err := NewDriver("https://example.com/page/1/", config.NextLinkPagination{NextSelector: "li.next a", MaxPages: 1}, allowAll(), testLogger())
	require.NoError(t, err)

	d.Advance(context.Background(), mustDoc(t, withNext))
	assert.Equal(t, Done, d.State())
}

func TestDriver_NextLinkCycle(t *testing.T) {
	d, err := NewDriver("https://example.com/page/2/", config.NextLinkPagination{NextSelector: "li.next a"}, allowAll(), testLogger())
	require.NoError(t, err)

	d.Advance(context.Background(), mustDoc(t, withNext))
	assert.Equal(t, Done, d.State(), "a link back to a visited page ends the chain")
}

func TestDriver_PolicyDeniesNext(t *testing.T) {
	deny := policyFunc(func(raw string) bool { return !strings.Contains(raw, "/page/2/") })
	d, err := NewDriver("https://example.com/page/1/", config.NextLinkPagination{NextSelector: "li.next a"}, deny, testLogger())
	require.NoError(t, err)

	d.Advance(context.Background(), mustDoc(t, withNext))
	assert.Equal(t, Done, d.State())
	assert.Equal(t, 1, d.Pages())
	assert.Equal(t, "https://example.com/page/1/", d.Current())
}

func TestDriver_StopAndAdvanceAfterDone(t *testing.T) {
	d, err := NewDriver("https://example.com/", config.QueryParamPagination{Param: "page", Start: 1, MaxPages: 5}, allowAll(), testLogger())
	require.NoError(t, err)

	d.Stop()
	assert.Equal(t, Done, d.State())
	d.Advance(context.Background(), nil)
	assert.Equal(t, 0, d.Pages(), "Advance is a no-op once done")
}

func TestNewDriver_Errors(t *testing.T) {
	_, err := NewDriver("https://example.com/", config.NextLinkPagination{NextSelector: "a["}, allowAll(), testLogger())
	assert.Error(t, err)

	_, err = NewDriver("http://[::1", config.QueryParamPagination{Param: "p", Start: 1, MaxPages: 1}, allowAll(), testLogger())
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fetching", Fetching.String())
	assert.Equal(t, "advancing", Advancing.String())
	assert.Equal(t, "done", Done.String())
}
