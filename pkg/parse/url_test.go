package parse

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestIsNetworkScheme(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://example.com", true},
		{"HTTPS://example.com", true},
		{"file:///tmp/quotes.html", false},
		{"ftp://example.com", false},
		{"mailto:a@b.c", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkScheme(mustParse(t, tt.in)))
		})
	}
}

func TestApplyQueryParam(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		param string
		value string
		want  string
	}{
		{"no query", "https://example.com/list", "page", "1", "https://example.com/list?page=1"},
		{"preserves others", "https://example.com/list?foo=1", "page", "2", "https://example.com/list?foo=1&page=2"},
		{"replaces in place", "https://example.com/list?page=1&sort=asc", "page", "3", "https://example.com/list?page=3&sort=asc"},
		{"drops repeats", "https://example.com/?page=1&x=y&page=9", "page", "2", "https://example.com/?page=2&x=y"},
		{"keeps blank values", "https://example.com/?q=&page=1", "page", "2", "https://example.com/?q=&page=2"},
		{"keeps fragment", "https://example.com/list#top", "p", "1", "https://example.com/list?p=1#top"},
		{"escapes value", "https://example.com/", "q", "a b&c", "https://example.com/?q=a+b%26c"},
		{"escaped key matches", "https://example.com/?my%20key=1", "my key", "2", "https://example.com/?my+key=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyQueryParam(tt.url, tt.param, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyQueryParam_LastWriteWins(t *testing.T) {
	once, err := ApplyQueryParam("https://example.com/list?foo=1", "page", "2")
	require.NoError(t, err)
	twice, err := ApplyQueryParam(once, "page", "5")
	require.NoError(t, err)

	q := mustParse(t, twice).Query()
	assert.Equal(t, []string{"5"}, q["page"])
	assert.Equal(t, []string{"1"}, q["foo"])
}

func TestApplyQueryParam_InvalidURL(t *testing.T) {
	_, err := ApplyQueryParam("http://[::1", "page", "1")
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestResolveReference(t *testing.T) {
	base := mustParse(t, "https://quotes.toscrape.com/page/1/")
	tests := []struct {
		href string
		want string
	}{
		{"/page/2/", "https://quotes.toscrape.com/page/2/"},
		{"../2/", "https://quotes.toscrape.com/page/2/"},
		{"?p=3", "https://quotes.toscrape.com/page/1/?p=3"},
		{"  /trimmed/  ", "https://quotes.toscrape.com/trimmed/"},
		{"https://other.example/next", "https://other.example/next"},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got, err := ResolveReference(base, tt.href)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFixturePath(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("/tmp/my fixtures/q.html"), FixturePath(mustParse(t, "file:///tmp/my%20fixtures/q.html")))
	assert.Equal(t, filepath.FromSlash("//server/share/q.html"), FixturePath(mustParse(t, "file://server/share/q.html")))
}

func TestOriginKey(t *testing.T) {
	assert.Equal(t, "https://example.com", OriginKey(mustParse(t, "HTTPS://Example.COM:443/a")))
	assert.Equal(t, "http://example.com", OriginKey(mustParse(t, "http://example.com:80/")))
	assert.Equal(t, "http://127.0.0.1:8080", OriginKey(mustParse(t, "http://127.0.0.1:8080/x")))
}

func TestRobotsURL(t *testing.T) {
	assert.Equal(t, "https://example.com/robots.txt", RobotsURL(mustParse(t, "https://example.com/deep/path?q=1")))
	assert.Equal(t, "http://127.0.0.1:9000/robots.txt", RobotsURL(mustParse(t, "http://127.0.0.1:9000/")))
}
