package parse

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// IsNetworkScheme reports whether u is fetched over the network (http or https).
// Everything else, notably file:// fixtures, bypasses policy checks.
func IsNetworkScheme(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// ApplyQueryParam returns rawURL with param set to value. Every other query
// parameter is kept in place; an existing param is replaced at its first
// position and any repeats of it are dropped, so repeated calls are last-write-wins.
func ApplyQueryParam(rawURL, param, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	u.RawQuery = setQueryParam(u.RawQuery, param, value)
	return u.String(), nil
}

func setQueryParam(rawQuery, param, value string) string {
	pair := url.QueryEscape(param) + "=" + url.QueryEscape(value)
	parts := make([]string, 0, strings.Count(rawQuery, "&")+2)
	replaced := false

	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == param {
			if !replaced {
				parts = append(parts, pair)
				replaced = true
			}
			continue
		}
		parts = append(parts, part)
	}
	if !replaced {
		parts = append(parts, pair)
	}
	return strings.Join(parts, "&")
}

// ResolveReference resolves href (relative or absolute) against base.
func ResolveReference(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("%w: URL href '%s': %w", utils.ErrParsing, href, err)
	}
	return base.ResolveReference(ref), nil
}

// FixturePath converts a file:// URL into a local path. A non-empty host is kept
// as a UNC-style "//host" prefix.
func FixturePath(u *url.URL) string {
	path := u.Path
	if u.Host != "" {
		path = "//" + u.Host + u.Path
	}
	return filepath.FromSlash(path)
}

// OriginKey identifies the robots.txt scope of u: lowercased scheme and host,
// with default ports removed. Does not modify u.
func OriginKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}
	return scheme + "://" + host
}

// RobotsURL returns the robots.txt location for u's origin.
func RobotsURL(u *url.URL) string {
	robots := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	return robots.String()
}
