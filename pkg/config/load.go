package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const (
	DefaultSitesDir     = "sites"
	DefaultCSVDir       = "out"
	DefaultDemoFixture  = "docs/fixtures/quotes.html"
	DefaultDemoDomain   = "quotes.toscrape.com"
	DefaultConnect      = 10 * time.Second
	DefaultRead         = 20 * time.Second
	defaultRPS          = 1
	defaultBurst        = 2
	siteConfigExtension = ".yaml"
)

// Load reads, validates and decodes a site definition, applying defaults.
func Load(path string) (*SiteConfig, error) {
	if problems := ValidateFile(path); len(problems) > 0 {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", utils.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s", utils.ErrConfigValidation, strings.Join(problems, "; "))
	}

	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadSite loads sites/<name>.yaml from dir.
func LoadSite(dir, name string) (*SiteConfig, error) {
	return Load(SitePath(dir, name))
}

// SitePath returns the file path of a named site definition.
func SitePath(dir, name string) string {
	return filepath.Join(dir, name+siteConfigExtension)
}

// ListSites returns the names of all site definitions in dir, sorted.
func ListSites(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+siteConfigExtension))
	if err != nil {
		return nil, fmt.Errorf("%w: list sites in %s: %w", utils.ErrFilesystem, dir, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), siteConfigExtension))
	}
	sort.Strings(names)
	return names, nil
}

func decodeFile(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", utils.ErrFilesystem, err)
	}
	var cfg SiteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: YAML parse error: %w", utils.ErrConfigValidation, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset optional sections in place.
func (c *SiteConfig) ApplyDefaults() {
	// A decoded rate_limit always has burst >= 1, so zero means the section was absent.
	if c.RateLimit.Burst == 0 {
		c.RateLimit = RateLimitConfig{RPS: defaultRPS, Burst: defaultBurst}
	}
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = Duration(DefaultConnect)
	}
	if c.Timeouts.Read <= 0 {
		c.Timeouts.Read = Duration(DefaultRead)
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	if c.Cookies == nil {
		c.Cookies = map[string]string{}
	}
	if c.Auth.Type == "" {
		c.Auth.Type = "none"
	}
	if c.Pagination.Strategy == nil {
		c.Pagination.Strategy = NoPagination{}
	}
	if c.Output.CSVDir == "" {
		c.Output.CSVDir = DefaultCSVDir
	}

	hc := &c.HTTPClient
	if hc.MaxIdleConns <= 0 {
		hc.MaxIdleConns = 100
	}
	if hc.MaxIdleConnsPerHost <= 0 {
		hc.MaxIdleConnsPerHost = 2
	}
	if hc.IdleConnTimeout <= 0 {
		hc.IdleConnTimeout = 90 * time.Second
	}
	if hc.TLSHandshakeTimeout <= 0 {
		hc.TLSHandshakeTimeout = 10 * time.Second
	}
	if hc.DialerKeepAlive <= 0 {
		hc.DialerKeepAlive = 30 * time.Second
	}
}

// ApplyDemo returns a copy of cfg rewired for offline replay of a local fixture.
// Relative fixture paths resolve against cwd.
func ApplyDemo(cfg *SiteConfig, cwd string) (*SiteConfig, error) {
	out := cfg.Clone()

	fixture := out.DemoFixture
	if fixture == "" {
		fixture = DefaultDemoFixture
	}
	if !filepath.IsAbs(fixture) {
		fixture = filepath.Join(cwd, fixture)
	}
	fixture, err := filepath.Abs(fixture)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve demo fixture: %w", utils.ErrConfigValidation, err)
	}
	if _, err := os.Stat(fixture); err != nil {
		return nil, fmt.Errorf("%w: demo fixture not found: %s", utils.ErrConfigValidation, fixture)
	}
	uri, err := FileURI(fixture)
	if err != nil {
		return nil, err
	}

	out.DemoMode = true
	out.URLs = []string{uri}
	out.Pagination = PaginationConfig{Strategy: NoPagination{}}
	out.RateLimit = RateLimitConfig{RPS: 1, Burst: 1}
	if len(out.AllowedDomains) == 0 {
		out.AllowedDomains = []string{DefaultDemoDomain}
	}
	if out.Output.CSVDir == "" {
		out.Output.CSVDir = DefaultCSVDir
	}
	return out, nil
}

// FileURI converts an absolute filesystem path into a file:// URL. Relative
// paths are rejected: their first segment would parse as the URL host.
func FileURI(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: fixture path must be absolute: %s", utils.ErrConfigValidation, path)
	}
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed // Windows drive paths
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return u.String(), nil
}
