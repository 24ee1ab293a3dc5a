package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is sent when a site's headers carry no User-Agent.
const DefaultUserAgent = "web-to-sheets/0.1"

// SiteConfig holds the definition of a single site to scrape.
// It is read-only once loaded.
type SiteConfig struct {
	Name           string            `yaml:"name"`
	URLs           []string          `yaml:"urls"`
	Selectors      Selectors         `yaml:"selectors"`
	Pagination     PaginationConfig  `yaml:"pagination"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	Timeouts       TimeoutConfig     `yaml:"timeouts"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Cookies        map[string]string `yaml:"cookies,omitempty"`
	Auth           AuthConfig        `yaml:"auth,omitempty"`
	AllowedDomains []string          `yaml:"allowed_domains,omitempty"`
	DemoMode       bool              `yaml:"demo_mode,omitempty"`
	DemoFixture    string            `yaml:"demo_fixture,omitempty"`
	DedupeKeys     []string          `yaml:"dedupe_keys"`
	Output         OutputConfig      `yaml:"output"`
	MinRows        int               `yaml:"min_rows"`
	HTTPClient     HTTPClientConfig  `yaml:"http_client,omitempty"`
}

// RateLimitConfig describes the token bucket for a site.
// RPS <= 0 disables throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// UnmarshalYAML fills in a missing burst from rps the same way the limiter would.
func (r *RateLimitConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		RPS   *float64 `yaml:"rps"`
		Burst *int     `yaml:"burst"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	r.RPS = 1
	if raw.RPS != nil {
		r.RPS = *raw.RPS
	}
	if raw.Burst != nil {
		r.Burst = max(*raw.Burst, 1)
	} else {
		r.Burst = max(1, int(r.RPS))
	}
	return nil
}

// TimeoutConfig bounds a single HTTP attempt.
type TimeoutConfig struct {
	Connect Duration `yaml:"connect"`
	Read    Duration `yaml:"read"`
}

// Duration accepts either a number of seconds or a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthConfig selects how requests are authenticated. Credentials are read from the
// environment variables named here, never from the file itself.
type AuthConfig struct {
	Type        string `yaml:"type"` // none, basic, bearer
	UsernameEnv string `yaml:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	TokenEnv    string `yaml:"token_env,omitempty"`
}

// OutputConfig controls export of the deduplicated records.
type OutputConfig struct {
	SheetTab string   `yaml:"sheet_tab"`
	CSVDir   string   `yaml:"csv_dir,omitempty"`
	Columns  []string `yaml:"columns,omitempty"`
	XLSX     bool     `yaml:"xlsx,omitempty"`
	JSONL    bool     `yaml:"jsonl,omitempty"`
}

// HTTPClientConfig holds connection pool settings for the shared HTTP client
type HTTPClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`
	ForceAttemptHTTP2   *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
}

// UserAgent returns the configured User-Agent header or the default.
func (c *SiteConfig) UserAgent() string {
	if ua, ok := c.Headers["User-Agent"]; ok && ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// Columns returns the export column order: output.columns when set,
// otherwise the declared field order.
func (c *SiteConfig) Columns() []string {
	if len(c.Output.Columns) > 0 {
		return append([]string(nil), c.Output.Columns...)
	}
	return c.Selectors.Names()
}

// Clone returns a deep copy so run-time overrides never leak into a shared config.
func (c *SiteConfig) Clone() *SiteConfig {
	out := *c
	out.URLs = append([]string(nil), c.URLs...)
	out.Selectors.Fields = append([]FieldSelector(nil), c.Selectors.Fields...)
	out.AllowedDomains = append([]string(nil), c.AllowedDomains...)
	out.DedupeKeys = append([]string(nil), c.DedupeKeys...)
	out.Output.Columns = append([]string(nil), c.Output.Columns...)
	out.Headers = cloneMap(c.Headers)
	out.Cookies = cloneMap(c.Cookies)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
