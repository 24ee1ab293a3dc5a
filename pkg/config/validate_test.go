package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

func containsProblem(problems []string, substr string) bool {
	for _, p := range problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func TestValidateFile_Valid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "ok.yaml", quotesYAML)
	assert.Empty(t, ValidateFile(path))
}

func TestValidateFile_AcceptsOptionalDemoFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "demo.yaml", `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: Sheet1, csv_dir: out, columns: [id]}
min_rows: 1
demo_fixture: docs/fixtures/sample.html
allowed_domains: [example.com]
`)
	assert.Empty(t, ValidateFile(path))
}

func TestValidateFile_Problems(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing file",
			content: "",
			want:    "Config file not found",
		},
		{
			name:    "not a mapping",
			content: "- a\n- b\n",
			want:    "Config must be a mapping",
		},
		{
			name:    "yaml error",
			content: "name: [unterminated\n",
			want:    "YAML parse error",
		},
		{
			name: "missing selectors",
			content: `
name: example
urls: [https://example.com]
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: Sheet1}
min_rows: 1
`,
			want: "Missing required field: selectors",
		},
		{
			name: "missing sheet tab",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: none}
dedupe_keys: [id]
output: {csv_dir: out}
min_rows: 1
`,
			want: "output.sheet_tab",
		},
		{
			name: "non http url",
			content: `
name: example
urls: [ftp://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "URL must be http(s)",
		},
		{
			name: "only item selector",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row}
pagination: {type: none}
dedupe_keys: []
output: {sheet_tab: S}
min_rows: 1
`,
			want: "at least one field besides 'item'",
		},
		{
			name: "unknown dedupe key",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: none}
dedupe_keys: [title]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "dedupe_keys must reference existing selector fields",
		},
		{
			name: "query_param incomplete",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: query_param, param: page}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "query_param requires param, start, max_pages",
		},
		{
			name: "next_link without selector",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: next_link}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "next_link requires next_selector",
		},
		{
			name: "bad pagination type",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: scroll}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "pagination.type must be",
		},
		{
			name: "allowed domains not strings",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: .row-id}
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
allowed_domains: [[a]]
`,
			want: "allowed_domains must be a list of domain strings",
		},
		{
			name: "invalid css",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: "div[unclosed"}
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "selectors.id is not a valid CSS selector",
		},
		{
			name: "unknown modifier",
			content: `
name: example
urls: [https://example.com]
selectors: {item: .row, id: ".row-id::html"}
pagination: {type: none}
dedupe_keys: [id]
output: {sheet_tab: S}
min_rows: 1
`,
			want: "unknown modifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := dir + "/missing.yaml"
			if tt.content != "" {
				path = writeConfig(t, dir, "site.yaml", tt.content)
			}
			problems := ValidateFile(path)
			require.NotEmpty(t, problems)
			assert.True(t, containsProblem(problems, tt.want), "want %q in %v", tt.want, problems)
		})
	}
}

func TestSiteConfig_Validate(t *testing.T) {
	base := func() *SiteConfig {
		cfg := &SiteConfig{
			Name:       "s",
			URLs:       []string{"https://example.com"},
			Selectors:  Selectors{Item: ".row", Fields: []FieldSelector{{"id", ".id"}}},
			DedupeKeys: []string{"id"},
			Output:     OutputConfig{SheetTab: "S"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		cfg.AllowedDomains = []string{"example.com"}
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("warnings", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.RPS = 0
		cfg.Pagination.Strategy = NextLinkPagination{NextSelector: "a.next"}
		cfg.Output.Columns = []string{"id", "extra"}
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.True(t, containsProblem(warnings, "throttling disabled"))
		assert.True(t, containsProblem(warnings, "no max_pages"))
		assert.True(t, containsProblem(warnings, `"extra"`))
		assert.True(t, containsProblem(warnings, "allowed_domains is empty"))
	})

	t.Run("errors", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.RPS = -1
		cfg.Pagination.Strategy = QueryParamPagination{Param: "", MaxPages: 0}
		cfg.Auth = AuthConfig{Type: "basic"}
		_, err := cfg.Validate()
		require.ErrorIs(t, err, utils.ErrConfigValidation)
		assert.Contains(t, err.Error(), "rate_limit.rps cannot be negative")
		assert.Contains(t, err.Error(), "non-empty param")
		assert.Contains(t, err.Error(), "max_pages must be >= 1")
		assert.Contains(t, err.Error(), "auth basic requires")
	})
}
