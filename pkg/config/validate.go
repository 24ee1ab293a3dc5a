package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

var requiredFields = []string{"name", "urls", "selectors", "pagination", "dedupe_keys", "output", "min_rows"}

// ValidateFile checks a site definition on disk and returns every problem found.
// An empty result means the file can be loaded.
func ValidateFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{fmt.Sprintf("Config file not found: %s", path)}
		}
		return []string{fmt.Sprintf("Config file unreadable: %v", err)}
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []string{fmt.Sprintf("YAML parse error: %v", err)}
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return []string{"Config must be a mapping of keys to values"}
	}

	problems := validateShape(doc)
	if len(problems) > 0 {
		return problems
	}

	var cfg SiteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return []string{fmt.Sprintf("YAML decode error: %v", err)}
	}
	cfg.ApplyDefaults()
	_, semantic := cfg.check()
	return semantic
}

// validateShape checks field presence and types on the untyped document.
func validateShape(doc map[string]any) []string {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	for _, req := range requiredFields {
		if _, ok := doc[req]; !ok {
			add("Missing required field: %s", req)
		}
	}

	if v, ok := doc["urls"]; ok {
		urls, isList := v.([]any)
		if !isList || len(urls) < 1 {
			add("urls must be a non-empty list")
		} else {
			for _, u := range urls {
				s, _ := u.(string)
				if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
					add("URL must be http(s): %v", u)
				}
			}
		}
	}

	if v, ok := doc["selectors"]; ok {
		selectors, isMap := v.(map[string]any)
		if !isMap {
			add("selectors must be a mapping of field names to selectors")
		} else {
			if _, hasItem := selectors[ItemField]; !hasItem {
				add("selectors must include 'item'")
			}
			others := 0
			for k := range selectors {
				if k != ItemField {
					others++
				}
			}
			if others < 1 {
				add("selectors must have at least one field besides 'item'")
			}
			if keys, isList := doc["dedupe_keys"].([]any); isList {
				for _, k := range keys {
					name, _ := k.(string)
					if _, found := selectors[name]; !found {
						add("dedupe_keys must reference existing selector fields (unknown: %v)", k)
					}
				}
			}
		}
	}

	if v, ok := doc["dedupe_keys"]; ok {
		if _, isList := v.([]any); !isList {
			add("dedupe_keys must be a list of selector field names")
		}
	}

	if v, ok := doc["pagination"]; ok {
		pagination, isMap := v.(map[string]any)
		if !isMap {
			add("pagination must be a mapping with pagination settings")
		} else {
			typ, _ := pagination["type"].(string)
			switch typ {
			case "query_param":
				for _, f := range []string{"param", "start", "max_pages"} {
					if _, has := pagination[f]; !has {
						add("pagination query_param requires param, start, max_pages")
						break
					}
				}
			case "next_link":
				if _, has := pagination["next_selector"]; !has {
					add("pagination next_link requires next_selector")
				}
			case "none":
			default:
				add("pagination.type must be query_param, next_link, or none")
			}
		}
	}

	if v, ok := doc["output"]; ok {
		output, isMap := v.(map[string]any)
		if !isMap {
			add("output must be a mapping with export settings")
		} else {
			if tab, _ := output["sheet_tab"].(string); tab == "" {
				add("output.sheet_tab is required")
			}
			if csvDir, has := output["csv_dir"]; has {
				if _, isStr := csvDir.(string); !isStr {
					add("output.csv_dir must be a string path when provided")
				}
			}
		}
	}

	if v, ok := doc["min_rows"]; ok {
		if n, isInt := v.(int); !isInt || n < 0 {
			add("min_rows must be a non-negative integer")
		}
	}

	if v, ok := doc["demo_fixture"]; ok {
		if _, isStr := v.(string); !isStr {
			add("demo_fixture must be a string path")
		}
	}

	if v, ok := doc["allowed_domains"]; ok {
		domains, isList := v.([]any)
		valid := isList
		for _, d := range domains {
			if _, isStr := d.(string); !isStr {
				valid = false
			}
		}
		if !valid {
			add("allowed_domains must be a list of domain strings")
		}
	}

	return problems
}

// Validate checks a decoded config for problems that only make sense once typed:
// selector syntax, modifiers, pagination bounds, auth settings.
// Returns collected warnings and a fatal error wrapping ErrConfigValidation.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	warnings, problems := c.check()
	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %s", utils.ErrConfigValidation, strings.Join(problems, "; "))
	}
	return warnings, nil
}

func (c *SiteConfig) check() (warnings, problems []string) {
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Name == "" {
		add("name must not be empty")
	}
	if len(c.URLs) == 0 {
		add("urls must be a non-empty list")
	}

	// --- Selectors ---
	if c.Selectors.Item == "" {
		add("selectors must include 'item'")
	} else if _, err := cascadia.Compile(c.Selectors.Item); err != nil {
		add("selectors.item is not a valid CSS selector: %v", err)
	}
	if len(c.Selectors.Fields) == 0 {
		add("selectors must have at least one field besides 'item'")
	}
	for _, f := range c.Selectors.Fields {
		css, modifier := f.Split()
		if _, err := cascadia.Compile(css); err != nil {
			add("selectors.%s is not a valid CSS selector: %v", f.Name, err)
		}
		if modifier != "" && !isKnownModifier(modifier) {
			add("selectors.%s has unknown modifier %q (expected attr(name) or textlist)", f.Name, modifier)
		}
	}
	for _, k := range c.DedupeKeys {
		if !c.Selectors.Has(k) {
			add("dedupe_keys must reference existing selector fields (unknown: %s)", k)
		}
	}
	for _, col := range c.Output.Columns {
		if !c.Selectors.Has(col) {
			warnings = append(warnings, fmt.Sprintf("output.columns entry %q is not a selector field; it will export empty", col))
		}
	}

	// --- Pagination ---
	switch p := c.Pagination.Strategy.(type) {
	case QueryParamPagination:
		if p.Param == "" {
			add("pagination query_param requires a non-empty param")
		}
		if p.MaxPages < 1 {
			add("pagination.max_pages must be >= 1 for query_param")
		}
	case NextLinkPagination:
		if p.NextSelector == "" {
			add("pagination next_link requires next_selector")
		} else if _, err := cascadia.Compile(p.NextSelector); err != nil {
			add("pagination.next_selector is not a valid CSS selector: %v", err)
		}
		if p.MaxPages < 0 {
			add("pagination.max_pages cannot be negative")
		}
		if p.MaxPages == 0 {
			warnings = append(warnings, "pagination next_link has no max_pages; the chain runs until no next link is found")
		}
	}

	// --- Rate limit / output / auth ---
	if c.RateLimit.RPS < 0 {
		add("rate_limit.rps cannot be negative")
	}
	if c.RateLimit.RPS == 0 {
		warnings = append(warnings, "rate_limit.rps is 0, throttling disabled")
	}
	if c.Output.SheetTab == "" {
		add("output.sheet_tab is required")
	}
	if c.MinRows < 0 {
		add("min_rows must be a non-negative integer")
	}
	switch c.Auth.Type {
	case "", "none":
	case "basic":
		if c.Auth.UsernameEnv == "" || c.Auth.PasswordEnv == "" {
			add("auth basic requires username_env and password_env")
		}
	case "bearer":
		if c.Auth.TokenEnv == "" {
			add("auth bearer requires token_env")
		}
	default:
		add("auth.type must be none, basic, or bearer")
	}
	if len(c.AllowedDomains) == 0 {
		warnings = append(warnings, "allowed_domains is empty, every host is permitted")
	}

	return warnings, problems
}

func isKnownModifier(m string) bool {
	if m == "textlist" {
		return true
	}
	return strings.HasPrefix(m, "attr(") && strings.HasSuffix(m, ")") && len(m) > len("attr()")
}
