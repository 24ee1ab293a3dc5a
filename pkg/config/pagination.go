package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PaginationKind identifies a pagination strategy.
type PaginationKind int

const (
	PaginationNone PaginationKind = iota
	PaginationQueryParam
	PaginationNextLink
)

// String returns the YAML name of the kind.
func (k PaginationKind) String() string {
	switch k {
	case PaginationNone:
		return "none"
	case PaginationQueryParam:
		return "query_param"
	case PaginationNextLink:
		return "next_link"
	default:
		return fmt.Sprintf("PaginationKind(%d)", int(k))
	}
}

// ParsePaginationKind maps a YAML type name to its kind.
func ParsePaginationKind(s string) (PaginationKind, bool) {
	switch s {
	case "none", "":
		return PaginationNone, true
	case "query_param":
		return PaginationQueryParam, true
	case "next_link":
		return PaginationNextLink, true
	}
	return 0, false
}

// Strategy is one pagination variant. Implemented only by the types in this file.
type Strategy interface {
	Kind() PaginationKind
	isStrategy()
}

// NoPagination fetches each seed exactly once.
type NoPagination struct{}

// QueryParamPagination walks page numbers through a query parameter.
type QueryParamPagination struct {
	Param    string
	Start    int
	MaxPages int
}

// NextLinkPagination follows the href of NextSelector until it disappears.
// MaxPages of zero leaves the chain unbounded.
type NextLinkPagination struct {
	NextSelector string
	MaxPages     int
}

func (NoPagination) Kind() PaginationKind         { return PaginationNone }
func (QueryParamPagination) Kind() PaginationKind { return PaginationQueryParam }
func (NextLinkPagination) Kind() PaginationKind   { return PaginationNextLink }

func (NoPagination) isStrategy()         {}
func (QueryParamPagination) isStrategy() {}
func (NextLinkPagination) isStrategy()   {}

// PaginationConfig wraps the configured strategy so it can be decoded from YAML.
// A zero value means no pagination.
type PaginationConfig struct {
	Strategy Strategy
}

// Kind returns the configured kind, treating an unset strategy as none.
func (p PaginationConfig) Kind() PaginationKind {
	if p.Strategy == nil {
		return PaginationNone
	}
	return p.Strategy.Kind()
}

// paginationYAML is the flat on-disk form.
type paginationYAML struct {
	Type         string `yaml:"type"`
	Param        string `yaml:"param,omitempty"`
	Start        *int   `yaml:"start,omitempty"`
	MaxPages     *int   `yaml:"max_pages,omitempty"`
	NextSelector string `yaml:"next_selector,omitempty"`
}

// UnmarshalYAML decodes the flat form into a strategy variant.
func (p *PaginationConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw paginationYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	kind, ok := ParsePaginationKind(raw.Type)
	if !ok {
		return fmt.Errorf("line %d: pagination.type must be query_param, next_link, or none (got %q)", node.Line, raw.Type)
	}

	switch kind {
	case PaginationQueryParam:
		qp := QueryParamPagination{Param: raw.Param, Start: 1}
		if raw.Start != nil {
			qp.Start = *raw.Start
		}
		if raw.MaxPages != nil {
			qp.MaxPages = *raw.MaxPages
		}
		p.Strategy = qp
	case PaginationNextLink:
		nl := NextLinkPagination{NextSelector: raw.NextSelector}
		if raw.MaxPages != nil {
			nl.MaxPages = *raw.MaxPages
		}
		p.Strategy = nl
	default:
		p.Strategy = NoPagination{}
	}
	return nil
}

// MarshalYAML writes the strategy back in its flat form.
func (p PaginationConfig) MarshalYAML() (any, error) {
	switch s := p.Strategy.(type) {
	case QueryParamPagination:
		return paginationYAML{Type: "query_param", Param: s.Param, Start: &s.Start, MaxPages: &s.MaxPages}, nil
	case NextLinkPagination:
		out := paginationYAML{Type: "next_link", NextSelector: s.NextSelector}
		if s.MaxPages > 0 {
			out.MaxPages = &s.MaxPages
		}
		return out, nil
	default:
		return paginationYAML{Type: "none"}, nil
	}
}
