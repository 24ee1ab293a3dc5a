// Package extract turns fetched HTML into records using declarative CSS selectors.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// TextListSeparator joins the values of a textlist field.
const TextListSeparator = ", "

type modifierKind int

const (
	modText modifierKind = iota
	modAttr
	modTextList
)

type fieldRule struct {
	name     string
	matcher  cascadia.Selector
	modifier modifierKind
	attr     string
}

// Extractor applies a site's selectors to parsed pages. Selectors are compiled
// once; an Extractor is safe for concurrent use.
type Extractor struct {
	item   cascadia.Selector
	fields []fieldRule
	log    *logrus.Entry
}

// New compiles the item selector and every field selector.
func New(sel config.Selectors, log *logrus.Entry) (*Extractor, error) {
	item, err := cascadia.Compile(sel.Item)
	if err != nil {
		return nil, fmt.Errorf("%w: item selector %q: %w", utils.ErrConfigValidation, sel.Item, err)
	}

	e := &Extractor{item: item, log: log, fields: make([]fieldRule, 0, len(sel.Fields))}
	for _, f := range sel.Fields {
		rule, err := compileField(f)
		if err != nil {
			return nil, err
		}
		e.fields = append(e.fields, rule)
	}
	return e, nil
}

func compileField(f config.FieldSelector) (fieldRule, error) {
	css, modifier := f.Split()
	m, err := cascadia.Compile(css)
	if err != nil {
		return fieldRule{}, fmt.Errorf("%w: selector %s=%q: %w", utils.ErrConfigValidation, f.Name, css, err)
	}

	rule := fieldRule{name: f.Name, matcher: m}
	switch {
	case modifier == "":
		rule.modifier = modText
	case modifier == "textlist":
		rule.modifier = modTextList
	case strings.HasPrefix(modifier, "attr(") && strings.HasSuffix(modifier, ")"):
		rule.modifier = modAttr
		rule.attr = strings.TrimSpace(modifier[len("attr(") : len(modifier)-1])
		if rule.attr == "" {
			return fieldRule{}, fmt.Errorf("%w: selector %s: empty attr()", utils.ErrConfigValidation, f.Name)
		}
	default:
		return fieldRule{}, fmt.Errorf("%w: selector %s: unknown modifier %q", utils.ErrConfigValidation, f.Name, modifier)
	}
	return rule, nil
}

// Parse builds a document from a page body.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

// Extract returns one record per item container that matched at least one field,
// in document order. Fields whose selector matches nothing are omitted.
func (e *Extractor) Extract(doc *goquery.Document) []models.Record {
	containers := doc.FindMatcher(e.item)
	records := make([]models.Record, 0, containers.Length())

	containers.Each(func(_ int, container *goquery.Selection) {
		fields := make([]models.Field, 0, len(e.fields))
		for _, rule := range e.fields {
			if value, ok := rule.apply(container); ok {
				fields = append(fields, models.Field{Name: rule.name, Value: value})
			}
		}
		if len(fields) > 0 {
			records = append(records, models.NewRecord(fields...))
		}
	})

	e.log.WithFields(logrus.Fields{"containers": containers.Length(), "records": len(records)}).Debug("Extracted records")
	return records
}

// ExtractBody parses body and extracts its records.
func (e *Extractor) ExtractBody(body []byte) ([]models.Record, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return e.Extract(doc), nil
}

func (r fieldRule) apply(container *goquery.Selection) (string, bool) {
	matches := container.FindMatcher(r.matcher)
	if matches.Length() == 0 {
		return "", false
	}

	switch r.modifier {
	case modAttr:
		return matches.First().Attr(r.attr)
	case modTextList:
		texts := make([]string, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				texts = append(texts, t)
			}
		})
		return strings.Join(texts, TextListSeparator), true
	default:
		return strings.TrimSpace(matches.First().Text()), true
	}
}
