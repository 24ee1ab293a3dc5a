// Package crawler drives the per-seed pagination loop and the crawl session of one site.
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/parse"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// State is the pagination state of one seed.
type State int

const (
	// Fetching means Current is the next URL to retrieve.
	Fetching State = iota
	// Advancing means a page was retrieved and the next URL is being computed.
	Advancing
	// Done is terminal.
	Done
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Advancing:
		return "advancing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Policy reports whether a URL may be fetched. Implemented by *fetch.PolicyGate.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Driver is the pagination state machine for a single seed URL.
// It is not safe for concurrent use; each seed owns its own Driver.
type Driver struct {
	seed     string
	strategy config.Strategy
	next     cascadia.Selector // next_link only
	policy   Policy
	log      *logrus.Entry

	state   State
	current string
	cursor  int // page number for query_param
	pages   int // pages fetched so far
	visited map[string]struct{}
}

// NewDriver prepares the first URL for seed. For query_param the seed's
// parameter is rewritten to the configured start value.
func NewDriver(seed string, strategy config.Strategy, policy Policy, log *logrus.Entry) (*Driver, error) {
	if strategy == nil {
		strategy = config.NoPagination{}
	}
	d := &Driver{
		seed:     seed,
		strategy: strategy,
		policy:   policy,
		log:      log.WithField("seed", seed),
		state:    Fetching,
		current:  seed,
		visited:  make(map[string]struct{}),
	}

	switch s := strategy.(type) {
	case config.QueryParamPagination:
		first, err := parse.ApplyQueryParam(seed, s.Param, strconv.Itoa(s.Start))
		if err != nil {
			return nil, err
		}
		d.current = first
		d.cursor = s.Start
	case config.NextLinkPagination:
		sel, err := cascadia.Compile(s.NextSelector)
		if err != nil {
			return nil, fmt.Errorf("%w: next_selector %q: %w", utils.ErrConfigValidation, s.NextSelector, err)
		}
		d.next = sel
	}
	return d, nil
}

// State returns the current state.
func (d *Driver) State() State { return d.state }

// Current returns the URL to fetch while in the Fetching state.
func (d *Driver) Current() string { return d.current }

// Pages returns the number of pages fetched so far.
func (d *Driver) Pages() int { return d.pages }

// Advance records that Current was fetched and parsed into doc, then moves to
// the next URL or to Done. A denied next URL ends pagination without error.
func (d *Driver) Advance(ctx context.Context, doc *goquery.Document) {
	if d.state != Fetching {
		return
	}
	d.state = Advancing
	d.pages++
	d.visited[d.current] = struct{}{}

	next, ok := d.nextURL(doc)
	if !ok {
		d.finish("pagination complete")
		return
	}
	if _, seen := d.visited[next]; seen {
		d.log.WithField("next_url", next).Warn("Next page was already visited; stopping")
		d.finish("pagination cycle")
		return
	}
	if d.policy != nil && !d.policy.Allowed(ctx, next) {
		d.log.WithField("next_url", next).Error("Next page denied by policy; stopping")
		d.finish("policy denied")
		return
	}

	d.current = next
	d.state = Fetching
}

// Stop ends pagination early, e.g. after a fetch failure.
func (d *Driver) Stop() {
	d.finish("stopped")
}

func (d *Driver) finish(reason string) {
	d.state = Done
	d.log.WithFields(logrus.Fields{"pages": d.pages, "reason": reason}).Debug("Pagination finished")
}

// nextURL computes the URL after the page just fetched. ok is false when the
// strategy has nothing further to fetch.
func (d *Driver) nextURL(doc *goquery.Document) (string, bool) {
	switch s := d.strategy.(type) {
	case config.QueryParamPagination:
		if d.pages >= s.MaxPages {
			return "", false
		}
		d.cursor++
		next, err := parse.ApplyQueryParam(d.seed, s.Param, strconv.Itoa(d.cursor))
		if err != nil {
			d.log.Errorf("Failed to build next page URL: %v", err)
			return "", false
		}
		return next, true

	case config.NextLinkPagination:
		if s.MaxPages > 0 && d.pages >= s.MaxPages {
			return "", false
		}
		if doc == nil {
			return "", false
		}
		link := doc.FindMatcher(d.next).First()
		href, exists := link.Attr("href")
		if link.Length() == 0 || !exists || href == "" {
			return "", false
		}
		base, err := url.Parse(d.current)
		if err != nil {
			return "", false
		}
		resolved, err := parse.ResolveReference(base, href)
		if err != nil {
			d.log.Warnf("Ignoring unparseable next link %q: %v", href, err)
			return "", false
		}
		return resolved.String(), true

	default:
		// none: a single page regardless of content or max_pages
		return "", false
	}
}
