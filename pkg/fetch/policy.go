package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/parse"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// PolicyGate decides whether a URL may be fetched. Checks run in order:
// local schemes pass, then the domain allow-list, then demo mode passes,
// then robots.txt.
type PolicyGate struct {
	site    string
	allowed map[string]struct{}
	demo    bool
	robots  *RobotsCache
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewPolicyGate builds the gate for one site run. An empty allowed_domains
// list means every host is permitted. m may be nil.
func NewPolicyGate(site *config.SiteConfig, robots *RobotsCache, log *logrus.Entry, m *metrics.Metrics) *PolicyGate {
	allowed := make(map[string]struct{}, len(site.AllowedDomains))
	for _, d := range site.AllowedDomains {
		allowed[strings.ToLower(d)] = struct{}{}
	}
	return &PolicyGate{
		site:    site.Name,
		allowed: allowed,
		demo:    site.DemoMode,
		robots:  robots,
		log:     log,
		metrics: m,
	}
}

// Check returns nil when u may be fetched, or an error wrapping
// utils.ErrPolicyDenied. Denials are logged at error level.
func (g *PolicyGate) Check(ctx context.Context, u *url.URL) error {
	if !parse.IsNetworkScheme(u) {
		return nil
	}

	if len(g.allowed) > 0 {
		if _, ok := g.allowed[strings.ToLower(u.Host)]; !ok {
			g.log.WithField("url", u.String()).Error("URL not in allowed domains")
			g.metrics.PolicyDenied(g.site, "domain")
			return fmt.Errorf("%w: %w: %s", utils.ErrPolicyDenied, utils.ErrDomainNotAllowed, u.Host)
		}
	}

	if g.demo {
		return nil
	}

	if g.robots != nil && !g.robots.Allowed(ctx, u) {
		g.log.WithField("url", u.String()).Error("Blocked by robots.txt")
		g.metrics.PolicyDenied(g.site, "robots")
		return fmt.Errorf("%w: %w: %s", utils.ErrPolicyDenied, utils.ErrRobotsDisallowed, u.String())
	}
	return nil
}

// Allowed is Check for a raw URL, reduced to a boolean. Unparseable URLs are denied.
func (g *PolicyGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		g.log.WithField("url", rawURL).Errorf("Policy check on unparseable URL: %v", err)
		return false
	}
	return g.Check(ctx, u) == nil
}
