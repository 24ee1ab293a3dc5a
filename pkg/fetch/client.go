package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
)

// maxRedirects matches the default net/http redirect limit.
const maxRedirects = 10

// NewClient creates the HTTP client used for every request of one site run,
// robots.txt lookups included. Connect timeout bounds dialing; read timeout
// bounds waiting for response headers (body reads are bounded by the Fetcher).
func NewClient(site *config.SiteConfig, log *logrus.Entry) *http.Client {
	cfg := site.HTTPClient
	log.Debug("Initializing HTTP client...")

	dialer := &net.Dialer{
		Timeout:   site.Timeouts.Connect.Std(),
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  site.Timeouts.Read.Std(),
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	var rt http.RoundTripper = transport
	if site.Auth.Type == "basic" || site.Auth.Type == "bearer" {
		rt = newAuthTransport(transport, site.Auth, log)
	}

	return &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
