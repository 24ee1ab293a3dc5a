package fetch

import (
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
)

// authTransport attaches credentials read from the environment to every request.
// Credentials are resolved per request so a rotated secret is picked up without
// rebuilding the client.
type authTransport struct {
	base http.RoundTripper
	auth config.AuthConfig
	log  *logrus.Entry
}

func newAuthTransport(base http.RoundTripper, auth config.AuthConfig, log *logrus.Entry) *authTransport {
	return &authTransport{base: base, auth: auth, log: log}
}

// RoundTrip implements http.RoundTripper. The caller's request is never modified.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Type {
	case "basic":
		user, pass := os.Getenv(t.auth.UsernameEnv), os.Getenv(t.auth.PasswordEnv)
		if user == "" && pass == "" {
			t.log.Warnf("auth basic configured but %s/%s are unset", t.auth.UsernameEnv, t.auth.PasswordEnv)
			break
		}
		req = req.Clone(req.Context())
		req.SetBasicAuth(user, pass)
	case "bearer":
		token := os.Getenv(t.auth.TokenEnv)
		if token == "" {
			t.log.Warnf("auth bearer configured but %s is unset", t.auth.TokenEnv)
			break
		}
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(req)
}
