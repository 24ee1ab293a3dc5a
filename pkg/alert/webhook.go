// Package alert posts run failures to a chat webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const (
	// EnvWebhookURL names the environment variable holding the webhook URL.
	EnvWebhookURL = "SLACK_WEBHOOK_URL"

	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 10 * time.Second

	// maxResponseBody caps how much of an error response is kept for the log.
	maxResponseBody = 4 << 10
)

// Alert describes a failed run.
type Alert struct {
	Site     string
	RunID    string
	ExitCode models.ExitCode
	Error    string
}

// Text renders the message posted to the webhook.
func (a Alert) Text() string {
	return fmt.Sprintf("web-to-sheets run failed: site=%s, run_id=%s, exit_code=%d", a.Site, a.RunID, a.ExitCode)
}

type payload struct {
	Text string `json:"text"`
}

// Notifier delivers alerts. A Notifier without a URL does nothing.
type Notifier struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

// NewNotifier creates a notifier posting to webhookURL.
func NewNotifier(webhookURL string, log *logrus.Entry) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: DefaultTimeout},
		log:    log,
	}
}

// FromEnv creates a notifier from SLACK_WEBHOOK_URL.
func FromEnv(log *logrus.Entry) *Notifier {
	return NewNotifier(os.Getenv(EnvWebhookURL), log)
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Notify posts a. It is a no-op when no webhook is configured.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload{Text: a.Text()})
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %w", utils.ErrAlert, err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrAlert, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrAlert, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		n.log.WithField("status", resp.StatusCode).Debugf("Webhook response: %s", snippet)
		return fmt.Errorf("%w: status %d (%s)", utils.ErrAlert, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	n.log.WithFields(logrus.Fields{"site": a.Site, "run_id": a.RunID}).Info("Failure alert sent")
	return nil
}
