package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestNotify_PostsText(t *testing.T) {
	var got map[string]string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, testLogger())
	err := n.Notify(context.Background(), Alert{Site: "quotes", RunID: "abc", ExitCode: models.ExitSiteError})
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "web-to-sheets run failed: site=quotes, run_id=abc, exit_code=4", got["text"])
}

func TestNotify_Non2xxIsAlertError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL, testLogger()).Notify(context.Background(), Alert{Site: "s", RunID: "r", ExitCode: 2})
	require.ErrorIs(t, err, utils.ErrAlert)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, "Alert_Failed", utils.CategorizeError(err))
}

func TestNotify_DisabledIsNoop(t *testing.T) {
	n := NewNotifier("", testLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), Alert{Site: "s"}))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), Alert{Site: "s"}))
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvWebhookURL, "http://hooks.example.invalid/x")
	assert.True(t, FromEnv(testLogger()).Enabled())

	t.Setenv(EnvWebhookURL, "")
	assert.False(t, FromEnv(testLogger()).Enabled())
}
