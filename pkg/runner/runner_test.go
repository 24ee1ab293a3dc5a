package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/alert"
	"github.com/Sriram-PR/web-to-sheets/pkg/export"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func noSleep(context.Context, time.Duration) error { return nil }

const quotesHTML = `<html><body>
<div class="quote"><span class="text">one</span><small class="author">A</small></div>
<div class="quote"><span class="text">two</span><small class="author">B</small></div>
<div class="quote"><span class="text">three</span><small class="author">C</small></div>
</body></html>`

func newQuoteServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = io.WriteString(w, quotesHTML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeSite(t *testing.T, configDir, name, srvURL, outDir string, minRows int) {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	body := fmt.Sprintf(`name: %s
urls:
  - %s/list
selectors:
  item: .quote
  text: .text
  author: .author
pagination:
  type: none
rate_limit:
  rps: 0
  burst: 1
allowed_domains:
  - %s
dedupe_keys: [text]
output:
  sheet_tab: Quotes
  csv_dir: %s
min_rows: %d
`, name, srvURL, u.Host, outDir, minRows)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, name+".yaml"), []byte(body), 0644))
}

type alertSink struct {
	*httptest.Server
	mu    sync.Mutex
	texts []string
}

func newAlertSink(t *testing.T) *alertSink {
	t.Helper()
	a := &alertSink{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.texts = append(a.texts, body["text"])
		a.mu.Unlock()
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *alertSink) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func baseOptions(t *testing.T, configDir, site string) Options {
	return Options{
		Site:         site,
		ConfigDir:    configDir,
		StoreKind:    storage.KindSQLite,
		StateDir:     t.TempDir(),
		Logger:       quietLogger(),
		FetchOptions: []fetch.FetcherOption{fetch.WithSleep(noSleep)},
	}
}

func TestRun_LiveThenDedupedToInsufficient(t *testing.T) {
	configDir, outDir := t.TempDir(), t.TempDir()
	srv := newQuoteServer(t, http.StatusOK)
	writeSite(t, configDir, "live", srv.URL, outDir, 1)
	alerts := newAlertSink(t)
	m := metrics.New()

	opts := baseOptions(t, configDir, "live")
	opts.Metrics = m
	opts.Notifier = alert.NewNotifier(alerts.URL, logrus.NewEntry(quietLogger()))

	first := Run(context.Background(), opts)
	require.Equal(t, models.ExitOK, first.ExitCode, first.Error)
	assert.Equal(t, models.RunStatusSuccess, first.Status)
	assert.Equal(t, 1, first.Seeds)
	assert.Equal(t, 1, first.PagesFetched)
	assert.Equal(t, 3, first.RecordsExtracted)
	assert.Equal(t, 3, first.RecordsKept)
	assert.NotEmpty(t, first.RunID)
	assert.Empty(t, alerts.received())

	csvData, err := os.ReadFile(filepath.Join(outDir, "live.csv"))
	require.NoError(t, err)
	assert.Equal(t, "text,author\none,A\ntwo,B\nthree,C\n", string(csvData))
	assert.FileExists(t, filepath.Join(outDir, "live.run.yaml"))

	second := Run(context.Background(), opts)
	assert.Equal(t, models.ExitInsufficientData, second.ExitCode)
	assert.Equal(t, models.RunStatusInsufficientData, second.Status)
	assert.Contains(t, second.Error, "0 < 1")
	assert.NotEqual(t, first.RunID, second.RunID)

	require.Len(t, alerts.received(), 1)
	assert.Equal(t, fmt.Sprintf("web-to-sheets run failed: site=live, run_id=%s, exit_code=2", second.RunID), alerts.received()[0])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("live", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("live", "insufficient_data")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsKept.WithLabelValues("live")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RecordsExtracted.WithLabelValues("live")))
}

func TestRun_UnknownSiteIsConfigError(t *testing.T) {
	res := Run(context.Background(), baseOptions(t, t.TempDir(), "nope"))
	assert.Equal(t, models.ExitConfigError, res.ExitCode)
	assert.Equal(t, models.RunStatusConfigError, res.Status)
	assert.Contains(t, res.Error, "not found")
}

func TestRun_InvalidDefinitionIsConfigError(t *testing.T) {
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "bad.yaml"), []byte("name: bad\nurls: []\n"), 0644))

	res := Run(context.Background(), baseOptions(t, configDir, "bad"))
	assert.Equal(t, models.ExitConfigError, res.ExitCode)
	assert.Contains(t, res.Error, "Missing required field")
}

func TestRun_AllSeedsFailedIsSiteError(t *testing.T) {
	configDir := t.TempDir()
	srv := newQuoteServer(t, http.StatusNotFound)
	writeSite(t, configDir, "gone", srv.URL, t.TempDir(), 0)
	alerts := newAlertSink(t)

	opts := baseOptions(t, configDir, "gone")
	opts.Notifier = alert.NewNotifier(alerts.URL, logrus.NewEntry(quietLogger()))

	res := Run(context.Background(), opts)
	assert.Equal(t, models.ExitSiteError, res.ExitCode)
	assert.Equal(t, 1, res.SeedFailures)
	assert.Contains(t, res.Error, "404")
	assert.Len(t, alerts.received(), 1)
}

func TestRun_PolicyDeniedSeedsAreSkippedNotFailed(t *testing.T) {
	srv := newQuoteServer(t, http.StatusOK)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	tests := []struct {
		name    string
		minRows int
		code    models.ExitCode
		status  models.RunStatus
	}{
		{"no minimum", 0, models.ExitOK, models.RunStatusSuccess},
		{"minimum not met", 1, models.ExitInsufficientData, models.RunStatusInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configDir := t.TempDir()
			writeSite(t, configDir, "fenced", srv.URL, t.TempDir(), tt.minRows)
			path := filepath.Join(configDir, "fenced.yaml")
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			fenced := strings.Replace(string(data), "  - "+u.Host, "  - example.org", 1)
			require.NoError(t, os.WriteFile(path, []byte(fenced), 0644))

			m := metrics.New()
			opts := baseOptions(t, configDir, "fenced")
			opts.Metrics = m

			res := Run(context.Background(), opts)
			assert.Equal(t, tt.code, res.ExitCode, res.Error)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, 1, res.SeedsDenied)
			assert.Equal(t, 0, res.SeedFailures)
			assert.Equal(t, 0, res.PagesFetched)
			assert.NotContains(t, res.Error, "seeds failed")
			assert.Equal(t, 0, testutil.CollectAndCount(m.SeedFailures))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyDenials.WithLabelValues("fenced", "domain")))
		})
	}
}

func TestRun_ExportFailureKeepsRecordsUnseen(t *testing.T) {
	configDir := t.TempDir()
	srv := newQuoteServer(t, http.StatusOK)

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	writeSite(t, configDir, "live", srv.URL, blocker, 1)

	opts := baseOptions(t, configDir, "live")
	res := Run(context.Background(), opts)
	assert.Equal(t, models.ExitSiteError, res.ExitCode)
	assert.Contains(t, res.Error, "export error")

	outDir := t.TempDir()
	writeSite(t, configDir, "live", srv.URL, outDir, 1)
	res = Run(context.Background(), opts)
	require.Equal(t, models.ExitOK, res.ExitCode, res.Error)
	assert.Equal(t, 3, res.RecordsKept, "nothing was marked by the failed run")
}

func TestRun_DemoUsesFixtureAndMemoryStore(t *testing.T) {
	configDir, outDir, stateDir := t.TempDir(), t.TempDir(), t.TempDir()
	// A live URL that would fail; demo replaces it with the fixture.
	writeSite(t, configDir, "quotes", "http://127.0.0.1:1", outDir, 1)

	opts := baseOptions(t, configDir, "quotes")
	opts.Demo = true
	opts.WorkDir = filepath.Join("..", "..")
	opts.StateDir = stateDir
	opts.Sheets = export.SheetsEnv{SheetID: "would-be-used"}

	for i := 0; i < 2; i++ {
		res := Run(context.Background(), opts)
		require.Equal(t, models.ExitOK, res.ExitCode, res.Error)
		assert.Equal(t, 4, res.RecordsKept, "demo runs never persist dedupe state")
	}

	data, err := os.ReadFile(filepath.Join(outDir, "quotes.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Albert Einstein")
	assert.NoFileExists(t, filepath.Join(stateDir, storage.SQLiteFilename))
}

func TestRun_DemoMissingFixtureIsConfigError(t *testing.T) {
	configDir := t.TempDir()
	writeSite(t, configDir, "quotes", "http://127.0.0.1:1", t.TempDir(), 1)

	opts := baseOptions(t, configDir, "quotes")
	opts.Demo = true
	opts.WorkDir = t.TempDir()

	res := Run(context.Background(), opts)
	assert.Equal(t, models.ExitConfigError, res.ExitCode)
	assert.True(t, strings.Contains(res.Error, "demo fixture not found"))
}

func TestRun_PerRunLogFile(t *testing.T) {
	configDir, logDir := t.TempDir(), t.TempDir()
	srv := newQuoteServer(t, http.StatusOK)
	writeSite(t, configDir, "live", srv.URL, t.TempDir(), 1)

	opts := baseOptions(t, configDir, "live")
	opts.LogDir = logDir
	res := Run(context.Background(), opts)
	require.Equal(t, models.ExitOK, res.ExitCode, res.Error)

	files, err := filepath.Glob(filepath.Join(logDir, "live_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run finished")
	assert.Contains(t, string(data), res.RunID)
}
