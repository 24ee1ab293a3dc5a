// Package export writes deduplicated records to files and spreadsheets.
package export

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// Sink receives the records of one run.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []models.Record) error
}

// Rows projects records onto columns; absent fields become "".
func Rows(records []models.Record, columns []string) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Values(columns))
	}
	return rows
}

// MultiSink writes to each sink in order and stops at the first failure.
type MultiSink struct {
	sinks []Sink
	log   *logrus.Entry
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(log *logrus.Entry, sinks ...Sink) *MultiSink {
	m := &MultiSink{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Name() string { return "multi" }

// Names lists the wrapped sinks.
func (m *MultiSink) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Write implements Sink. An empty record set writes nothing.
func (m *MultiSink) Write(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		m.log.Info("No new records; skipping export")
		return nil
	}
	for _, s := range m.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Write(ctx, records); err != nil {
			return fmt.Errorf("%w: %s: %w", utils.ErrExport, s.Name(), err)
		}
		m.log.WithField("sink", s.Name()).Infof("Exported %d records", len(records))
	}
	return nil
}

// SheetsEnv carries the Google Sheets settings read from the environment.
type SheetsEnv struct {
	SheetID         string
	CredentialsFile string
}

const (
	EnvSheetID             = "SHEET_ID"
	EnvCredentials         = "GOOGLE_APPLICATION_CREDENTIALS"
	DefaultCredentialsFile = "service_account.json"
)

// SheetsEnvFromOS reads SHEET_ID and the credentials path, falling back to
// service_account.json in the working directory.
func SheetsEnvFromOS() SheetsEnv {
	creds := os.Getenv(EnvCredentials)
	if creds == "" {
		creds = DefaultCredentialsFile
	}
	return SheetsEnv{SheetID: os.Getenv(EnvSheetID), CredentialsFile: creds}
}

// Configured reports whether both a sheet id and a readable credentials file exist.
func (e SheetsEnv) Configured() bool {
	if e.SheetID == "" || e.CredentialsFile == "" {
		return false
	}
	_, err := os.Stat(e.CredentialsFile)
	return err == nil
}

// ForSite builds the sinks a site's output section asks for: CSV always, JSONL
// and XLSX when enabled, Google Sheets when configured and not in demo mode.
func ForSite(ctx context.Context, site *config.SiteConfig, env SheetsEnv, log *logrus.Entry) (*MultiSink, error) {
	columns := site.Columns()
	dir := site.Output.CSVDir

	sinks := []Sink{NewCSVSink(dir, site.Name, columns)}
	if site.Output.JSONL {
		sinks = append(sinks, NewJSONLSink(dir, site.Name, columns))
	}
	if site.Output.XLSX {
		sinks = append(sinks, NewXLSXSink(dir, site.Name, site.Output.SheetTab, columns))
	}

	switch {
	case site.DemoMode:
		log.Debug("Demo mode; Google Sheets export disabled")
	case !env.Configured():
		log.Info("Sheets not configured, skipping")
	default:
		sheets, err := NewSheetsSink(ctx, env, site.Output.SheetTab, columns, log)
		if err != nil {
			return nil, fmt.Errorf("%w: sheets: %w", utils.ErrExport, err)
		}
		sinks = append(sinks, sheets)
	}
	return NewMultiSink(log, sinks...), nil
}
