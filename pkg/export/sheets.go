package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
)

// SheetsSink appends rows to one tab of a Google spreadsheet. The header row is
// written first when the tab is empty.
type SheetsSink struct {
	svc     *sheets.Service
	sheetID string
	tab     string
	columns []string
	log     *logrus.Entry
}

// NewSheetsSink authenticates with the service account file in env unless opts
// supply their own client.
func NewSheetsSink(ctx context.Context, env SheetsEnv, tab string, columns []string, log *logrus.Entry, opts ...option.ClientOption) (*SheetsSink, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(env.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsSink{svc: svc, sheetID: env.SheetID, tab: tab, columns: columns, log: log}, nil
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Write(ctx context.Context, records []models.Record) error {
	empty, err := s.tabEmpty(ctx)
	if err != nil {
		return err
	}

	values := make([][]any, 0, len(records)+1)
	if empty {
		values = append(values, toRow(s.columns))
	}
	for _, row := range Rows(records, s.columns) {
		values = append(values, toRow(row))
	}

	resp, err := s.svc.Spreadsheets.Values.Append(s.sheetID, a1Range(s.tab, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", s.tab, err)
	}

	updated := int64(len(values))
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRows
	}
	s.log.WithFields(logrus.Fields{"tab": s.tab, "header": empty}).Infof("Exported %d rows to Sheets", updated)
	return nil
}

func (s *SheetsSink) tabEmpty(ctx context.Context) (bool, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.sheetID, a1Range(s.tab, "1:1")).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read header of %s: %w", s.tab, err)
	}
	return len(resp.Values) == 0, nil
}

// a1Range quotes the tab name so spaces and punctuation survive A1 notation.
func a1Range(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}

func toRow(values []string) []any {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
