package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const maxSheetNameLen = 31

// XLSXSink writes <dir>/<name>.xlsx with a single sheet named after the sheet tab.
type XLSXSink struct {
	path    string
	sheet   string
	columns []string
}

func NewXLSXSink(dir, name, sheetTab string, columns []string) *XLSXSink {
	return &XLSXSink{
		path:    filepath.Join(dir, utils.SanitizeFilename(name)+".xlsx"),
		sheet:   SheetName(sheetTab),
		columns: columns,
	}
}

func (s *XLSXSink) Name() string { return "xlsx" }

func (s *XLSXSink) Path() string { return s.path }

func (s *XLSXSink) Write(_ context.Context, records []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := s.writeRow(f, 1, s.columns); err != nil {
		return err
	}
	for i, row := range Rows(records, s.columns) {
		if err := s.writeRow(f, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(s.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	out, err := createOutput(s.path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, s.path, err)
	}
	return out.Close()
}

func (s *XLSXSink) writeRow(f *excelize.File, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(s.sheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

// SheetName makes tab usable as a worksheet name: forbidden characters are
// replaced and the name is cut to 31 characters.
func SheetName(tab string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(tab))
	name = strings.Trim(name, "'")
	if name == "" {
		return "Sheet1"
	}
	if r := []rune(name); len(r) > maxSheetNameLen {
		name = string(r[:maxSheetNameLen])
	}
	return name
}
