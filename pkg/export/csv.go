package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// CSVSink writes <dir>/<name>.csv with a header row, replacing any previous file.
type CSVSink struct {
	path    string
	columns []string
}

func NewCSVSink(dir, name string, columns []string) *CSVSink {
	return &CSVSink{path: filepath.Join(dir, utils.SanitizeFilename(name)+".csv"), columns: columns}
}

func (s *CSVSink) Name() string { return "csv" }

// Path returns the output file location.
func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Write(_ context.Context, records []models.Record) error {
	f, err := createOutput(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(s.columns); err != nil {
		return fmt.Errorf("%w: write csv header: %w", utils.ErrFilesystem, err)
	}
	if err := w.WriteAll(Rows(records, s.columns)); err != nil {
		return fmt.Errorf("%w: write csv rows: %w", utils.ErrFilesystem, err)
	}
	return f.Close()
}

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", utils.ErrFilesystem, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, path, err)
	}
	return f, nil
}
