package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// JSONLSink writes one JSON object per record to <dir>/<name>.jsonl.
// Object keys follow the column order.
type JSONLSink struct {
	path    string
	columns []string
}

func NewJSONLSink(dir, name string, columns []string) *JSONLSink {
	return &JSONLSink{path: filepath.Join(dir, utils.SanitizeFilename(name)+".jsonl"), columns: columns}
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Write(_ context.Context, records []models.Record) error {
	f, err := createOutput(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		fields := make([]models.Field, 0, len(s.columns))
		for i, v := range r.Values(s.columns) {
			fields = append(fields, models.Field{Name: s.columns[i], Value: v})
		}
		if err := enc.Encode(models.NewRecord(fields...)); err != nil {
			return fmt.Errorf("%w: encode record: %w", utils.ErrParsing, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", utils.ErrFilesystem, s.path, err)
	}
	return f.Close()
}
