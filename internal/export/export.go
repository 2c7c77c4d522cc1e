// Package export writes normalized OHLCV tables and validation reports to
// disk.
//
// Tables are loaded into an in-memory DuckDB database with the appender API
// and written out with COPY ... TO, which gives Parquet and CSV from the same
// code path.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
	"github.com/johnayoung/ohlcv-hub/internal/models"
)

// ReportFileName is the validation report written next to the table.
const ReportFileName = "validation_report.json"

// Exporter writes a row table to dir/filename.<ext> and returns the path.
type Exporter interface {
	Export(ctx context.Context, rows []models.Row, format models.OutputFormat, dir, filename string) (string, error)
}

// ExportError describes a failed export step.
type ExportError struct {
	// Operation is the step that failed (e.g. "mkdir", "append", "copy")
	Operation string

	// Path is the file or directory involved, if any
	Path string

	Err error
}

func (e *ExportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("export %s %s failed: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("export %s failed: %v", e.Operation, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewExportError creates an ExportError.
func NewExportError(operation, path string, err error) *ExportError {
	return &ExportError{Operation: operation, Path: path, Err: err}
}

// FileName returns the table's base name, e.g. ohlcv_1d_20240101_20240131.
func FileName(tf models.Timeframe, start, end time.Time) string {
	return fmt.Sprintf("ohlcv_%s_%s_%s", tf, start.Format("20060102"), end.Format("20060102"))
}

// Extension returns the file extension for format, without the dot.
func Extension(format models.OutputFormat) (string, error) {
	switch format {
	case models.FormatParquet:
		return "parquet", nil
	case models.FormatCSV:
		return "csv", nil
	}
	return "", apperrors.NewInputError("format", "unsupported format: %s", format)
}

// WriteReport writes report as indented JSON, creating parent directories.
func WriteReport(report models.ValidationReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewExportError("mkdir", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return NewExportError("encode", path, err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return NewExportError("write", path, err)
	}
	return nil
}
