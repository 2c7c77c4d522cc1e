package export

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/ohlcv-hub/internal/models"
)

const barsTable = "bars"

// createBarsTable mirrors models.Columns.
const createBarsTable = `
CREATE TABLE bars (
	symbol VARCHAR NOT NULL,
	timeframe VARCHAR NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	open DOUBLE NOT NULL,
	high DOUBLE NOT NULL,
	low DOUBLE NOT NULL,
	close DOUBLE NOT NULL,
	volume BIGINT NOT NULL,
	source VARCHAR NOT NULL,
	currency VARCHAR NOT NULL,
	adjustment VARCHAR NOT NULL
)`

// DuckDBExporter writes tables through a throwaway in-memory DuckDB database.
// It holds no state between calls.
type DuckDBExporter struct {
	logger *slog.Logger
}

// NewDuckDBExporter creates an exporter.
func NewDuckDBExporter(logger *slog.Logger) *DuckDBExporter {
	if logger == nil {
		logger = slog.Default().With("component", "duckdb_exporter")
	}
	return &DuckDBExporter{logger: logger}
}

// Export implements Exporter. The directory is created if needed and an
// empty table still produces a file carrying the full schema.
func (e *DuckDBExporter) Export(ctx context.Context, rows []models.Row, format models.OutputFormat, dir, filename string) (string, error) {
	ext, err := Extension(format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", NewExportError("mkdir", dir, err)
	}
	path := filepath.Join(dir, filename+"."+ext)

	start := time.Now()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return "", NewExportError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}
	defer db.Close()

	// One connection so the session settings, table and COPY share a session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return "", NewExportError("open", "", fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	e.configure(ctx, conn)

	if _, err := conn.ExecContext(ctx, createBarsTable); err != nil {
		return "", NewExportError("create", barsTable, err)
	}

	if err := appendRows(conn, rows); err != nil {
		return "", err
	}

	if _, err := conn.ExecContext(ctx, copyStatement(path, format)); err != nil {
		return "", NewExportError("copy", path, err)
	}

	e.logger.Debug("exported table",
		"path", path,
		"format", format,
		"rows", len(rows),
		"duration", time.Since(start))

	return path, nil
}

// configure applies session settings; failures are logged and ignored.
func (e *DuckDBExporter) configure(ctx context.Context, conn *sql.Conn) {
	settings := []string{
		"SET TimeZone = 'UTC'",
		"SET preserve_insertion_order = true",
		"SET enable_progress_bar = false",
	}
	for _, setting := range settings {
		if _, err := conn.ExecContext(ctx, setting); err != nil {
			e.logger.Warn("failed to apply setting", "setting", setting, "error", err)
		}
	}
}

// appendRows bulk-loads rows with the DuckDB appender.
func appendRows(conn *sql.Conn, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	return conn.Raw(func(dc any) error {
		driverConn, ok := dc.(*duckdb.Conn)
		if !ok {
			return NewExportError("append", barsTable, fmt.Errorf("underlying connection is not a DuckDB connection"))
		}

		appender, err := duckdb.NewAppenderFromConn(driverConn, "", barsTable)
		if err != nil {
			return NewExportError("append", barsTable, fmt.Errorf("failed to create appender: %w", err))
		}
		defer appender.Close()

		for _, row := range rows {
			if err := appender.AppendRow(
				row.Symbol,
				string(row.Timeframe),
				row.TS.UTC(),
				row.Open,
				row.High,
				row.Low,
				row.Close,
				row.Volume,
				row.Source,
				row.Currency,
				row.Adjustment,
			); err != nil {
				return NewExportError("append", barsTable, fmt.Errorf("failed to append %s: %w", row, err))
			}
		}

		if err := appender.Flush(); err != nil {
			return NewExportError("append", barsTable, fmt.Errorf("failed to flush appender: %w", err))
		}
		return nil
	})
}

func copyStatement(path string, format models.OutputFormat) string {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	if format == models.FormatCSV {
		return fmt.Sprintf("COPY %s TO %s (FORMAT CSV, HEADER)", barsTable, quoted)
	}
	return fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", barsTable, quoted)
}
