// OHLCV Hub CLI
// This application fetches daily US stock bars from the Alpaca Market Data
// API, optionally resamples them to weekly bars, validates the result against
// the exchange trading calendar and exports Parquet or CSV files.
//
// Usage:
//
//	ohlcv doctor --ping
//	ohlcv fetch --symbols AAPL,MSFT --start 2024-01-01 --end 2024-01-31 --tf 1d --out ./data
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/ohlcv-hub/internal/calendar"
	"github.com/johnayoung/ohlcv-hub/internal/config"
	"github.com/johnayoung/ohlcv-hub/internal/dataset"
	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
	"github.com/johnayoung/ohlcv-hub/internal/exchange"
	"github.com/johnayoung/ohlcv-hub/internal/export"
	"github.com/johnayoung/ohlcv-hub/internal/logger"
	"github.com/johnayoung/ohlcv-hub/internal/metrics"
	"github.com/johnayoung/ohlcv-hub/internal/models"
	"github.com/johnayoung/ohlcv-hub/internal/normalize"
	"github.com/johnayoung/ohlcv-hub/internal/validator"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "ohlcv"
)

// Exit codes following standard conventions
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsageError = 2
	ExitInterrupt  = 130
)

// CLI carries the output streams and the state shared by the commands.
type CLI struct {
	stdout io.Writer
	stderr io.Writer

	// dotEnvPath is the .env file consulted when loading configuration
	dotEnvPath string
}

// main is the entry point for the CLI application
func main() {
	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli := &CLI{stdout: os.Stdout, stderr: os.Stderr, dotEnvPath: config.DefaultDotEnvPath}
	code := cli.Run(ctx, os.Args[1:])

	if ctx.Err() != nil && code != ExitSuccess {
		code = ExitInterrupt
	}
	cancel()
	os.Exit(code)
}

// Run dispatches args[0] and returns the process exit code.
func (cli *CLI) Run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		cli.printUsage()
		return ExitUsageError
	}

	command := args[0]
	rest := args[1:]

	switch command {
	case "doctor":
		return cli.handleDoctor(ctx, rest)
	case "fetch":
		return cli.handleFetch(ctx, rest)
	case "version", "--version", "-v":
		fmt.Fprintf(cli.stdout, "%s version %s\n", AppName, Version)
		return ExitSuccess
	case "help", "--help", "-h":
		if len(rest) > 0 {
			cli.printCommandHelp(rest[0])
		} else {
			cli.printUsage()
		}
		return ExitSuccess
	default:
		fmt.Fprintf(cli.stderr, "Error: Unknown command '%s'\n\n", command)
		cli.printUsage()
		return ExitUsageError
	}
}

// loadConfig loads configuration and requires API credentials. Errors are
// printed in the CLI's format.
func (cli *CLI) loadConfig(ctx context.Context, configPath string) (*config.AppConfig, bool) {
	cm := config.NewConfigManager(configPath, logger.Discard()).WithDotEnv(cli.dotEnvPath)

	cfg, err := cm.LoadConfig(ctx)
	if err == nil {
		err = cm.RequireCredentials(cfg)
	}
	if err != nil {
		fmt.Fprintf(cli.stderr, "❌ Configuration error: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// newLoggerManager sends stderr logging through the CLI's own error stream.
func (cli *CLI) newLoggerManager(cfg config.LoggingConfig) (*logger.LoggerManager, error) {
	if cfg.Output == "stderr" {
		return logger.NewLoggerManagerWithWriter(cfg, cli.stderr), nil
	}
	return logger.NewLoggerManager(cfg)
}

// newClient builds the Alpaca client from configuration.
func newClient(cfg *config.AppConfig, log *slog.Logger, m *metrics.FetchMetrics) *exchange.AlpacaClient {
	return exchange.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
		exchange.WithBaseURL(cfg.Alpaca.BaseURL),
		exchange.WithTimeout(cfg.Alpaca.Timeout),
		exchange.WithRequestRate(cfg.Alpaca.RequestsPerMinute),
		exchange.WithLogger(log),
		exchange.WithMetrics(m),
	)
}

// handleDoctor handles the 'doctor' command for configuration checks
func (cli *CLI) handleDoctor(ctx context.Context, args []string) int {
	flags, err := parseDoctorFlags(args)
	if err != nil {
		fmt.Fprintf(cli.stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	if flags.Help {
		cli.printCommandHelp("doctor")
		return ExitSuccess
	}

	cfg, ok := cli.loadConfig(ctx, flags.ConfigPath)
	if !ok {
		return ExitFailure
	}

	fmt.Fprintln(cli.stdout, "✓ Configuration OK")
	fmt.Fprintf(cli.stdout, "  API Key: %s\n", config.MaskSecret(cfg.Alpaca.APIKey))
	fmt.Fprintf(cli.stdout, "  API Secret: %s\n", config.MaskSecret(cfg.Alpaca.APISecret))
	fmt.Fprintf(cli.stdout, "  Base URL: %s\n", cfg.Alpaca.BaseURL)
	fmt.Fprintf(cli.stdout, "  Calendar: %s (%s)\n", cfg.Calendar.Exchange, cfg.Calendar.Timezone)

	if !flags.Ping {
		fmt.Fprintln(cli.stdout, "\nUse --ping to test API connectivity")
		return ExitSuccess
	}

	lm, err := cli.newLoggerManager(cfg.Logging)
	if err != nil {
		fmt.Fprintf(cli.stderr, "❌ Logging setup failed: %v\n", err)
		return ExitFailure
	}
	defer lm.Close()

	fmt.Fprintln(cli.stdout, "\nTesting API connectivity...")
	client := newClient(cfg, lm.GetComponentLogger("alpaca").Logger, nil)
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(cli.stderr, "❌ API connectivity test failed: %v\n", err)
		return ExitFailure
	}
	fmt.Fprintln(cli.stdout, "✓ API connectivity test passed")
	return ExitSuccess
}

// fetchOptions are the validated inputs of one fetch run.
type fetchOptions struct {
	symbols    []string
	start, end time.Time
	timeframe  models.Timeframe
	format     models.OutputFormat
	adjustment models.Adjustment
	feed       models.Feed
	outDir     string
	report     bool
	verbose    bool
	configPath string
}

// validateFetchFlags turns raw flags into fetchOptions. The returned exit
// code is meaningful only when the error is non-nil.
func validateFetchFlags(flags *FetchFlags) (*fetchOptions, int, error) {
	for _, name := range requiredFetchFlags {
		if !flags.set[name] {
			return nil, ExitUsageError, fmt.Errorf("%s is required", name)
		}
	}

	opts := &fetchOptions{
		outDir:     strings.TrimSpace(flags.Out),
		report:     flags.Report,
		verbose:    flags.Verbose,
		configPath: flags.ConfigPath,
	}

	var err error
	if opts.timeframe, err = models.ParseTimeframe(flags.Timeframe); err != nil {
		return nil, ExitUsageError, err
	}
	if opts.format, err = models.ParseOutputFormat(flags.Format); err != nil {
		return nil, ExitUsageError, err
	}
	if opts.adjustment, err = models.ParseAdjustment(flags.Adjustment); err != nil {
		return nil, ExitUsageError, err
	}
	if opts.feed, err = models.ParseFeed(flags.Feed); err != nil {
		return nil, ExitUsageError, err
	}

	opts.symbols = exchange.ParseSymbols(flags.Symbols)
	if len(opts.symbols) == 0 {
		return nil, ExitFailure, errors.New("At least one symbol is required")
	}

	if opts.start, err = models.ParseDate(flags.Start); err != nil {
		return nil, ExitFailure, fmt.Errorf("Invalid date format: %w", err)
	}
	if opts.end, err = models.ParseDate(flags.End); err != nil {
		return nil, ExitFailure, fmt.Errorf("Invalid date format: %w", err)
	}
	if opts.start.After(opts.end) {
		return nil, ExitFailure, errors.New("Start date must be <= end date")
	}

	if opts.outDir == "" {
		return nil, ExitFailure, errors.New("Output path is required")
	}

	return opts, ExitSuccess, nil
}

// handleFetch handles the 'fetch' command: build, validate and export a dataset
func (cli *CLI) handleFetch(ctx context.Context, args []string) int {
	flags, err := parseFetchFlags(args)
	if err != nil {
		fmt.Fprintf(cli.stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	if flags.Help {
		cli.printCommandHelp("fetch")
		return ExitSuccess
	}

	opts, code, err := validateFetchFlags(flags)
	if err != nil {
		fmt.Fprintf(cli.stderr, "❌ Error: %v\n", err)
		return code
	}

	cfg, ok := cli.loadConfig(ctx, opts.configPath)
	if !ok {
		return ExitFailure
	}

	// --verbose surfaces the client's throttle and retry decisions.
	if opts.verbose && logger.ParseLevel(cfg.Logging.Level) > slog.LevelInfo {
		cfg.Logging.Level = "info"
	}
	lm, err := cli.newLoggerManager(cfg.Logging)
	if err != nil {
		fmt.Fprintf(cli.stderr, "❌ Logging setup failed: %v\n", err)
		return ExitFailure
	}
	defer lm.Close()

	ctx = logger.WithRunID(ctx, logger.NewRunID())
	ctx = logger.WithOperation(ctx, "fetch")
	ctx = logger.WithSymbols(ctx, opts.symbols)
	ctx = logger.WithTimeframe(ctx, string(opts.timeframe))
	cliLog := lm.GetComponentLogger("cli")

	loc, err := cfg.Calendar.Location()
	if err != nil {
		fmt.Fprintf(cli.stderr, "❌ Configuration error: %v\n", err)
		return ExitFailure
	}

	fetchMetrics := metrics.NewFetchMetrics()
	client := newClient(cfg, lm.GetComponentLogger("alpaca").WithContext(ctx), fetchMetrics)
	v := validator.NewValidator(calendar.NewRegistry(),
		validator.WithExchange(cfg.Calendar.Exchange),
		validator.WithLocation(loc),
		validator.WithLogger(lm.GetComponentLogger("validator").WithContext(ctx)))
	builder := dataset.NewBuilder(client, v,
		normalize.NewNormalizer(lm.GetComponentLogger("normalizer").WithContext(ctx)),
		lm.GetComponentLogger("dataset_builder").WithContext(ctx))

	fmt.Fprintln(cli.stdout, "Fetching data from Alpaca...")

	build := builder.BuildDaily
	if opts.timeframe == models.TimeframeWeekly {
		build = builder.BuildWeekly
	}

	var result *dataset.Result
	err = logger.TimedOperation(ctx, cliLog.Logger, "build_dataset", func() error {
		var buildErr error
		result, buildErr = build(ctx, dataset.Params{
			Symbols:    opts.symbols,
			Start:      opts.start,
			End:        opts.end,
			Adjustment: opts.adjustment,
			Feed:       opts.feed,
		})
		return buildErr
	})
	cliLog.InfoWithContext(ctx, "fetch metrics", "metrics", fetchMetrics.Snapshot())
	if err != nil {
		return cli.reportError(ctx, cliLog, "fetch failed", err)
	}

	hasErrors := !result.OK
	if hasErrors {
		cli.printValidationErrors(result.Report)
	}

	fmt.Fprintln(cli.stdout, "Exporting data...")
	exporter := export.NewDuckDBExporter(lm.GetComponentLogger("duckdb_exporter").WithContext(ctx))
	filePath, err := exporter.Export(ctx, result.Rows, opts.format, opts.outDir,
		export.FileName(opts.timeframe, opts.start, opts.end))
	if err != nil {
		return cli.reportError(ctx, cliLog, "export failed", err)
	}

	if opts.report {
		reportPath := filepath.Join(opts.outDir, export.ReportFileName)
		if err := export.WriteReport(result.Report, reportPath); err != nil {
			return cli.reportError(ctx, cliLog, "report write failed", err)
		}
		fmt.Fprintf(cli.stdout, "Validation report written to: %s\n", reportPath)
	}

	summary := result.Report.Summary
	fmt.Fprintln(cli.stdout, "\n✓ Fetch completed successfully")
	fmt.Fprintf(cli.stdout, "  Bars: %d\n", summary.BarsCount)
	fmt.Fprintf(cli.stdout, "  Symbols: %d\n", summary.SymbolsCount)
	fmt.Fprintf(cli.stdout, "  Output file: %s\n", filePath)
	if total := result.Report.MissingDays.Total; total > 0 {
		fmt.Fprintf(cli.stdout, "  Missing trading days: %d (see %s)\n", total, export.ReportFileName)
	}

	if hasErrors {
		return ExitFailure
	}
	return ExitSuccess
}

func (cli *CLI) printValidationErrors(report models.ValidationReport) {
	issues := report.Issues
	fmt.Fprintln(cli.stderr, "⚠️  Validation errors detected:")
	if n := len(issues.Duplicates); n > 0 {
		fmt.Fprintf(cli.stderr, "  - %d duplicate entries\n", n)
	}
	if n := len(issues.NonMonotonic); n > 0 {
		fmt.Fprintf(cli.stderr, "  - %d non-monotonic timestamp issues\n", n)
	}
	if n := issues.OHLCViolations.Count; n > 0 {
		fmt.Fprintf(cli.stderr, "  - %d OHLC violations\n", n)
	}
	if n := issues.VolumeViolations.Count; n > 0 {
		fmt.Fprintf(cli.stderr, "  - %d volume violations\n", n)
	}
	fmt.Fprintln(cli.stderr, "  Exporting data anyway (with errors)...")
}

// reportError logs err, prints it by category and returns the exit code.
func (cli *CLI) reportError(ctx context.Context, log *logger.ComponentLogger, msg string, err error) int {
	errType := apperrors.Classify(err)
	log.ErrorWithContext(ctx, msg, err, "error_type", errType)

	switch errType {
	case apperrors.ErrorTypeProvider, apperrors.ErrorTypeRateLimit, apperrors.ErrorTypeServerError:
		fmt.Fprintf(cli.stderr, "❌ Provider error: %v\n", err)
		if status, ok := apperrors.StatusCode(err); ok && status != 0 {
			fmt.Fprintf(cli.stderr, "  Status code: %d\n", status)
		}
	case apperrors.ErrorTypeValidation:
		fmt.Fprintf(cli.stderr, "❌ Error: %v\n", err)
	case apperrors.ErrorTypeConfiguration:
		fmt.Fprintf(cli.stderr, "❌ Configuration error: %v\n", err)
	default:
		fmt.Fprintf(cli.stderr, "❌ Unexpected error: %v\n", err)
	}
	return ExitFailure
}
