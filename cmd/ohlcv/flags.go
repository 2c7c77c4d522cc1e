package main

import (
	"fmt"
	"strings"
)

// DoctorFlags represents flags for the doctor command
type DoctorFlags struct {
	Ping       bool
	ConfigPath string
	Help       bool
}

// FetchFlags represents flags for the fetch command
type FetchFlags struct {
	Symbols    string
	Start      string
	End        string
	Timeframe  string
	Out        string
	Format     string
	Adjustment string
	Feed       string
	Report     bool
	Verbose    bool
	ConfigPath string
	Help       bool

	// set records which value flags appeared on the command line
	set map[string]bool
}

// requiredFetchFlags must appear on every fetch invocation.
var requiredFetchFlags = []string{"--symbols", "--start", "--end", "--tf", "--out"}

// takeValue returns the value following args[i].
func takeValue(args []string, i int) (string, error) {
	if i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[i])
	}
	return args[i+1], nil
}

// splitInline handles the --flag=value form.
func splitInline(arg string) (string, string, bool) {
	if !strings.HasPrefix(arg, "--") {
		return arg, "", false
	}
	name, value, ok := strings.Cut(arg, "=")
	return name, value, ok
}

// parseDoctorFlags parses flags for the doctor command
func parseDoctorFlags(args []string) (*DoctorFlags, error) {
	flags := &DoctorFlags{}

	for i := 0; i < len(args); i++ {
		name, inline, hasInline := splitInline(args[i])
		switch name {
		case "--ping":
			flags.Ping = true
		case "--no-ping":
			flags.Ping = false
		case "--config", "-c":
			if hasInline {
				flags.ConfigPath = inline
				continue
			}
			value, err := takeValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.ConfigPath = value
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseFetchFlags parses flags for the fetch command
func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{
		Format:     "parquet",
		Adjustment: "raw",
		Feed:       "iex",
		Report:     true,
		set:        make(map[string]bool),
	}

	for i := 0; i < len(args); i++ {
		name, inline, hasInline := splitInline(args[i])

		var target *string
		switch name {
		case "--symbols", "-s":
			name, target = "--symbols", &flags.Symbols
		case "--start":
			target = &flags.Start
		case "--end":
			target = &flags.End
		case "--tf", "--timeframe", "-t":
			name, target = "--tf", &flags.Timeframe
		case "--out", "-o":
			name, target = "--out", &flags.Out
		case "--format", "-f":
			name, target = "--format", &flags.Format
		case "--adjustment":
			target = &flags.Adjustment
		case "--feed":
			target = &flags.Feed
		case "--config", "-c":
			name, target = "--config", &flags.ConfigPath
		case "--report":
			flags.Report = true
		case "--no-report":
			flags.Report = false
		case "--verbose", "-V":
			flags.Verbose = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}

		if target == nil {
			continue
		}
		if hasInline {
			*target = inline
		} else {
			value, err := takeValue(args, i)
			if err != nil {
				return nil, err
			}
			*target = value
			i++
		}
		flags.set[name] = true
	}

	return flags, nil
}

// printUsage prints the main usage information
func (cli *CLI) printUsage() {
	fmt.Fprintf(cli.stdout, `%s - US stock OHLCV dataset builder v%s

USAGE:
    %s <command> [options]

COMMANDS:
    doctor      Check configuration and optionally API connectivity
    fetch       Fetch, validate and export daily or weekly bars
    version     Show version information
    help        Show help information

GLOBAL OPTIONS:
    -h, --help     Show help
    -v, --version  Show version

EXAMPLES:
    # Check credentials and connectivity
    %s doctor --ping

    # Daily bars for two symbols as Parquet
    %s fetch --symbols AAPL,MSFT --start 2024-01-01 --end 2024-01-31 --tf 1d --out ./data

    # Weekly bars as CSV without a validation report
    %s fetch -s SPY --start 2023-01-01 --end 2023-12-31 --tf 1w -o ./data -f csv --no-report

ENVIRONMENT:
    ALPACA_API_KEY, ALPACA_API_SECRET   API credentials (required)
    ALPACA_DATA_BASE_URL                Market data base URL
    OHLCV_LOG_LEVEL, OHLCV_LOG_FORMAT   Logging configuration

For detailed help on a command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName)
}

// printCommandHelp prints detailed help for a specific command
func (cli *CLI) printCommandHelp(command string) {
	switch command {
	case "doctor":
		fmt.Fprintf(cli.stdout, `%s doctor - Check configuration

USAGE:
    %s doctor [options]

DESCRIPTION:
    Loads configuration from defaults, an optional config file, .env and the
    environment, and verifies that API credentials are present. With --ping
    a minimal authenticated bars request is sent to the API.

OPTIONS:
    --ping                   Test API connectivity
    --no-ping                Skip the connectivity test (default)
    -c, --config FILE        Configuration file (yaml, json or toml)
    -h, --help               Show this help
`, AppName, AppName)

	case "fetch":
		fmt.Fprintf(cli.stdout, `%s fetch - Fetch, validate and export bars

USAGE:
    %s fetch --symbols LIST --start DATE --end DATE --tf 1d|1w --out DIR [options]

DESCRIPTION:
    Downloads daily bars for every symbol, normalizes them, resamples to
    weekly bars when --tf 1w is given, validates the table against the
    trading calendar and writes the data file plus validation_report.json.
    The data file is written even when validation fails; the exit status
    is then non-zero.

OPTIONS:
    -s, --symbols LIST       Comma-separated symbols, e.g. AAPL,MSFT
    --start DATE             Start date, YYYY-MM-DD (inclusive)
    --end DATE               End date, YYYY-MM-DD (inclusive)
    -t, --tf TIMEFRAME       1d or 1w
    -o, --out DIR            Output directory
    -f, --format FORMAT      parquet or csv (default: parquet)
    --adjustment MODE        raw, split, dividend, spin-off or all (default: raw)
    --feed FEED              iex, sip, boats or otc (default: iex)
    --report                 Write validation_report.json (default)
    --no-report              Do not write the validation report
    -V, --verbose            Log throttling and retry decisions
    -c, --config FILE        Configuration file
    -h, --help               Show this help

OUTPUT:
    ohlcv_<tf>_<start>_<end>.<ext> (dates as YYYYMMDD) with columns
    symbol, timeframe, ts, open, high, low, close, volume, source, currency, adjustment
`, AppName, AppName)

	default:
		fmt.Fprintf(cli.stdout, "No help available for command: %s\n", command)
		cli.printUsage()
	}
}
