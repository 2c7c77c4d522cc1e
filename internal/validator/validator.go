// Package validator checks normalized OHLCV tables for structural problems
// and, for daily data, for trading sessions with no bar.
//
// Validation never fails: every problem found is recorded in the returned
// models.ValidationReport and the caller decides what is fatal. The calendar
// lookup is best-effort; a failing calendar is noted in the report and the
// structural result stands.
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/ohlcv-hub/internal/calendar"
	"github.com/johnayoung/ohlcv-hub/internal/models"
)

const (
	// DefaultSampleLimit caps the OHLC and volume sample lists.
	DefaultSampleLimit = 20

	// DefaultExchange is the calendar used for the completeness check.
	DefaultExchange = "XNYS"

	// TimestampLayout renders report timestamps with an explicit offset.
	TimestampLayout = "2006-01-02T15:04:05-07:00"
)

// Validator produces validation reports for daily and weekly tables.
type Validator struct {
	calendar    calendar.SessionProvider
	exchange    string
	location    *time.Location
	sampleLimit int
	logger      *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithExchange selects the exchange calendar for the completeness check.
func WithExchange(exchange string) Option {
	return func(v *Validator) { v.exchange = exchange }
}

// WithLocation overrides the timezone bar timestamps are converted to before
// comparing against session dates. The exchange's own timezone is used
// otherwise.
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) { v.location = loc }
}

// WithSampleLimit changes the sample cap; values below zero are ignored.
func WithSampleLimit(n int) Option {
	return func(v *Validator) {
		if n >= 0 {
			v.sampleLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates a validator. A nil calendar is allowed: daily
// reports then carry an error annotation instead of missing days.
func NewValidator(cal calendar.SessionProvider, opts ...Option) *Validator {
	v := &Validator{
		calendar:    cal,
		exchange:    DefaultExchange,
		sampleLimit: DefaultSampleLimit,
		logger:      slog.Default().With("component", "validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate dispatches on the table's granularity.
func (v *Validator) Validate(rows []models.Row, start, end time.Time, tf models.Timeframe) (bool, models.ValidationReport) {
	if tf == models.TimeframeWeekly {
		return v.ValidateWeekly(rows, start, end)
	}
	return v.ValidateDaily(rows, start, end)
}

// ValidateDaily runs the structural checks and the calendar completeness
// check. ok reflects the structural checks only.
func (v *Validator) ValidateDaily(rows []models.Row, start, end time.Time) (bool, models.ValidationReport) {
	report := v.structural(rows, start, end)
	if len(rows) > 0 {
		report.MissingDays = v.missingDays(rows, start, end)
	}

	v.logger.Debug("validated daily bars",
		"bars", report.Summary.BarsCount,
		"symbols", report.Summary.SymbolsCount,
		"ok", report.OK(),
		"missing_days", report.MissingDays.Total)

	return report.OK(), report
}

// ValidateWeekly runs the structural checks. Missing days are always zero.
func (v *Validator) ValidateWeekly(rows []models.Row, start, end time.Time) (bool, models.ValidationReport) {
	report := v.structural(rows, start, end)

	v.logger.Debug("validated weekly bars",
		"bars", report.Summary.BarsCount,
		"symbols", report.Summary.SymbolsCount,
		"ok", report.OK())

	return report.OK(), report
}

func (v *Validator) structural(rows []models.Row, start, end time.Time) models.ValidationReport {
	report := models.NewValidationReport(models.FormatDate(start), models.FormatDate(end))
	if len(rows) == 0 {
		return report
	}

	report.Summary.SymbolsCount = len(symbolOrder(rows))
	report.Summary.BarsCount = len(rows)

	report.Issues.Duplicates = findDuplicates(rows)
	report.Issues.NonMonotonic = findNonMonotonic(rows)
	report.Issues.OHLCViolations = findOHLCViolations(rows, v.sampleLimit)
	report.Issues.VolumeViolations = findVolumeViolations(rows, v.sampleLimit)

	return report
}

// missingDays compares each symbol's bar dates, in exchange-local time,
// against the calendar's sessions. Any calendar failure, including a panic,
// becomes the report's error annotation.
func (v *Validator) missingDays(rows []models.Row, start, end time.Time) (result models.MissingDays) {
	result = models.MissingDays{PerSymbol: map[string][]string{}}

	defer func() {
		if r := recover(); r != nil {
			result = calendarFailure(fmt.Errorf("calendar lookup panicked: %v", r))
			v.logger.Warn("missing-days check failed", "exchange", v.exchange, "error", result.Error)
		}
	}()

	if v.calendar == nil {
		return calendarFailure(fmt.Errorf("no trading calendar configured"))
	}

	sessions, err := v.calendar.Sessions(v.exchange, start, end)
	if err != nil {
		v.logger.Warn("missing-days check failed", "exchange", v.exchange, "error", err)
		return calendarFailure(err)
	}

	loc := v.location
	if loc == nil {
		if loc, err = v.calendar.Location(v.exchange); err != nil {
			v.logger.Warn("missing-days check failed", "exchange", v.exchange, "error", err)
			return calendarFailure(err)
		}
	}

	present := make(map[string]map[string]struct{})
	for _, row := range rows {
		dates, ok := present[row.Symbol]
		if !ok {
			dates = make(map[string]struct{})
			present[row.Symbol] = dates
		}
		dates[row.TS.In(loc).Format(models.DateLayout)] = struct{}{}
	}

	for _, symbol := range symbolOrder(rows) {
		var missing []string
		for _, session := range sessions {
			day := models.FormatDate(session)
			if _, ok := present[symbol][day]; !ok {
				missing = append(missing, day)
			}
		}
		if len(missing) > 0 {
			result.PerSymbol[symbol] = missing
			result.Total += len(missing)
		}
	}

	return result
}

func calendarFailure(err error) models.MissingDays {
	return models.MissingDays{PerSymbol: map[string][]string{}, Error: err.Error()}
}

// symbolOrder returns the distinct symbols in order of first appearance.
func symbolOrder(rows []models.Row) []string {
	seen := make(map[string]struct{})
	var order []string
	for _, row := range rows {
		if _, ok := seen[row.Symbol]; !ok {
			seen[row.Symbol] = struct{}{}
			order = append(order, row.Symbol)
		}
	}
	return order
}

func formatTS(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

type rowKey struct {
	symbol string
	ts     time.Time
}

// findDuplicates reports every (symbol, ts) that occurs more than once,
// sorted by symbol then ts.
func findDuplicates(rows []models.Row) []models.Duplicate {
	counts := make(map[rowKey]int)
	for _, row := range rows {
		counts[rowKey{symbol: row.Symbol, ts: row.TS.UTC()}]++
	}

	keys := make([]rowKey, 0)
	for key, n := range counts {
		if n > 1 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].ts.Before(keys[j].ts)
	})

	duplicates := make([]models.Duplicate, 0, len(keys))
	for _, key := range keys {
		duplicates = append(duplicates, models.Duplicate{
			Symbol: key.symbol,
			TS:     formatTS(key.ts),
			Count:  counts[key],
		})
	}
	return duplicates
}

// findNonMonotonic walks each symbol's rows in table order and reports the
// first pair whose timestamp does not strictly increase.
func findNonMonotonic(rows []models.Row) []models.NonMonotonic {
	last := make(map[string]time.Time)
	reported := make(map[string]bool)
	var found []models.NonMonotonic

	for _, row := range rows {
		prev, seen := last[row.Symbol]
		last[row.Symbol] = row.TS
		if !seen || reported[row.Symbol] || row.TS.After(prev) {
			continue
		}
		reported[row.Symbol] = true
		found = append(found, models.NonMonotonic{
			Symbol:        row.Symbol,
			ExampleTSPrev: formatTS(prev),
			ExampleTSNext: formatTS(row.TS),
		})
	}

	if found == nil {
		return []models.NonMonotonic{}
	}
	return found
}

// ohlcIssue classifies a row by the first invariant it breaks.
func ohlcIssue(row models.Row) (string, bool) {
	switch {
	case row.High < max(row.Open, row.Close):
		return models.IssueHighBelowOpenClose, true
	case row.Low > min(row.Open, row.Close):
		return models.IssueLowAboveOpenClose, true
	case row.High < row.Low:
		return models.IssueHighBelowLow, true
	}
	return "", false
}

func findOHLCViolations(rows []models.Row, limit int) models.OHLCViolations {
	out := models.OHLCViolations{Samples: []models.OHLCSample{}}
	for _, row := range rows {
		issue, bad := ohlcIssue(row)
		if !bad {
			continue
		}
		out.Count++
		if len(out.Samples) < limit {
			out.Samples = append(out.Samples, models.OHLCSample{
				Symbol: row.Symbol,
				TS:     formatTS(row.TS),
				Open:   row.Open,
				High:   row.High,
				Low:    row.Low,
				Close:  row.Close,
				Issue:  issue,
			})
		}
	}
	return out
}

func findVolumeViolations(rows []models.Row, limit int) models.VolumeViolations {
	out := models.VolumeViolations{Samples: []models.VolumeSample{}}
	for _, row := range rows {
		if row.Volume >= 0 {
			continue
		}
		out.Count++
		if len(out.Samples) < limit {
			out.Samples = append(out.Samples, models.VolumeSample{
				Symbol: row.Symbol,
				TS:     formatTS(row.TS),
				Volume: row.Volume,
			})
		}
	}
	return out
}
