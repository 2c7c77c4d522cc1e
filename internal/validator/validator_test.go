package validator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/ohlcv-hub/internal/calendar"
	"github.com/johnayoung/ohlcv-hub/internal/models"
)

var (
	rangeStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// barAt returns a clean daily bar stamped at 05:00 UTC (midnight New York).
func barAt(symbol string, day int) models.Row {
	return models.Row{
		Symbol:     symbol,
		Timeframe:  models.TimeframeDaily,
		TS:         time.Date(2024, 1, day, 5, 0, 0, 0, time.UTC),
		Open:       10,
		High:       12,
		Low:        9,
		Close:      11,
		Volume:     1000,
		Source:     models.SourceAlpaca,
		Currency:   "USD",
		Adjustment: "raw",
	}
}

// fakeCalendar serves fixed sessions or a fixed error.
type fakeCalendar struct {
	sessions []time.Time
	err      error
	panics   bool
	calls    int
}

func (f *fakeCalendar) Sessions(exchange string, start, end time.Time) ([]time.Time, error) {
	f.calls++
	if f.panics {
		panic("calendar exploded")
	}
	return f.sessions, f.err
}

func (f *fakeCalendar) Location(exchange string) (*time.Location, error) {
	return time.LoadLocation("America/New_York")
}

func newTestValidator(cal calendar.SessionProvider, opts ...Option) *Validator {
	return NewValidator(cal, append([]Option{WithLogger(testLogger())}, opts...)...)
}

func TestValidateCleanDaily(t *testing.T) {
	rows := []models.Row{
		barAt("AAPL", 2), barAt("AAPL", 3), barAt("AAPL", 4), barAt("AAPL", 5),
		barAt("MSFT", 2), barAt("MSFT", 3), barAt("MSFT", 4), barAt("MSFT", 5),
	}

	ok, report := newTestValidator(calendar.NewRegistry()).ValidateDaily(rows, rangeStart, rangeEnd)
	assert.True(t, ok)
	assert.Equal(t, 2, report.Summary.SymbolsCount)
	assert.Equal(t, 8, report.Summary.BarsCount)
	assert.Equal(t, models.DateRange{Start: "2024-01-02", End: "2024-01-05"}, report.Summary.DateRange)
	assert.Empty(t, report.Issues.Duplicates)
	assert.Empty(t, report.Issues.NonMonotonic)
	assert.Zero(t, report.MissingDays.Total)
	assert.Empty(t, report.MissingDays.PerSymbol)
	assert.Empty(t, report.MissingDays.Error)
}

func TestValidateEmptyTable(t *testing.T) {
	cal := &fakeCalendar{}
	v := newTestValidator(cal)

	for _, tf := range []models.Timeframe{models.TimeframeDaily, models.TimeframeWeekly} {
		ok, report := v.Validate([]models.Row{}, rangeStart, rangeEnd, tf)
		assert.True(t, ok)
		assert.Zero(t, report.Summary.BarsCount)
		assert.Zero(t, report.Summary.SymbolsCount)
		assert.Zero(t, report.MissingDays.Total)
		assert.NotNil(t, report.Issues.Duplicates)
	}
	assert.Zero(t, cal.calls, "empty tables skip the calendar")
}

func TestValidateDuplicates(t *testing.T) {
	rows := []models.Row{barAt("AAPL", 2), barAt("AAPL", 2), barAt("AAPL", 3)}

	ok, report := newTestValidator(nil).ValidateWeekly(rows, rangeStart, rangeEnd)
	assert.False(t, ok)
	require.Len(t, report.Issues.Duplicates, 1)
	assert.Equal(t, models.Duplicate{Symbol: "AAPL", TS: "2024-01-02T05:00:00+00:00", Count: 2}, report.Issues.Duplicates[0])

	// An equal timestamp is also a non-increasing step.
	require.Len(t, report.Issues.NonMonotonic, 1)
}

func TestValidateDuplicatesSorted(t *testing.T) {
	rows := []models.Row{
		barAt("MSFT", 3), barAt("MSFT", 3), barAt("MSFT", 3),
		barAt("AAPL", 4), barAt("AAPL", 4),
		barAt("AAPL", 2), barAt("AAPL", 2),
	}

	_, report := newTestValidator(nil).ValidateWeekly(rows, rangeStart, rangeEnd)
	require.Len(t, report.Issues.Duplicates, 3)
	assert.Equal(t, "AAPL", report.Issues.Duplicates[0].Symbol)
	assert.Equal(t, "2024-01-02T05:00:00+00:00", report.Issues.Duplicates[0].TS)
	assert.Equal(t, "2024-01-04T05:00:00+00:00", report.Issues.Duplicates[1].TS)
	assert.Equal(t, models.Duplicate{Symbol: "MSFT", TS: "2024-01-03T05:00:00+00:00", Count: 3}, report.Issues.Duplicates[2])
}

func TestValidateNonMonotonic(t *testing.T) {
	rows := []models.Row{
		barAt("AAPL", 5), barAt("AAPL", 4), barAt("AAPL", 3), barAt("AAPL", 2),
		barAt("MSFT", 2), barAt("MSFT", 3),
	}

	ok, report := newTestValidator(nil).ValidateWeekly(rows, rangeStart, rangeEnd)
	assert.False(t, ok)
	require.Len(t, report.Issues.NonMonotonic, 1, "one example per symbol")
	assert.Equal(t, models.NonMonotonic{
		Symbol:        "AAPL",
		ExampleTSPrev: "2024-01-05T05:00:00+00:00",
		ExampleTSNext: "2024-01-04T05:00:00+00:00",
	}, report.Issues.NonMonotonic[0])
	assert.Empty(t, report.Issues.Duplicates)
}

func TestValidateNonMonotonicNonAdjacentDuplicate(t *testing.T) {
	// The repeated Jan 2 bar is not adjacent to its twin; the reported step
	// is the one between neighbours in table order.
	rows := []models.Row{barAt("AAPL", 2), barAt("AAPL", 3), barAt("AAPL", 2)}

	ok, report := newTestValidator(nil).ValidateWeekly(rows, rangeStart, rangeEnd)
	assert.False(t, ok)
	require.Len(t, report.Issues.NonMonotonic, 1)
	assert.Equal(t, models.NonMonotonic{
		Symbol:        "AAPL",
		ExampleTSPrev: "2024-01-03T05:00:00+00:00",
		ExampleTSNext: "2024-01-02T05:00:00+00:00",
	}, report.Issues.NonMonotonic[0])

	require.Len(t, report.Issues.Duplicates, 1)
	assert.Equal(t, models.Duplicate{Symbol: "AAPL", TS: "2024-01-02T05:00:00+00:00", Count: 2}, report.Issues.Duplicates[0])
}

func TestValidateOHLCPriority(t *testing.T) {
	tests := []struct {
		name                   string
		open, high, low, close float64
		expectedIssue          string
	}{
		{name: "high below close", open: 10, high: 11, low: 9, close: 12, expectedIssue: models.IssueHighBelowOpenClose},
		{name: "high below open", open: 13, high: 12, low: 9, close: 11, expectedIssue: models.IssueHighBelowOpenClose},
		{name: "low above open", open: 10, high: 12, low: 10.5, close: 11, expectedIssue: models.IssueLowAboveOpenClose},
		{
			name: "high below max wins over low above min",
			open: 10, high: 9, low: 11, close: 10, expectedIssue: models.IssueHighBelowOpenClose,
		},
		{name: "clean", open: 10, high: 12, low: 9, close: 11},
		{name: "flat", open: 10, high: 10, low: 10, close: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := barAt("AAPL", 2)
			row.Open, row.High, row.Low, row.Close = tt.open, tt.high, tt.low, tt.close

			ok, report := newTestValidator(nil).ValidateWeekly([]models.Row{row}, rangeStart, rangeEnd)
			if tt.expectedIssue == "" {
				assert.True(t, ok)
				assert.Zero(t, report.Issues.OHLCViolations.Count)
				return
			}

			assert.False(t, ok)
			require.Equal(t, 1, report.Issues.OHLCViolations.Count)
			sample := report.Issues.OHLCViolations.Samples[0]
			assert.Equal(t, tt.expectedIssue, sample.Issue)
			assert.Equal(t, tt.open, sample.Open)
			assert.Equal(t, tt.high, sample.High)
			assert.Equal(t, tt.low, sample.Low)
			assert.Equal(t, tt.close, sample.Close)
		})
	}
}

func TestHighBelowLowUnreachableWithoutEarlierIssue(t *testing.T) {
	// Any row with high < low already breaks one of the first two rules.
	row := models.Row{Open: 10, High: 9, Low: 11, Close: 10}
	issue, bad := ohlcIssue(row)
	assert.True(t, bad)
	assert.NotEqual(t, models.IssueHighBelowLow, issue)
}

func TestValidateSampleCaps(t *testing.T) {
	rows := make([]models.Row, 0, 30)
	for i := 0; i < 30; i++ {
		row := barAt("AAPL", 2)
		row.TS = row.TS.Add(time.Duration(i) * 24 * time.Hour)
		row.High = 1
		row.Volume = -1
		rows = append(rows, row)
	}

	_, report := newTestValidator(nil).ValidateWeekly(rows, rangeStart, rangeEnd)
	assert.Equal(t, 30, report.Issues.OHLCViolations.Count)
	assert.Len(t, report.Issues.OHLCViolations.Samples, DefaultSampleLimit)
	assert.Equal(t, 30, report.Issues.VolumeViolations.Count)
	assert.Len(t, report.Issues.VolumeViolations.Samples, DefaultSampleLimit)
	assert.Equal(t, int64(-1), report.Issues.VolumeViolations.Samples[0].Volume)

	_, report = newTestValidator(nil, WithSampleLimit(5)).ValidateWeekly(rows, rangeStart, rangeEnd)
	assert.Len(t, report.Issues.OHLCViolations.Samples, 5)
	assert.Equal(t, 30, report.Issues.OHLCViolations.Count)
}

func TestValidateMissingDays(t *testing.T) {
	rows := []models.Row{
		barAt("AAPL", 2), barAt("AAPL", 5),
		barAt("MSFT", 2), barAt("MSFT", 3), barAt("MSFT", 4), barAt("MSFT", 5),
		barAt("IBM", 3),
	}

	ok, report := newTestValidator(calendar.NewRegistry()).ValidateDaily(rows, rangeStart, rangeEnd)
	assert.True(t, ok, "missing days do not fail validation")

	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, report.MissingDays.PerSymbol["AAPL"])
	assert.Equal(t, []string{"2024-01-02", "2024-01-04", "2024-01-05"}, report.MissingDays.PerSymbol["IBM"])
	assert.NotContains(t, report.MissingDays.PerSymbol, "MSFT")
	assert.Equal(t, 5, report.MissingDays.Total)
	assert.Empty(t, report.MissingDays.Error)
}

func TestValidateMissingDaysUsesExchangeTimezone(t *testing.T) {
	// 2024-01-03 03:00 UTC is still 2024-01-02 in New York.
	row := barAt("AAPL", 2)
	row.TS = time.Date(2024, 1, 3, 3, 0, 0, 0, time.UTC)

	_, report := newTestValidator(calendar.NewRegistry()).ValidateDaily([]models.Row{row},
		rangeStart, rangeStart.AddDate(0, 0, 1))
	assert.Equal(t, []string{"2024-01-03"}, report.MissingDays.PerSymbol["AAPL"])

	_, report = newTestValidator(calendar.NewRegistry(), WithLocation(time.UTC)).ValidateDaily([]models.Row{row},
		rangeStart, rangeStart.AddDate(0, 0, 1))
	assert.Equal(t, []string{"2024-01-02"}, report.MissingDays.PerSymbol["AAPL"])
}

func TestValidateCalendarFailureIsAnnotated(t *testing.T) {
	rows := []models.Row{barAt("AAPL", 2)}

	tests := []struct {
		name     string
		v        *Validator
		contains string
	}{
		{
			name:     "unknown exchange",
			v:        newTestValidator(calendar.NewRegistry(), WithExchange("XXXX")),
			contains: "unknown exchange calendar",
		},
		{
			name:     "provider error",
			v:        newTestValidator(&fakeCalendar{err: errors.New("calendar offline")}),
			contains: "calendar offline",
		},
		{
			name:     "provider panic",
			v:        newTestValidator(&fakeCalendar{panics: true}),
			contains: "calendar exploded",
		},
		{
			name:     "no calendar",
			v:        newTestValidator(nil),
			contains: "no trading calendar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, report := tt.v.ValidateDaily(rows, rangeStart, rangeEnd)
			assert.True(t, ok)
			assert.Contains(t, report.MissingDays.Error, tt.contains)
			assert.Zero(t, report.MissingDays.Total)
			assert.Empty(t, report.MissingDays.PerSymbol)
			assert.Equal(t, 1, report.Summary.BarsCount)
		})
	}
}

func TestValidateWeeklySkipsCalendar(t *testing.T) {
	cal := &fakeCalendar{sessions: []time.Time{rangeStart}}
	ok, report := newTestValidator(cal).Validate([]models.Row{barAt("AAPL", 3)}, rangeStart, rangeEnd, models.TimeframeWeekly)
	assert.True(t, ok)
	assert.Zero(t, cal.calls)
	assert.Zero(t, report.MissingDays.Total)
	assert.Empty(t, report.MissingDays.Error)
}

func TestReportJSONShape(t *testing.T) {
	rows := []models.Row{barAt("AAPL", 2), barAt("AAPL", 2)}
	_, report := newTestValidator(calendar.NewRegistry()).ValidateDaily(rows, rangeStart, rangeEnd)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"summary": {"symbols_count": 1, "bars_count": 2, "date_range": {"start": "2024-01-02", "end": "2024-01-05"}},
		"issues": {
			"duplicates": [{"symbol": "AAPL", "ts": "2024-01-02T05:00:00+00:00", "count": 2}],
			"non_monotonic": [{"symbol": "AAPL", "example_ts_prev": "2024-01-02T05:00:00+00:00", "example_ts_next": "2024-01-02T05:00:00+00:00"}],
			"ohlc_violations": {"count": 0, "samples": []},
			"volume_violations": {"count": 0, "samples": []}
		},
		"missing_days": {
			"AAPL": ["2024-01-03", "2024-01-04", "2024-01-05"],
			"totals": {"missing_days_count_total": 3}
		}
	}`, string(data))
}
