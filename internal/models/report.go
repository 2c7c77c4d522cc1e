package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// OHLC violation reasons, checked in this priority order.
const (
	IssueHighBelowOpenClose = "high < max(open, close)"
	IssueLowAboveOpenClose  = "low > min(open, close)"
	IssueHighBelowLow       = "high < low"
)

// ValidationReport is the structured outcome of validating a normalized table.
// It is always total: every section is present even when empty, and OK is
// derived from the issues rather than stored.
type ValidationReport struct {
	Summary     Summary     `json:"summary"`
	Issues      Issues      `json:"issues"`
	MissingDays MissingDays `json:"missing_days"`
}

// Summary describes the size and requested range of the validated table.
type Summary struct {
	SymbolsCount int       `json:"symbols_count"`
	BarsCount    int       `json:"bars_count"`
	DateRange    DateRange `json:"date_range"`
}

// DateRange is the requested [start, end] range, as YYYY-MM-DD.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Issues groups the structural checks.
type Issues struct {
	Duplicates       []Duplicate      `json:"duplicates"`
	NonMonotonic     []NonMonotonic   `json:"non_monotonic"`
	OHLCViolations   OHLCViolations   `json:"ohlc_violations"`
	VolumeViolations VolumeViolations `json:"volume_violations"`
}

// Duplicate is a (symbol, ts) key that occurs more than once.
type Duplicate struct {
	Symbol string `json:"symbol"`
	TS     string `json:"ts"`
	Count  int    `json:"count"`
}

// NonMonotonic is the first out-of-order pair observed for a symbol.
type NonMonotonic struct {
	Symbol        string `json:"symbol"`
	ExampleTSPrev string `json:"example_ts_prev"`
	ExampleTSNext string `json:"example_ts_next"`
}

// OHLCViolations holds the total count and a capped sample list.
type OHLCViolations struct {
	Count   int          `json:"count"`
	Samples []OHLCSample `json:"samples"`
}

// OHLCSample is one row that broke an OHLC invariant.
type OHLCSample struct {
	Symbol string  `json:"symbol"`
	TS     string  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Issue  string  `json:"issue"`
}

// VolumeViolations holds the total count and a capped sample list.
type VolumeViolations struct {
	Count   int            `json:"count"`
	Samples []VolumeSample `json:"samples"`
}

// VolumeSample is one row with a negative volume.
type VolumeSample struct {
	Symbol string `json:"symbol"`
	TS     string `json:"ts"`
	Volume int64  `json:"volume"`
}

// MissingDays lists, per symbol, the trading sessions with no bar.
// Error is set when the calendar lookup failed; Total is zero in that case.
type MissingDays struct {
	PerSymbol map[string][]string
	Total     int
	Error     string
}

type missingDaysTotals struct {
	MissingDaysCountTotal int `json:"missing_days_count_total"`
}

// MarshalJSON flattens per-symbol lists next to the "totals" and "error" keys:
//
//	{"AAPL": ["2024-01-03"], "totals": {"missing_days_count_total": 1}}
func (m MissingDays) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.PerSymbol)+2)
	for symbol, dates := range m.PerSymbol {
		out[symbol] = dates
	}
	out["totals"] = missingDaysTotals{MissingDaysCountTotal: m.Total}
	if m.Error != "" {
		out["error"] = m.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (m *MissingDays) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = MissingDays{PerSymbol: make(map[string][]string)}
	for key, value := range raw {
		switch key {
		case "totals":
			var totals missingDaysTotals
			if err := json.Unmarshal(value, &totals); err != nil {
				return fmt.Errorf("missing_days.totals: %w", err)
			}
			m.Total = totals.MissingDaysCountTotal
		case "error":
			if err := json.Unmarshal(value, &m.Error); err != nil {
				return fmt.Errorf("missing_days.error: %w", err)
			}
		default:
			var dates []string
			if err := json.Unmarshal(value, &dates); err != nil {
				return fmt.Errorf("missing_days.%s: %w", key, err)
			}
			m.PerSymbol[key] = dates
		}
	}
	return nil
}

// Symbols returns the symbols with missing days, sorted.
func (m MissingDays) Symbols() []string {
	symbols := make([]string, 0, len(m.PerSymbol))
	for symbol := range m.PerSymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// NewValidationReport returns an empty report for the given range with every
// list initialized, so it serializes with [] rather than null.
func NewValidationReport(start, end string) ValidationReport {
	return ValidationReport{
		Summary: Summary{
			DateRange: DateRange{Start: start, End: end},
		},
		Issues: Issues{
			Duplicates:       []Duplicate{},
			NonMonotonic:     []NonMonotonic{},
			OHLCViolations:   OHLCViolations{Samples: []OHLCSample{}},
			VolumeViolations: VolumeViolations{Samples: []VolumeSample{}},
		},
		MissingDays: MissingDays{PerSymbol: map[string][]string{}},
	}
}

// OK reports whether every structural check came back clean.
// Missing trading days do not affect OK.
func (r ValidationReport) OK() bool {
	return len(r.Issues.Duplicates) == 0 &&
		len(r.Issues.NonMonotonic) == 0 &&
		r.Issues.OHLCViolations.Count == 0 &&
		r.Issues.VolumeViolations.Count == 0
}
