// Package models provides the data structures shared by the fetch, normalize,
// resample, validate and export stages of the OHLCV pipeline.
// This package contains the raw provider bar, the normalized row schema, the
// request enums and the validation report.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe identifies the granularity of a normalized row.
type Timeframe string

const (
	TimeframeDaily  Timeframe = "1d"
	TimeframeWeekly Timeframe = "1w"
)

// Adjustment is the upstream corporate-action normalization mode.
type Adjustment string

const (
	AdjustmentRaw      Adjustment = "raw"
	AdjustmentSplit    Adjustment = "split"
	AdjustmentDividend Adjustment = "dividend"
	AdjustmentSpinOff  Adjustment = "spin-off"
	AdjustmentAll      Adjustment = "all"
)

// Feed selects the upstream market-data source.
type Feed string

const (
	FeedIEX   Feed = "iex"
	FeedSIP   Feed = "sip"
	FeedBOATS Feed = "boats"
	FeedOTC   Feed = "otc"
)

// OutputFormat selects the on-disk table format used by the exporter.
type OutputFormat string

const (
	FormatParquet OutputFormat = "parquet"
	FormatCSV     OutputFormat = "csv"
)

// SourceAlpaca is the source label stamped on rows fetched from the Alpaca bars endpoint.
const SourceAlpaca = "alpaca"

// DefaultCurrency is used when the provider payload carries no currency.
const DefaultCurrency = "USD"

// ParseTimeframe converts a user supplied string into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(strings.ToLower(strings.TrimSpace(s))) {
	case TimeframeDaily:
		return TimeframeDaily, nil
	case TimeframeWeekly:
		return TimeframeWeekly, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q (expected 1d or 1w)", s)
}

// ParseAdjustment converts a user supplied string into an Adjustment.
func ParseAdjustment(s string) (Adjustment, error) {
	a := Adjustment(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case AdjustmentRaw, AdjustmentSplit, AdjustmentDividend, AdjustmentSpinOff, AdjustmentAll:
		return a, nil
	}
	return "", fmt.Errorf("unsupported adjustment %q", s)
}

// ParseFeed converts a user supplied string into a Feed.
func ParseFeed(s string) (Feed, error) {
	f := Feed(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FeedIEX, FeedSIP, FeedBOATS, FeedOTC:
		return f, nil
	}
	return "", fmt.Errorf("unsupported feed %q (expected iex, sip, boats or otc)", s)
}

// ParseOutputFormat converts a user supplied string into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatParquet, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (expected parquet or csv)", s)
}

// RawBar is one bar as delivered by the provider, nested under its symbol key.
// Numeric fields accept JSON numbers or numeric strings; a field absent from the
// payload (or null) is left nil so the normalizer can apply its defaults.
type RawBar struct {
	Timestamp  string           `json:"t,omitempty"`
	Open       *decimal.Decimal `json:"o,omitempty"`
	High       *decimal.Decimal `json:"h,omitempty"`
	Low        *decimal.Decimal `json:"l,omitempty"`
	Close      *decimal.Decimal `json:"c,omitempty"`
	Volume     *decimal.Decimal `json:"v,omitempty"`
	TradeCount *int64           `json:"n,omitempty"`
	VWAP       *decimal.Decimal `json:"vw,omitempty"`
}

// Row is one normalized OHLCV observation. Rows are ordered by (Symbol, TS);
// uniqueness and OHLC sanity are not enforced here, that is the validator's job.
type Row struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	Timeframe  Timeframe `json:"timeframe" db:"timeframe"`
	TS         time.Time `json:"ts" db:"ts"`
	Open       float64   `json:"open" db:"open"`
	High       float64   `json:"high" db:"high"`
	Low        float64   `json:"low" db:"low"`
	Close      float64   `json:"close" db:"close"`
	Volume     int64     `json:"volume" db:"volume"`
	Source     string    `json:"source" db:"source"`
	Currency   string    `json:"currency" db:"currency"`
	Adjustment string    `json:"adjustment" db:"adjustment"`
}

// Columns is the fixed column order of the normalized table.
var Columns = []string{
	"symbol",
	"timeframe",
	"ts",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"source",
	"currency",
	"adjustment",
}

// Values returns the row's fields in Columns order.
func (r Row) Values() []any {
	return []any{
		r.Symbol,
		string(r.Timeframe),
		r.TS,
		r.Open,
		r.High,
		r.Low,
		r.Close,
		r.Volume,
		r.Source,
		r.Currency,
		r.Adjustment,
	}
}

// String returns a compact human-readable form of the row.
func (r Row) String() string {
	return fmt.Sprintf("Row{%s %s %s O:%g H:%g L:%g C:%g V:%d}",
		r.Symbol, r.Timeframe, r.TS.Format(time.RFC3339), r.Open, r.High, r.Low, r.Close, r.Volume)
}

// Less orders rows by symbol, then timestamp.
func Less(a, b Row) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	return a.TS.Before(b.TS)
}
