// Package normalize converts raw provider bars into the fixed-schema row
// table consumed by the resampler, validator and exporter.
package normalize

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/ohlcv-hub/internal/models"
)

// Params carries the metadata stamped onto every normalized row.
type Params struct {
	Timeframe  models.Timeframe
	Source     string
	Currency   string // empty means models.DefaultCurrency
	Adjustment models.Adjustment
}

// Normalizer turns merged per-symbol bars into sorted rows.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer that reports skipped bars to logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default().With("component", "normalizer")
	}
	return &Normalizer{logger: logger}
}

// Normalize flattens bars into rows sorted by (symbol, ts).
//
// Bars without a timestamp are dropped silently; bars whose timestamp is not
// RFC-3339 are dropped with a warning. Missing prices default to 0 and a
// missing volume to 0; fractional volumes are truncated toward zero. The
// result is never nil.
func (n *Normalizer) Normalize(bars map[string][]models.RawBar, p Params) []models.Row {
	currency := p.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	total := 0
	for _, list := range bars {
		total += len(list)
	}
	rows := make([]models.Row, 0, total)

	skipped := 0
	for symbol, list := range bars {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		for _, bar := range list {
			if bar.Timestamp == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, bar.Timestamp)
			if err != nil {
				skipped++
				n.logger.Warn("skipping bar with unparseable timestamp",
					"symbol", symbol,
					"timestamp", bar.Timestamp,
					"error", err)
				continue
			}

			rows = append(rows, models.Row{
				Symbol:     symbol,
				Timeframe:  p.Timeframe,
				TS:         ts.UTC(),
				Open:       price(bar.Open),
				High:       price(bar.High),
				Low:        price(bar.Low),
				Close:      price(bar.Close),
				Volume:     volume(bar.Volume),
				Source:     p.Source,
				Currency:   currency,
				Adjustment: string(p.Adjustment),
			})
		}
	}

	// Pages do not guarantee a global order across symbols.
	sort.SliceStable(rows, func(i, j int) bool {
		return models.Less(rows[i], rows[j])
	})

	n.logger.Debug("normalized bars",
		"symbols", len(bars),
		"rows", len(rows),
		"skipped", skipped)

	return rows
}

func price(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func volume(d *decimal.Decimal) int64 {
	if d == nil {
		return 0
	}
	return d.IntPart()
}
