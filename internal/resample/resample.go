// Package resample aggregates daily rows into Monday-anchored weekly rows.
package resample

import (
	"math"
	"sort"
	"time"

	"github.com/johnayoung/ohlcv-hub/internal/models"
)

// WeekStart returns Monday 00:00 UTC of the week containing ts.
// Weeks are closed on the left: Monday belongs to its own week.
func WeekStart(ts time.Time) time.Time {
	day := models.Date(ts.UTC())
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

type bucketKey struct {
	symbol string
	week   time.Time
}

// ToWeekly resamples daily rows per symbol into weekly bars labeled by week
// start: open is the first daily open, high the max, low the min, close the
// last close, volume the sum. Weeks without daily rows produce no output.
// Source, currency and adjustment come from each symbol's earliest daily row.
// The input need not be sorted; the output is sorted by (symbol, ts).
func ToWeekly(daily []models.Row) []models.Row {
	if len(daily) == 0 {
		return []models.Row{}
	}

	sorted := make([]models.Row, len(daily))
	copy(sorted, daily)
	sort.SliceStable(sorted, func(i, j int) bool {
		return models.Less(sorted[i], sorted[j])
	})

	firstOfSymbol := make(map[string]models.Row)
	buckets := make(map[bucketKey]*models.Row)
	order := make([]bucketKey, 0)

	for _, row := range sorted {
		if _, ok := firstOfSymbol[row.Symbol]; !ok {
			firstOfSymbol[row.Symbol] = row
		}

		key := bucketKey{symbol: row.Symbol, week: WeekStart(row.TS)}
		bucket, ok := buckets[key]
		if !ok {
			meta := firstOfSymbol[row.Symbol]
			bucket = &models.Row{
				Symbol:     row.Symbol,
				Timeframe:  models.TimeframeWeekly,
				TS:         key.week,
				Open:       row.Open,
				High:       math.Inf(-1),
				Low:        math.Inf(1),
				Source:     meta.Source,
				Currency:   meta.Currency,
				Adjustment: meta.Adjustment,
			}
			buckets[key] = bucket
			order = append(order, key)
		}

		bucket.High = math.Max(bucket.High, row.High)
		bucket.Low = math.Min(bucket.Low, row.Low)
		bucket.Close = row.Close
		bucket.Volume += row.Volume
	}

	weekly := make([]models.Row, 0, len(order))
	for _, key := range order {
		weekly = append(weekly, *buckets[key])
	}

	// Input was sorted by (symbol, ts), so buckets were created in order.
	return weekly
}
