// Package dataset orchestrates fetch, normalize, resample and validate into
// a single call per output granularity.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/ohlcv-hub/internal/exchange"
	"github.com/johnayoung/ohlcv-hub/internal/models"
	"github.com/johnayoung/ohlcv-hub/internal/normalize"
	"github.com/johnayoung/ohlcv-hub/internal/resample"
	"github.com/johnayoung/ohlcv-hub/internal/validator"
)

const (
	// DefaultLimit is the page size requested from the provider.
	DefaultLimit = exchange.MaxLimit

	// DefaultFeed is used when Params.Feed is empty.
	DefaultFeed = models.FeedIEX
)

// Params describes one dataset build.
type Params struct {
	Symbols    []string
	Start      time.Time
	End        time.Time
	Adjustment models.Adjustment
	Feed       models.Feed
}

// Result is a built table and its validation outcome.
type Result struct {
	Rows   []models.Row
	Report models.ValidationReport
	OK     bool

	// Currency reported by the provider, empty if none was
	Currency string
}

// Builder wires a fetcher and a validator into dataset builds.
type Builder struct {
	fetcher    exchange.BarsFetcher
	validator  *validator.Validator
	normalizer *normalize.Normalizer
	source     string
	limit      int
	logger     *slog.Logger
}

// NewBuilder creates a builder. Rows are stamped with models.SourceAlpaca.
// A nil normalizer gets a default one.
func NewBuilder(fetcher exchange.BarsFetcher, v *validator.Validator, n *normalize.Normalizer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default().With("component", "dataset_builder")
	}
	if n == nil {
		n = normalize.NewNormalizer(nil)
	}
	return &Builder{
		fetcher:    fetcher,
		validator:  v,
		normalizer: n,
		source:     models.SourceAlpaca,
		limit:      DefaultLimit,
		logger:     logger,
	}
}

// BuildDaily fetches daily bars, normalizes and validates them, including
// the trading-calendar completeness check.
func (b *Builder) BuildDaily(ctx context.Context, p Params) (*Result, error) {
	return b.Build(ctx, models.TimeframeDaily, p)
}

// BuildWeekly fetches daily bars and resamples them to Monday-anchored weeks
// before validating. Weekly reports carry no missing days.
func (b *Builder) BuildWeekly(ctx context.Context, p Params) (*Result, error) {
	return b.Build(ctx, models.TimeframeWeekly, p)
}

// Build runs the pipeline for tf. Only fetch failures are returned as
// errors; validation findings are in the result.
func (b *Builder) Build(ctx context.Context, tf models.Timeframe, p Params) (*Result, error) {
	if tf != models.TimeframeDaily && tf != models.TimeframeWeekly {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	feed := p.Feed
	if feed == "" {
		feed = DefaultFeed
	}
	adjustment := p.Adjustment
	if adjustment == "" {
		adjustment = models.AdjustmentRaw
	}

	b.logger.Info("building dataset",
		"timeframe", tf,
		"symbols", len(p.Symbols),
		"start", models.FormatDate(p.Start),
		"end", models.FormatDate(p.End),
		"adjustment", adjustment,
		"feed", feed)

	resp, err := b.fetcher.FetchBars(ctx, exchange.BarsRequest{
		Symbols:    p.Symbols,
		Timeframe:  exchange.TimeframeDay,
		Start:      p.Start,
		End:        p.End,
		Limit:      b.limit,
		Adjustment: adjustment,
		Feed:       feed,
		Sort:       exchange.SortAsc,
	})
	if err != nil {
		return nil, err
	}
	b.logger.Debug("fetched bars",
		"symbols", resp.SymbolList(),
		"bars", resp.Count(),
		"currency", resp.Currency)

	rows := b.normalizer.Normalize(resp.Bars, normalize.Params{
		Timeframe:  models.TimeframeDaily,
		Source:     b.source,
		Currency:   resp.Currency,
		Adjustment: adjustment,
	})

	if tf == models.TimeframeWeekly {
		rows = resample.ToWeekly(rows)
	}

	ok, report := b.validator.Validate(rows, p.Start, p.End, tf)

	b.logger.Info("dataset built",
		"timeframe", tf,
		"rows", len(rows),
		"ok", ok,
		"missing_days", report.MissingDays.Total)

	return &Result{Rows: rows, Report: report, OK: ok, Currency: resp.Currency}, nil
}
