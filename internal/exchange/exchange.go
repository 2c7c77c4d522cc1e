// Package exchange defines the market-data client interfaces and the Alpaca
// bars implementation used by the dataset builder.
//
// The interfaces are small and focused so the builder and CLI can be tested
// against fakes; the time seams (Clock, Sleeper) exist so retry and throttle
// behavior is deterministic in tests.
package exchange

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
	"github.com/johnayoung/ohlcv-hub/internal/models"
)

// BarsFetcher retrieves historical bars for a set of symbols.
//
// Implementations follow every page of the upstream result and return the
// merged per-symbol lists. Throttling and 429 retries happen inside the call;
// only terminal failures are returned, as *errors.ProviderError or
// *errors.InputError.
type BarsFetcher interface {
	FetchBars(ctx context.Context, req BarsRequest) (*BarsResponse, error)
}

// HealthChecker verifies that credentials and connectivity are usable.
type HealthChecker interface {
	// Ping issues the smallest possible authenticated request.
	Ping(ctx context.Context) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration. Implementations return early with the
// context's error if it is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// RealSleeper blocks on a timer.
type RealSleeper struct{}

// Sleep waits for d or until ctx is done.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	// Upstream bars timeframe for daily data
	TimeframeDay = "1Day"

	SortAsc  = "asc"
	SortDesc = "desc"

	MinLimit = 1
	MaxLimit = 10000
)

// BarsRequest specifies one multi-page bars fetch.
type BarsRequest struct {
	// Symbols are case-folded, trimmed and de-blanked before use
	Symbols []string `json:"symbols" validate:"min=1"`

	// Timeframe is the upstream timeframe string, e.g. "1Day"
	Timeframe string `json:"timeframe" validate:"required"`

	// Start and End are calendar dates, both inclusive
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Limit is the maximum number of bars per page
	Limit int `json:"limit" validate:"min=1,max=10000"`

	Adjustment models.Adjustment `json:"adjustment" validate:"required,oneof=raw split dividend spin-off all"`

	// Feed is optional; empty lets the provider choose
	Feed models.Feed `json:"feed,omitempty" validate:"omitempty,oneof=iex sip boats otc"`

	// AsOf is an optional YYYY-MM-DD symbol-mapping date
	AsOf string `json:"asof,omitempty" validate:"omitempty,datetime=2006-01-02"`

	// Sort defaults to ascending when empty
	Sort string `json:"sort,omitempty" validate:"omitempty,oneof=asc desc"`
}

// BarsResponse is the merged result of every page.
type BarsResponse struct {
	// Bars holds each symbol's bars in page order
	Bars map[string][]models.RawBar `json:"bars"`

	// Currency comes from the first page that reported one; empty if none did
	Currency string `json:"currency,omitempty"`
}

var requestValidator = validator.New()

// NormalizeSymbols upper-cases and trims each symbol, dropping blanks.
// Order and duplicates are preserved.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseSymbols splits a comma-separated list and normalizes it.
func ParseSymbols(list string) []string {
	return NormalizeSymbols(strings.Split(list, ","))
}

// Validate checks the request after symbol normalization. The limit range is
// checked before anything else, matching the order callers see errors in.
func (r *BarsRequest) Validate() error {
	if r.Limit < MinLimit || r.Limit > MaxLimit {
		return apperrors.NewInputError("limit", "must be between %d and %d, got %d", MinLimit, MaxLimit, r.Limit)
	}
	if len(NormalizeSymbols(r.Symbols)) == 0 {
		return apperrors.NewInputError("symbols", "at least one symbol is required")
	}
	if r.Start.IsZero() {
		return apperrors.NewInputError("start", "start date is required")
	}
	if r.End.IsZero() {
		return apperrors.NewInputError("end", "end date is required")
	}

	if err := requestValidator.Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.NewInputError(strings.ToLower(fe.Field()), "value %v fails %q", fe.Value(), fe.Tag())
		}
		return apperrors.NewInputError("request", "%v", err)
	}
	return nil
}

// SymbolList returns the response's symbols in sorted order.
func (r *BarsResponse) SymbolList() []string {
	symbols := make([]string, 0, len(r.Bars))
	for symbol := range r.Bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Count returns the total number of bars across symbols.
func (r *BarsResponse) Count() int {
	n := 0
	for _, bars := range r.Bars {
		n += len(bars)
	}
	return n
}
