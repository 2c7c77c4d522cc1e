// Package calendar supplies exchange trading sessions for the completeness
// check in the validator.
package calendar

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // exchange timezones must resolve on hosts without zoneinfo

	"github.com/johnayoung/ohlcv-hub/internal/models"
)

// SessionProvider returns the trading sessions of an exchange.
type SessionProvider interface {
	// Sessions returns every session date in [start, end] (inclusive, by
	// calendar date), ascending, as midnight UTC values.
	Sessions(exchange string, start, end time.Time) ([]time.Time, error)

	// Location returns the exchange's local trading timezone.
	Location(exchange string) (*time.Location, error)
}

// Calendar decides whether a single date is a trading session.
type Calendar interface {
	Name() string
	Location() *time.Location
	IsSession(date time.Time) bool
	// Bounds reports the first and last dates the rules are valid for.
	Bounds() (first, last time.Time)
}

// Registry is a SessionProvider backed by named calendars.
type Registry struct {
	mu        sync.RWMutex
	calendars map[string]Calendar
}

// NewRegistry returns a registry with the built-in calendars registered
// under their MIC codes and common aliases.
func NewRegistry() *Registry {
	r := &Registry{calendars: make(map[string]Calendar)}
	nyse := NewNYSE()
	r.Register(nyse, "XNYS", "NYSE")
	return r
}

// Register adds cal under each of the given names (case-insensitive).
func (r *Registry) Register(cal Calendar, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.calendars[strings.ToUpper(strings.TrimSpace(name))] = cal
	}
}

// Get returns the calendar registered under name.
func (r *Registry) Get(name string) (Calendar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cal, ok := r.calendars[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown exchange calendar %q", name)
	}
	return cal, nil
}

// Location implements SessionProvider.
func (r *Registry) Location(exchange string) (*time.Location, error) {
	cal, err := r.Get(exchange)
	if err != nil {
		return nil, err
	}
	return cal.Location(), nil
}

// Sessions implements SessionProvider. An end before start yields no
// sessions; a range outside the calendar's bounds is an error.
func (r *Registry) Sessions(exchange string, start, end time.Time) ([]time.Time, error) {
	cal, err := r.Get(exchange)
	if err != nil {
		return nil, err
	}

	start, end = models.Date(start), models.Date(end)
	if end.Before(start) {
		return []time.Time{}, nil
	}

	first, last := cal.Bounds()
	if start.Before(first) || end.After(last) {
		return nil, fmt.Errorf("%s calendar covers %s to %s, requested %s to %s",
			cal.Name(),
			models.FormatDate(first), models.FormatDate(last),
			models.FormatDate(start), models.FormatDate(end))
	}

	sessions := make([]time.Time, 0)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if cal.IsSession(d) {
			sessions = append(sessions, d)
		}
	}
	return sessions, nil
}
