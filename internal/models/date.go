package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date wire format used in requests and reports.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006/01/02",
	"20060102",
}

// ParseDate parses a calendar date and returns midnight UTC of that day.
// YYYY-MM-DD is tried first; RFC-3339 timestamps keep only their date part.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date format: %q", s)
}

// Date truncates t to midnight UTC of its calendar date (in t's own location).
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
