package calendar

import (
	"time"
)

const (
	nyseName     = "XNYS"
	nyseTimezone = "America/New_York"

	// Rule set validity
	nyseFirstYear = 1990
	nyseLastYear  = 2099

	// Holidays introduced after the first supported year
	mlkDayFirstYear     = 1998
	juneteenthFirstYear = 2022
)

// nyseSpecialClosures are unscheduled full-day closures.
var nyseSpecialClosures = map[string]string{
	"1994-04-27": "President Nixon national day of mourning",
	"2001-09-11": "September 11 attacks",
	"2001-09-12": "September 11 attacks",
	"2001-09-13": "September 11 attacks",
	"2001-09-14": "September 11 attacks",
	"2004-06-11": "President Reagan national day of mourning",
	"2007-01-02": "President Ford national day of mourning",
	"2012-10-29": "Hurricane Sandy",
	"2012-10-30": "Hurricane Sandy",
	"2018-12-05": "President George H.W. Bush national day of mourning",
	"2025-01-09": "President Carter national day of mourning",
}

// NYSE is a rule-based New York Stock Exchange calendar covering regular
// holidays, weekend observance and known special closures.
type NYSE struct {
	loc *time.Location

	// holidays is cached per year
	holidays map[int]map[string]string
}

// NewNYSE builds the calendar. It falls back to a fixed UTC-5 zone if the
// timezone database is unavailable.
func NewNYSE() *NYSE {
	loc, err := time.LoadLocation(nyseTimezone)
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	n := &NYSE{loc: loc, holidays: make(map[int]map[string]string)}
	for year := nyseFirstYear; year <= nyseLastYear; year++ {
		n.holidays[year] = nyseHolidays(year)
	}
	return n
}

func (n *NYSE) Name() string             { return nyseName }
func (n *NYSE) Location() *time.Location { return n.loc }

func (n *NYSE) Bounds() (time.Time, time.Time) {
	return time.Date(nyseFirstYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(nyseLastYear, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// IsSession reports whether d (by its calendar day) is a trading day.
func (n *NYSE) IsSession(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	key := d.Format("2006-01-02")
	if _, closed := nyseSpecialClosures[key]; closed {
		return false
	}
	if _, holiday := n.holidays[d.Year()][key]; holiday {
		return false
	}
	return true
}

// nyseHolidays lists the regular closures observed in year.
func nyseHolidays(year int) map[string]string {
	h := make(map[string]string)
	add := func(d time.Time, name string) {
		// Observed dates can fall in the neighbouring year; keep them keyed
		// by their own year only.
		if d.Year() == year {
			h[d.Format("2006-01-02")] = name
		}
	}

	// A Saturday New Year's Day is not moved to Friday.
	newYear := date(year, time.January, 1)
	if newYear.Weekday() == time.Sunday {
		newYear = newYear.AddDate(0, 0, 1)
	}
	if newYear.Weekday() != time.Saturday {
		add(newYear, "New Year's Day")
	}

	if year >= mlkDayFirstYear {
		add(nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day")
	}
	add(nthWeekday(year, time.February, time.Monday, 3), "Washington's Birthday")
	add(easter(year).AddDate(0, 0, -2), "Good Friday")
	add(lastWeekday(year, time.May, time.Monday), "Memorial Day")
	if year >= juneteenthFirstYear {
		add(observed(date(year, time.June, 19)), "Juneteenth National Independence Day")
	}
	add(observed(date(year, time.July, 4)), "Independence Day")
	add(nthWeekday(year, time.September, time.Monday, 1), "Labor Day")
	add(nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day")
	add(observed(date(year, time.December, 25)), "Christmas Day")

	return h
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// observed moves a Saturday holiday to Friday and a Sunday holiday to Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth (1-based) weekday of the month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

// lastWeekday returns the last given weekday of the month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	last := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easter returns Western Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
