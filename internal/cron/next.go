package cron

import (
	"time"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// searchHorizon bounds the forward search. Expressions that cannot match
// within a year of the seed time (e.g. "0 0 30 2 *") report not-found
// instead of erroring or spinning.
const searchHorizon = 365 * 24 * time.Hour

// Next returns the first time strictly after from that matches the
// expression, in from's location. ok is false when no match exists within
// the search horizon.
//
// The search jumps to the next candidate boundary of the first mismatching
// field (top of next month, day, hour, minute) instead of stepping one unit
// at a time, so sparse expressions resolve without a year of iterations.
func (e *Expression) Next(from time.Time) (next time.Time, ok bool) {
	loc := from.Location()
	limit := from.Add(searchHorizon)

	// Advance to the next whole unit so the result is strictly after from.
	var t time.Time
	if e.Extended {
		t = from.Truncate(time.Second).Add(time.Second)
	} else {
		t = from.Truncate(time.Minute).Add(time.Minute)
	}
	t = t.In(loc)

wrap:
	for {
		if t.After(limit) {
			return time.Time{}, false
		}

		for !e.Month.has(int(t.Month())) {
			// Jump to the first instant of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
			if t.After(limit) {
				return time.Time{}, false
			}
		}

		for !e.matchesDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			if t.After(limit) {
				return time.Time{}, false
			}
			if t.Day() == 1 {
				continue wrap
			}
		}

		for !e.Hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).Add(time.Hour)
			if t.Hour() == 0 {
				continue wrap
			}
		}

		for !e.Minute.has(t.Minute()) {
			t = t.Truncate(time.Minute).Add(time.Minute)
			if t.Minute() == 0 {
				continue wrap
			}
		}

		if e.Extended {
			for !e.Second.has(t.Second()) {
				t = t.Truncate(time.Second).Add(time.Second)
				if t.Second() == 0 {
					continue wrap
				}
			}
		}

		return t, true
	}
}

// NextN returns up to n successive occurrences after from, each search
// seeded from the previous result.
func (e *Expression) NextN(from time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		next, ok := e.Next(t)
		if !ok {
			break
		}
		runs = append(runs, next)
		t = next
	}
	return runs
}

// matchesDay applies the combined day-of-month / day-of-week rule. When both
// fields are restricted they are OR'd: matching either is sufficient. This is
// standard cron behavior and intentional, however surprising.
func (e *Expression) matchesDay(t time.Time) bool {
	domRestricted := e.Day.restricted()
	dowRestricted := e.Weekday.restricted()

	dom := e.dayFieldMatch(t)
	dow := e.weekdayFieldMatch(t)

	switch {
	case domRestricted && dowRestricted:
		return dom || dow
	case domRestricted:
		return dom
	case dowRestricted:
		return dow
	default:
		return true
	}
}

// dayFieldMatch evaluates the day-of-month field including L and W terms.
func (e *Expression) dayFieldMatch(t time.Time) bool {
	f := &e.Day
	if f.has(t.Day()) {
		return true
	}
	if f.LastDay && t.Day() == daysIn(t.Year(), t.Month()) {
		return true
	}
	for _, day := range f.NearestDays {
		if nearestWeekday(t.Year(), t.Month(), day) == t.Day() {
			return true
		}
	}
	return false
}

// weekdayFieldMatch evaluates the weekday field including nL and n#k terms.
func (e *Expression) weekdayFieldMatch(t time.Time) bool {
	f := &e.Weekday
	wd := int(t.Weekday())
	if f.has(wd) {
		return true
	}
	for _, last := range f.LastWeekdays {
		if wd == last && t.Day() > daysIn(t.Year(), t.Month())-7 {
			return true
		}
	}
	for _, nth := range f.NthWeekdays {
		if wd == nth.Weekday && (t.Day()-1)/7+1 == nth.Nth {
			return true
		}
	}
	return false
}

// daysIn returns the number of days in the given month, leap-year aware.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}

// nearestWeekday resolves an "nW" term to a day number: the given day if it
// is a weekday, otherwise the closest adjacent weekday within the same month.
// Returns 0 when the day does not occur in the month.
func nearestWeekday(year int, month time.Month, day int) int {
	max := daysIn(year, month)
	if day > max {
		return 0
	}
	switch time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Weekday() {
	case time.Saturday:
		if day-1 >= 1 {
			return day - 1
		}
		return day + 2 // the 1st on a Saturday shifts to Monday the 3rd
	case time.Sunday:
		if day+1 <= max {
			return day + 1
		}
		return day - 2
	default:
		return day
	}
}
