// Package cron parses crontab expressions and computes occurrence times.
//
// It supports the classic 5-field form (minute hour day month weekday) and an
// extended 6-field form with a leading seconds field, plus the @hourly family
// of aliases, month/weekday names, and the L, W and n#k extensions.
package cron

import (
	"fmt"
	"strings"

	"taskrunner/internal/domain"
)

// FieldKind identifies one position of a cron expression.
type FieldKind int

const (
	FieldSecond FieldKind = iota
	FieldMinute
	FieldHour
	FieldDay
	FieldMonth
	FieldWeekday
)

var fieldNames = map[FieldKind]string{
	FieldSecond:  "second",
	FieldMinute:  "minute",
	FieldHour:    "hour",
	FieldDay:     "day",
	FieldMonth:   "month",
	FieldWeekday: "weekday",
}

func (k FieldKind) String() string { return fieldNames[k] }

// fieldBounds holds the valid value range per field kind.
var fieldBounds = map[FieldKind][2]int{
	FieldSecond:  {0, 59},
	FieldMinute:  {0, 59},
	FieldHour:    {0, 23},
	FieldDay:     {1, 31},
	FieldMonth:   {1, 12},
	FieldWeekday: {0, 7}, // 7 folds into 0 (Sunday)
}

// nthSpec is one "n#k" term: the k-th occurrence of weekday n in the month.
type nthSpec struct {
	Weekday int
	Nth     int
}

// Field is one parsed position of a cron expression: the resolved set of
// matching values plus flags describing how the set was derived.
type Field struct {
	Kind FieldKind

	set uint64 // bitmask of plain matching values

	Wildcard bool
	Stepped  bool
	Ranged   bool
	Listed   bool

	// Day-field extensions.
	LastDay     bool  // "L": last day of the month
	NearestDays []int // "nW": nearest weekday to day n

	// Weekday-field extensions.
	LastWeekdays []int     // "nL": last occurrence of weekday n
	NthWeekdays  []nthSpec // "n#k"
}

// has reports whether v is in the plain value set.
func (f *Field) has(v int) bool { return f.set&(1<<uint(v)) != 0 }

// restricted reports whether the field constrains matching at all.
// A bare "*" is unrestricted; everything else restricts.
func (f *Field) restricted() bool { return !f.Wildcard }

// Expression is a parsed, immutable cron expression.
type Expression struct {
	Source   string
	Extended bool // true for the 6-field (seconds) form

	Second  Field
	Minute  Field
	Hour    Field
	Day     Field
	Month   Field
	Weekday Field
}

// ParseError describes a cron expression that failed to parse. It wraps
// domain.ErrInvalidInput.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cron %q: %s: %s", e.Expr, e.Reason, domain.ErrInvalidInput)
}

func (e *ParseError) Unwrap() error { return domain.ErrInvalidInput }

func parseErr(expr, format string, args ...any) error {
	return &ParseError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}

// aliases expand to canonical 5-field expressions before splitting.
var aliases = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Parse parses a cron expression. Expressions have 5 fields
// (minute hour day month weekday) or 6 (with a leading seconds field).
func Parse(text string) (*Expression, error) {
	src := strings.TrimSpace(text)
	if src == "" {
		return nil, parseErr(text, "empty expression")
	}

	expanded := src
	if strings.HasPrefix(expanded, "@") {
		alias, ok := aliases[strings.ToLower(expanded)]
		if !ok {
			return nil, parseErr(src, "unknown alias %q", expanded)
		}
		expanded = alias
	}

	parts := strings.Fields(expanded)
	var kinds []FieldKind
	switch len(parts) {
	case 5:
		kinds = []FieldKind{FieldMinute, FieldHour, FieldDay, FieldMonth, FieldWeekday}
	case 6:
		kinds = []FieldKind{FieldSecond, FieldMinute, FieldHour, FieldDay, FieldMonth, FieldWeekday}
	default:
		return nil, parseErr(src, "expected 5 or 6 fields, got %d", len(parts))
	}

	expr := &Expression{Source: src, Extended: len(parts) == 6}
	for i, part := range parts {
		f, err := parseField(src, kinds[i], part)
		if err != nil {
			return nil, err
		}
		switch kinds[i] {
		case FieldSecond:
			expr.Second = *f
		case FieldMinute:
			expr.Minute = *f
		case FieldHour:
			expr.Hour = *f
		case FieldDay:
			expr.Day = *f
		case FieldMonth:
			expr.Month = *f
		case FieldWeekday:
			expr.Weekday = *f
		}
	}

	if !expr.Extended {
		// 5-field expressions fire at second zero.
		expr.Second = Field{Kind: FieldSecond, set: 1 << 0}
	}

	return expr, nil
}

// Validate wraps Parse plus a next-run probe, returning a human-readable
// reason instead of an error so callers can surface it directly.
func Validate(text string) (bool, string) {
	expr, err := Parse(text)
	if err != nil {
		var pe *ParseError
		if ok := asParseError(err, &pe); ok {
			return false, pe.Reason
		}
		return false, err.Error()
	}
	if _, ok := expr.Next(nowFunc()); !ok {
		return false, "expression never matches within the search horizon"
	}
	return true, ""
}

func asParseError(err error, target **ParseError) bool {
	for err != nil {
		if pe, ok := err.(*ParseError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// parseField parses one comma-separated field.
func parseField(expr string, kind FieldKind, text string) (*Field, error) {
	f := &Field{Kind: kind}
	items := strings.Split(text, ",")
	f.Listed = len(items) > 1

	for _, item := range items {
		if item == "" {
			return nil, parseErr(expr, "%s: empty list item", kind)
		}
		if err := parseItem(expr, f, item); err != nil {
			return nil, err
		}
	}

	// A wildcard only counts when it is the entire field.
	if f.Wildcard && (f.Listed || f.Stepped) {
		f.Wildcard = false
	}
	return f, nil
}

// parseItem parses one list item into f, accumulating values and flags.
func parseItem(expr string, f *Field, item string) error {
	bounds := fieldBounds[f.Kind]
	lower := strings.ToLower(item)

	// Extensions first: they do not combine with steps.
	switch {
	case f.Kind == FieldDay && lower == "l":
		f.LastDay = true
		return nil
	case f.Kind == FieldDay && strings.HasSuffix(lower, "w"):
		day, err := resolveValue(f.Kind, strings.TrimSuffix(lower, "w"))
		if err != nil || day < bounds[0] || day > bounds[1] {
			return parseErr(expr, "%s: invalid nearest-weekday %q", f.Kind, item)
		}
		f.NearestDays = append(f.NearestDays, day)
		return nil
	case f.Kind == FieldWeekday && strings.HasSuffix(lower, "l"):
		wd, err := resolveValue(f.Kind, strings.TrimSuffix(lower, "l"))
		if err != nil || wd < 0 || wd > 7 {
			return parseErr(expr, "%s: invalid last-weekday %q", f.Kind, item)
		}
		f.LastWeekdays = append(f.LastWeekdays, wd%7)
		return nil
	case f.Kind == FieldWeekday && strings.Contains(lower, "#"):
		wdText, nthText, _ := strings.Cut(lower, "#")
		wd, err := resolveValue(f.Kind, wdText)
		if err != nil || wd < 0 || wd > 7 {
			return parseErr(expr, "%s: invalid nth-weekday %q", f.Kind, item)
		}
		nth, err := atoi(nthText)
		if err != nil || nth < 1 || nth > 5 {
			return parseErr(expr, "%s: nth occurrence must be 1-5 in %q", f.Kind, item)
		}
		f.NthWeekdays = append(f.NthWeekdays, nthSpec{Weekday: wd % 7, Nth: nth})
		return nil
	}

	rangeText, stepText, hasStep := strings.Cut(lower, "/")
	step := 1
	if hasStep {
		n, err := atoi(stepText)
		if err != nil || n <= 0 {
			return parseErr(expr, "%s: invalid step %q", f.Kind, item)
		}
		step = n
		f.Stepped = true
	}

	lo, hi := bounds[0], bounds[1]
	switch {
	case rangeText == "*":
		f.Wildcard = true
	case strings.Contains(rangeText, "-"):
		loText, hiText, _ := strings.Cut(rangeText, "-")
		var err error
		if lo, err = resolveValue(f.Kind, loText); err != nil {
			return parseErr(expr, "%s: %v", f.Kind, err)
		}
		if hi, err = resolveValue(f.Kind, hiText); err != nil {
			return parseErr(expr, "%s: %v", f.Kind, err)
		}
		if lo > hi {
			return parseErr(expr, "%s: reversed range %q", f.Kind, item)
		}
		f.Ranged = true
	default:
		v, err := resolveValue(f.Kind, rangeText)
		if err != nil {
			return parseErr(expr, "%s: %v", f.Kind, err)
		}
		lo, hi = v, v
		if hasStep {
			// "a/n" means a through field max, every n.
			hi = bounds[1]
		}
	}

	if lo < bounds[0] || hi > bounds[1] {
		return parseErr(expr, "%s: value out of range %d-%d in %q", f.Kind, bounds[0], bounds[1], item)
	}

	for v := lo; v <= hi; v += step {
		f.set |= 1 << uint(v)
	}
	if f.Kind == FieldWeekday && f.set&(1<<7) != 0 {
		// Both 0 and 7 mean Sunday.
		f.set |= 1
		f.set &^= 1 << 7
	}
	return nil
}

// resolveValue converts a numeric or named field value.
func resolveValue(kind FieldKind, text string) (int, error) {
	if v, err := atoi(text); err == nil {
		return v, nil
	}
	switch kind {
	case FieldMonth:
		if v, ok := monthNames[strings.ToLower(text)]; ok {
			return v, nil
		}
	case FieldWeekday:
		if v, ok := weekdayNames[strings.ToLower(text)]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unrecognized value %q", text)
}

// atoi is strconv.Atoi restricted to plain non-negative decimals.
func atoi(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return 0, fmt.Errorf("number too large: %q", s)
		}
	}
	return n, nil
}
