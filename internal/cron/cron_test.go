package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldCounts(t *testing.T) {
	expr, err := Parse("*/5 * * * *")
	require.NoError(t, err)
	assert.False(t, expr.Extended)

	expr, err = Parse("30 */5 * * * *")
	require.NoError(t, err)
	assert.True(t, expr.Extended)

	_, err = Parse("* * * *")
	assert.Error(t, err)
	_, err = Parse("* * * * * * *")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestParseAliases(t *testing.T) {
	cases := map[string]string{
		"@hourly":   "0 * * * *",
		"@daily":    "0 0 * * *",
		"@midnight": "0 0 * * *",
		"@weekly":   "0 0 * * 0",
		"@monthly":  "0 0 1 * *",
		"@yearly":   "0 0 1 1 *",
		"@annually": "0 0 1 1 *",
	}
	for alias, canonical := range cases {
		a, err := Parse(alias)
		require.NoError(t, err, alias)
		b, err := Parse(canonical)
		require.NoError(t, err, canonical)
		assert.Equal(t, b.Minute.set, a.Minute.set, alias)
		assert.Equal(t, b.Hour.set, a.Hour.set, alias)
		assert.Equal(t, b.Day.set, a.Day.set, alias)
		assert.Equal(t, b.Month.set, a.Month.set, alias)
		assert.Equal(t, b.Weekday.set, a.Weekday.set, alias)
	}

	_, err := Parse("@fortnightly")
	assert.Error(t, err)
}

func TestParseRangesListsSteps(t *testing.T) {
	expr, err := Parse("1,3,5-7 * * * *")
	require.NoError(t, err)
	f := expr.Minute
	assert.True(t, f.Listed)
	assert.True(t, f.Ranged)
	for _, v := range []int{1, 3, 5, 6, 7} {
		assert.True(t, f.has(v), "minute %d", v)
	}
	assert.False(t, f.has(2))
	assert.False(t, f.has(4))
	assert.False(t, f.has(8))

	expr, err = Parse("*/15 * * * *")
	require.NoError(t, err)
	f = expr.Minute
	assert.True(t, f.Stepped)
	assert.False(t, f.Wildcard)
	for _, v := range []int{0, 15, 30, 45} {
		assert.True(t, f.has(v))
	}
	assert.False(t, f.has(5))

	expr, err = Parse("10-30/10 * * * *")
	require.NoError(t, err)
	f = expr.Minute
	assert.True(t, f.has(10))
	assert.True(t, f.has(20))
	assert.True(t, f.has(30))
	assert.False(t, f.has(40))
}

func TestParseWildcardFlag(t *testing.T) {
	expr, err := Parse("* * * * *")
	require.NoError(t, err)
	assert.True(t, expr.Minute.Wildcard)
	assert.False(t, expr.Minute.restricted())

	expr, err = Parse("*/2 * * * *")
	require.NoError(t, err)
	assert.False(t, expr.Minute.Wildcard)
	assert.True(t, expr.Minute.restricted())
}

func TestParseNames(t *testing.T) {
	expr, err := Parse("0 9 * JAN-mar Mon-Fri")
	require.NoError(t, err)
	for m := 1; m <= 3; m++ {
		assert.True(t, expr.Month.has(m))
	}
	assert.False(t, expr.Month.has(4))
	for wd := 1; wd <= 5; wd++ {
		assert.True(t, expr.Weekday.has(wd))
	}
	assert.False(t, expr.Weekday.has(0))
	assert.False(t, expr.Weekday.has(6))

	_, err = Parse("0 9 * janx *")
	assert.Error(t, err)
}

func TestParseSundayAliases(t *testing.T) {
	seven, err := Parse("0 0 * * 7")
	require.NoError(t, err)
	zero, err := Parse("0 0 * * 0")
	require.NoError(t, err)
	assert.Equal(t, zero.Weekday.set, seven.Weekday.set)
	assert.True(t, seven.Weekday.has(0))
}

func TestParseExtensions(t *testing.T) {
	expr, err := Parse("0 0 L * *")
	require.NoError(t, err)
	assert.True(t, expr.Day.LastDay)

	expr, err = Parse("0 0 15W * *")
	require.NoError(t, err)
	assert.Equal(t, []int{15}, expr.Day.NearestDays)

	expr, err = Parse("0 0 * * 5L")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, expr.Weekday.LastWeekdays)

	expr, err = Parse("0 0 * * 1#3")
	require.NoError(t, err)
	require.Len(t, expr.Weekday.NthWeekdays, 1)
	assert.Equal(t, nthSpec{Weekday: 1, Nth: 3}, expr.Weekday.NthWeekdays[0])
}

func TestParseOutOfRange(t *testing.T) {
	for _, bad := range []string{
		"60 * * * *",
		"* 24 * * *",
		"* * 32 * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * 0 *",
		"* * * * 8",
		"70 * * * * *",
		"* * * * 1#6",
		"* * * * 1#0",
		"5-3 * * * *",
		"*/0 * * * *",
		"a * * * *",
		"1,,2 * * * *",
	} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidate(t *testing.T) {
	ok, msg := Validate("*/5 * * * *")
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, msg = Validate("bogus")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)

	// Parses fine but can never fire: February 30th.
	ok, msg = Validate("0 0 30 2 *")
	assert.False(t, ok)
	assert.Contains(t, msg, "never matches")
}
