// Package daykey handles canonical calendar-day keys and their human labels.
//
// A day key is an ISO date "YYYY-MM-DD" in the local calendar. Labels such as
// "13th Feb" are for display only; ParseLegacyLabel exists because older
// on-device data stored those labels instead of keys.
package daykey

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
)

// Layout is the time layout of a day key.
const Layout = "2006-01-02"

var monthAbbrev = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var monthByName = func() map[string]time.Month {
	m := make(map[string]time.Month, 12)
	for i, name := range monthAbbrev {
		m[strings.ToLower(name)] = time.Month(i + 1)
	}
	return m
}()

// Key returns the day key of t in t's location.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Today returns the day key for the clock's current local day.
func Today(c Clock) string {
	return Key(c.Now())
}

// DaysAgo returns the day key n calendar days before the clock's today.
func DaysAgo(c Clock, n int) string {
	return Key(c.Now().AddDate(0, 0, -n))
}

// Parse converts a day key into midnight local time.
func Parse(dayKey string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, dayKey, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day key %q: %w", dayKey, err)
	}
	return t, nil
}

// Ordinal returns the English ordinal suffix for a day of the month.
func Ordinal(n int) string {
	if mod100 := n % 100; mod100 >= 11 && mod100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// DisplayLabel renders a day key as "13th Feb".
func DisplayLabel(dayKey string) (string, error) {
	t, err := Parse(dayKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s %s", t.Day(), Ordinal(t.Day()), monthAbbrev[t.Month()-1]), nil
}

// Ago describes dayKey relative to the clock's today: "Today", "Yesterday",
// "N days ago", or "in N days" for future keys.
func Ago(c Clock, dayKey string) (string, error) {
	d, err := Parse(dayKey)
	if err != nil {
		return "", err
	}
	today, _ := Parse(Today(c))
	// Round to absorb DST-length days.
	n := int((today.Sub(d).Hours() + 12) / 24)
	if today.Before(d) {
		n = -int((d.Sub(today).Hours() + 12) / 24)
	}
	switch {
	case n == 0:
		return "Today", nil
	case n == 1:
		return "Yesterday", nil
	case n > 1:
		return fmt.Sprintf("%d days ago", n), nil
	case n == -1:
		return "in 1 day", nil
	default:
		return fmt.Sprintf("in %d days", -n), nil
	}
}

// ParseLegacyLabel converts a "5th Feb" style label into a day key in year.
// The leading token has every non-digit stripped; the month is matched on its
// first three letters, case-insensitively.
func ParseLegacyLabel(label string, year int) (string, error) {
	fields := strings.Fields(label)
	if len(fields) < 2 {
		return "", fmt.Errorf("legacy label %q: want \"<day> <month>\"", label)
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, fields[0])
	day, err := strconv.Atoi(digits)
	if err != nil {
		return "", fmt.Errorf("legacy label %q: bad day number", label)
	}

	name := cases.Fold().String(fields[1])
	if len(name) > 3 {
		name = name[:3]
	}
	month, ok := monthByName[name]
	if !ok {
		return "", fmt.Errorf("legacy label %q: unknown month %q", label, fields[1])
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.Local)
	if t.Day() != day || t.Month() != month {
		return "", fmt.Errorf("legacy label %q: day out of range for %s", label, month)
	}
	return Key(t), nil
}

// TruncateToDay returns the day key prefix of an ISO date-time string.
// Strings shorter than a day key are returned unchanged.
func TruncateToDay(isoDateTime string) string {
	s := strings.TrimSpace(isoDateTime)
	if len(s) < len(Layout) {
		return s
	}
	return s[:len(Layout)]
}
