// Package dates turns the date strings found on news pages into a single
// canonical timestamp.
package dates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparseable is returned when no known format matches the input.
var ErrUnparseable = errors.New("unrecognized date format")

// Layout is a named Go time layout.
type Layout struct {
	Name  string
	Value string
}

// The fixed fallback formats, tried in this order after ISO-8601. The
// numeric day/month fields accept one or two digits.
var (
	LayoutDate          = Layout{"YYYY-MM-DD", "2006-1-2"}
	LayoutDateTimeT     = Layout{"YYYY-MM-DDTHH:MM:SS", "2006-1-2T15:04:05"}
	LayoutDateTimeSpace = Layout{"YYYY-MM-DD HH:MM:SS", "2006-1-2 15:04:05"}
	LayoutLongMonth     = Layout{"Month DD, YYYY", "January 2, 2006"}
	LayoutShortMonth    = Layout{"Mon DD, YYYY", "Jan 2, 2006"}
	LayoutDayLongMonth  = Layout{"DD Month YYYY", "2 January 2006"}
	LayoutDayFirst      = Layout{"DD/MM/YYYY", "2/1/2006"}
	LayoutMonthFirst    = Layout{"MM/DD/YYYY", "1/2/2006"}
)

// Layouts lists the fallback formats in priority order. DD/MM/YYYY comes
// before MM/DD/YYYY, so an ambiguous "05/03/2024" reads as 5 March.
var Layouts = []Layout{
	LayoutDate,
	LayoutDateTimeT,
	LayoutDateTimeSpace,
	LayoutLongMonth,
	LayoutShortMonth,
	LayoutDayLongMonth,
	LayoutDayFirst,
	LayoutMonthFirst,
}

// isoLayouts cover the ISO-8601 forms pages commonly emit. "Z07:00" accepts
// both a literal Z and a numeric offset; fractional seconds are accepted
// after the seconds field by time.Parse.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalize parses raw into a canonical time. Inputs without a zone are
// taken as UTC. Strict ISO-8601 is tried first, then each of Layouts in
// order; the first success wins.
func Normalize(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparseable)
	}

	if t, ok := parseISO(s); ok {
		return t, nil
	}

	for _, layout := range Layouts {
		if t, err := time.Parse(layout.Value, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

// ParseLayout parses raw with a single layout. It exists mostly so callers
// can resolve an ambiguous value with an explicit rule.
func ParseLayout(raw string, layout Layout) (time.Time, error) {
	t, err := time.Parse(layout.Value, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s", ErrUnparseable, raw, layout.Name)
	}
	return t, nil
}

// Format renders t in the canonical representation (RFC 3339).
func Format(t time.Time) string {
	return t.Format(time.RFC3339)
}

func parseISO(s string) (time.Time, bool) {
	// A lone trailing "z" is as good as "Z"
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
