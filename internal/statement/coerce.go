package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormats lists the layouts tried during schema detection and parsing,
// most specific first. The detector records the winning layout in the column
// mapping so parsing does not re-guess per row.
var DateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02/01/06",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04:05",
}

// ParseDate coerces a cell into a date using the given layout, or tries all
// known layouts when layout is empty.
func ParseDate(cell, layout string) (time.Time, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date cell")
	}
	if layout != "" {
		return time.Parse(layout, s)
	}
	for _, l := range DateFormats {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", cell)
}

// ParseAmount coerces a cell into a signed decimal amount. Handles currency
// symbols, thousands separators in both 1,234.56 and 1.234,56 styles, and
// accounting parentheses for negatives.
func ParseAmount(cell string) (decimal.Decimal, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount cell")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("no digits in amount %q", cell)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot && commaIsDecimalMark(s, lastDot, lastComma):
		// European style: comma is the decimal mark.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unparseable amount %q: %w", cell, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// commaIsDecimalMark decides whether the rightmost comma is a decimal mark
// rather than a thousands separator. A dot group before the comma settles it
// (1.234,56). Otherwise a lone comma followed by exactly three digits, or
// several commas with no dot (2,500 and 1,234,567), read as US-style
// thousands grouping.
func commaIsDecimalMark(s string, lastDot, lastComma int) bool {
	if lastDot >= 0 {
		return true
	}
	if strings.Count(s, ",") > 1 {
		return false
	}
	return len(s)-lastComma-1 != 3
}

// LooksLikeDate reports whether a cell parses as a date under any known
// layout, returning the layout that matched.
func LooksLikeDate(cell string) (string, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return "", false
	}
	for _, l := range DateFormats {
		if _, err := time.Parse(l, s); err == nil {
			return l, true
		}
	}
	return "", false
}

// LooksLikeAmount reports whether a cell parses as a monetary amount.
func LooksLikeAmount(cell string) bool {
	_, err := ParseAmount(cell)
	return err == nil
}
