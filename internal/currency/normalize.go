// Package currency resolves locale-ambiguous amount text (Indonesian
// "1.234,56" and US "1,234.56") into decimal amounts and renders amounts back
// in Indonesian display form.
package currency

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the exclusive upper bound of a valid amount.
var MaxAmount = decimal.New(1, 12)

var (
	indonesianPattern = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+(?:,\d{2})?$`)
	usPattern         = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{2})?$`)
	currencyPrefix    = regexp.MustCompile(`(?i)^\s*(?:rp|idr)\.?`)
)

// Normalize converts raw amount text into a decimal value. The second return
// value is false when the text holds no digits, cannot be parsed after the
// separator roles are resolved, or falls outside [0, MaxAmount).
//
// Normalize never fails loudly: ambiguous amount text is a normal input.
func Normalize(raw string) (decimal.Decimal, bool) {
	cleaned := clean(currencyPrefix.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return decimal.Zero, false
	}

	resolved := resolveSeparators(cleaned)
	resolved = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, resolved)
	resolved = strings.TrimSuffix(resolved, ".")
	if strings.HasPrefix(resolved, ".") {
		resolved = "0" + resolved
	}
	if resolved == "" {
		return decimal.Zero, false
	}

	value, err := decimal.NewFromString(resolved)
	if err != nil {
		return decimal.Zero, false
	}
	if !InRange(value) {
		return decimal.Zero, false
	}
	return value, true
}

// InRange reports whether value lies in [0, MaxAmount).
func InRange(value decimal.Decimal) bool {
	return !value.IsNegative() && value.LessThan(MaxAmount)
}

// clean keeps digits and the two separator characters.
func clean(raw string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
}

// resolveSeparators decides which of '.' and ',' is the decimal separator and
// returns the string with thousands separators removed and the decimal
// separator (if any) rewritten as '.'. The first matching rule wins.
func resolveSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case indonesianPattern.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		if i := strings.LastIndex(s, ","); i >= 0 {
			s = s[:i] + "." + s[i+1:]
		}
		return s
	case usPattern.MatchString(s):
		return strings.ReplaceAll(s, ",", "")
	case dots > 0 && commas > 0:
		// The separator seen last is the decimal one; everything before it groups.
		i := strings.LastIndexAny(s, ".,")
		return strings.NewReplacer(".", "", ",", "").Replace(s[:i]) + "." + s[i+1:]
	case dots > 1:
		return collapseRepeated(s, ".")
	case commas > 1:
		return collapseRepeated(s, ",")
	case dots == 1:
		return resolveSingle(s, ".")
	case commas == 1:
		return resolveSingle(s, ",")
	default:
		return s
	}
}

// collapseRepeated handles a string using sep more than once: a final segment
// of at most two characters is the fractional part, otherwise every sep is a
// thousands separator.
func collapseRepeated(s, sep string) string {
	parts := strings.Split(s, sep)
	last := parts[len(parts)-1]
	if len(last) <= 2 {
		return strings.Join(parts[:len(parts)-1], "") + "." + last
	}
	return strings.Join(parts, "")
}

// resolveSingle handles exactly one sep: a tail of at most two digits is
// fractional, otherwise sep groups thousands.
func resolveSingle(s, sep string) string {
	i := strings.Index(s, sep)
	if len(s)-i-1 <= 2 {
		return s[:i] + "." + s[i+1:]
	}
	return s[:i] + s[i+1:]
}
