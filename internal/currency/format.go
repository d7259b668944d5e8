package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Format renders value with '.' grouping thousands and ',' as the decimal
// separator, rounded to decimals fractional digits. Format(n, 0) is the exact
// inverse of Normalize for whole amounts.
func Format(value decimal.Decimal, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	fixed := value.StringFixed(int32(decimals))

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}

	intPart, fracPart, _ := strings.Cut(fixed, ".")
	out := sign + groupThousands(intPart)
	if fracPart != "" {
		out += "," + fracPart
	}
	return out
}

// FormatRupiah renders value as a whole-rupiah display string, e.g. "Rp 260.000".
func FormatRupiah(value decimal.Decimal) string {
	return "Rp " + Format(value, 0)
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
