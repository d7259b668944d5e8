package extraction

import (
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-tracker/internal/currency"
)

var (
	// The value must be a whole integer literal, bare or quoted, followed by
	// the next key, the end of the object or the end of the text.
	structuredFields = map[Kind]*regexp.Regexp{
		KindBill:     structuredField("aggregated_bill_total_idr"),
		KindTransfer: structuredField("paid_amount_idr"),
	}

	labeledFields = map[Kind]*regexp.Regexp{
		KindBill:     regexp.MustCompile(`(?im)^[ \t]*FINAL_TOTAL[ \t]*=[ \t]*(\d+)[ \t]*\r?$`),
		KindTransfer: regexp.MustCompile(`(?im)^[ \t]*PAID_AMOUNT[ \t]*=[ \t]*(\d+)[ \t]*\r?$`),
	}

	bareNumberRe = regexp.MustCompile(`(?i)^\s*(?:rp\.?|idr)?\s*(\d[\d.,]*)\s*$`)
)

func structuredField(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + key + `"\s*:\s*(?:"(\d+)"|(\d+))\s*(?:,\s*"|[}\]]|$)`)
}

// structuredAmount reads the kind's named integer field from a JSON-ish
// response. For bills it trusts the aggregated total over per-receipt values.
func structuredAmount(text string, kind Kind) (decimal.Decimal, string, bool) {
	return integerField(structuredFields[kind], text)
}

// labeledAmount reads a "KEY=<integer>" line.
func labeledAmount(text string, kind Kind) (decimal.Decimal, string, bool) {
	return integerField(labeledFields[kind], text)
}

func integerField(re *regexp.Regexp, text string) (decimal.Decimal, string, bool) {
	if re == nil {
		return decimal.Zero, "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, "", false
	}
	var raw string
	for _, g := range m[1:] {
		if g != "" {
			raw = g
			break
		}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !valid(v) {
		return decimal.Zero, "", false
	}
	return v, raw, true
}

// bareAmount normalizes text that is nothing but a (possibly prefixed) number.
func bareAmount(text string) (decimal.Decimal, bool) {
	m := bareNumberRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	v, ok := currency.Normalize(m[1])
	if !ok || !valid(v) {
		return decimal.Zero, false
	}
	return v, true
}

// valid is the gate every tier result must pass: 0 < v < 1e12
func valid(v decimal.Decimal) bool {
	return v.IsPositive() && currency.InRange(v)
}
