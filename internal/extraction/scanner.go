package extraction

import (
	"regexp"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-tracker/internal/currency"
)

// Pattern identifies which scanner pattern produced a candidate. Lower values
// are more specific.
type Pattern int

const (
	PatternCurrency Pattern = iota
	PatternKeyword
	PatternSeparator
	PatternDecimal
)

func (p Pattern) String() string {
	switch p {
	case PatternCurrency:
		return "currency"
	case PatternKeyword:
		return "keyword"
	case PatternSeparator:
		return "separator"
	case PatternDecimal:
		return "decimal"
	}
	return "unknown"
}

// Signal is a bit set of the plausibility heuristics a candidate satisfied.
type Signal uint8

const (
	SignalSeparator Signal = 1 << iota
	SignalCents
	SignalRoundThousand
	SignalNearMarker
)

// Count returns how many heuristics are set
func (s Signal) Count() int {
	n := 0
	for ; s != 0; s &= s - 1 {
		n++
	}
	return n
}

// Candidate is an accepted amount found by Scan.
type Candidate struct {
	Token
	Amount  decimal.Decimal
	Pattern Pattern
	Signals Signal
}

// Confidence is a bounded score from the pattern and the satisfied heuristics.
func (c Candidate) Confidence() float64 {
	base := [...]float64{
		PatternCurrency:  0.55,
		PatternKeyword:   0.5,
		PatternSeparator: 0.35,
		PatternDecimal:   0.3,
	}[c.Pattern]
	conf := base + 0.1*float64(c.Signals.Count())
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

// markerProximity is how far, in bytes, a currency symbol or keyword may sit
// from a bare number for the number to count as monetary.
const markerProximity = 50

const numberGroup = `(\d[\d.,]*\d|\d)`

var (
	scanPatterns = []struct {
		pattern Pattern
		re      *regexp.Regexp
		// bounded patterns must not start or end inside a longer number
		bounded bool
	}{
		{PatternCurrency, regexp.MustCompile(`(?i)(?:\brp\.?|\bidr)[^\p{L}\d\n]{0,3}` + numberGroup), false},
		{PatternKeyword, regexp.MustCompile(`(?i)\b(?:transfer|jumlah|total|amount|nominal|bayar|paid)\b[^\p{L}\d\n]{0,12}(?:(?:rp|idr)[^\p{L}\d\n]{0,4})?` + numberGroup), false},
		{PatternSeparator, regexp.MustCompile(`(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{2})?)`), true},
		{PatternDecimal, regexp.MustCompile(`(\d+[.,]\d{2})`), true},
	}

	// "rp" and "idr" only count as markers when not the start of a longer word
	markerRe = regexp.MustCompile(`(?i)\b(?:rp|idr)(?:\.|\b|\d)|\b(?:transfer|jumlah|total|amount|nominal|bayar|paid)\b`)
	centsRe  = regexp.MustCompile(`[.,]\d{2}$`)

	thousand      = decimal.NewFromInt(1000)
	maxRoundValue = decimal.NewFromInt(999_999_999)
)

// Scan finds every plausibly monetary number in text. Candidates come back in
// pattern order (most specific first), then by position. A number found by
// more than one pattern is reported once, under the most specific pattern.
// Scan never fails; text without amounts yields an empty slice.
func Scan(text string) []Candidate {
	markers := markerRe.FindAllStringIndex(text, -1)
	seen := make(map[int]bool)
	var out []Candidate

	for _, sp := range scanPatterns {
		for _, m := range sp.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			raw := text[start:end]
			if seen[start] {
				continue
			}
			if sp.bounded && !isolated(text, start, end) {
				continue
			}

			amount, ok := currency.Normalize(raw)
			if !ok || !amount.IsPositive() {
				continue
			}

			signals := signalsFor(raw, amount, start, end, markers)
			if signals == 0 {
				continue
			}

			seen[start] = true
			out = append(out, Candidate{
				Token:   Token{Text: raw, Offset: start, Tier: TierHeuristic},
				Amount:  amount,
				Pattern: sp.pattern,
				Signals: signals,
			})
		}
	}
	return out
}

// Best returns the representative candidate: the largest accepted value, with
// ties going to the more specific pattern and then the earlier position.
func Best(text string) (Candidate, bool) {
	cands := Scan(text)
	if len(cands) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if c := cands[i].Amount.Cmp(cands[j].Amount); c != 0 {
			return c > 0
		}
		if cands[i].Pattern != cands[j].Pattern {
			return cands[i].Pattern < cands[j].Pattern
		}
		return cands[i].Offset < cands[j].Offset
	})
	return cands[0], true
}

func signalsFor(raw string, amount decimal.Decimal, start, end int, markers [][]int) Signal {
	var s Signal
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' || raw[i] == ',' {
			s |= SignalSeparator
			break
		}
	}
	if centsRe.MatchString(raw) {
		s |= SignalCents
	}
	if amount.Mod(thousand).IsZero() && amount.GreaterThanOrEqual(thousand) && amount.LessThanOrEqual(maxRoundValue) {
		s |= SignalRoundThousand
	}
	if nearMarker(start, end, markers) {
		s |= SignalNearMarker
	}
	return s
}

func nearMarker(start, end int, markers [][]int) bool {
	for _, mk := range markers {
		switch {
		case mk[1] <= start:
			if start-mk[1] <= markerProximity {
				return true
			}
		case mk[0] >= end:
			if mk[0]-end <= markerProximity {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// isolated reports whether text[start:end] is not a fragment of a longer
// digit run such as "12345.678".
func isolated(text string, start, end int) bool {
	if start > 0 {
		prev := text[start-1]
		if isDigit(prev) {
			return false
		}
		if (prev == '.' || prev == ',') && start > 1 && isDigit(text[start-2]) {
			return false
		}
	}
	if end < len(text) {
		next := text[end]
		if isDigit(next) {
			return false
		}
		if (next == '.' || next == ',') && end+1 < len(text) && isDigit(text[end+1]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
