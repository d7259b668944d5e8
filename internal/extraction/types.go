// Package extraction turns AI responses and OCR dumps into a single bill or
// transfer amount, and free-form bill descriptions into bill records.
package extraction

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the document category. It selects the prompt template and the
// structured keys the orchestrator looks for.
type Kind string

const (
	// KindTransfer is a single-payment proof such as a bank transfer receipt
	KindTransfer Kind = "transfer"
	// KindBill is a bill photo that may contain several receipts
	KindBill Kind = "bill"
)

// ParseKind validates a user-supplied kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTransfer, KindBill:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}

// Tier names one strategy of the fallback chain.
type Tier string

const (
	TierStructured Tier = "structured"
	TierLabeled    Tier = "labeled"
	TierBareNumber Tier = "bare_number"
	TierHeuristic  Tier = "heuristic"
)

// Source says which text blob an amount came from.
type Source string

const (
	SourceAI  Source = "ai"
	SourceOCR Source = "ocr"
)

// Token is a numeric substring found in source text.
type Token struct {
	Text   string
	Offset int
	Tier   Tier
}

// Extraction is a successful single-amount result.
type Extraction struct {
	Amount     decimal.Decimal
	Tier       Tier
	Source     Source
	Raw        string
	Confidence float64
	// Fallback is set when the amount came from the alternate bill prompt
	Fallback bool
}
