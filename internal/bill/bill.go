// Package bill stores bills and the payments made against them, and serves
// them over a JSON API. Amounts are read from uploaded photos by the
// extraction package.
package bill

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of a bill
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	// StatusNeedsReview marks a bill whose amount could not be read
	StatusNeedsReview Status = "needs_review"
)

// Amount sources besides the extraction tiers
const (
	SourceManual = "manual"
	SourceText   = "text"
)

// Bill is something owed, with the payments recorded against it
type Bill struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Amount       decimal.Decimal `json:"amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Date         time.Time       `json:"date"`
	Status       Status          `json:"status"`
	AmountSource string          `json:"amount_source,omitempty"` // extraction tier, "manual" or "text"
	Confidence   float64         `json:"confidence,omitempty"`
	Filename     string          `json:"filename,omitempty"`
	ContentType  string          `json:"content_type,omitempty"`
	Payments     []Payment       `json:"payments"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Payment is one transfer towards a bill
type Payment struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	AmountSource string          `json:"amount_source"`
	Confidence   float64         `json:"confidence,omitempty"`
	Filename     string          `json:"filename,omitempty"`
	ContentType  string          `json:"content_type,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Outstanding is the amount still owed, never negative
func (b *Bill) Outstanding() decimal.Decimal {
	rest := b.Amount.Sub(b.PaidAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// refreshStatus derives Status from Amount and PaidAmount
func (b *Bill) refreshStatus() {
	switch {
	case !b.Amount.IsPositive():
		b.Status = StatusNeedsReview
	case !b.PaidAmount.IsPositive():
		b.Status = StatusUnpaid
	case b.PaidAmount.LessThan(b.Amount):
		b.Status = StatusPartial
	default:
		b.Status = StatusPaid
	}
}
