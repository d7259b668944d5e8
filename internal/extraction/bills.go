package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-tracker/internal/currency"
	"github.com/zombor/bill-tracker/internal/scanning"
)

var billDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	time.RFC3339,
}

// BillRecord is one bill described in free text.
type BillRecord struct {
	Amount     decimal.Decimal
	Date       time.Time
	PaidAmount decimal.Decimal
}

// BillTextExtractor turns a free-form description of bills into records.
type BillTextExtractor struct {
	generator scanning.Generator
	prompts   *Prompts
	cfg       Config
}

// NewBillTextExtractor creates a BillTextExtractor.
func NewBillTextExtractor(generator scanning.Generator, prompts *Prompts, cfg Config) *BillTextExtractor {
	if prompts == nil {
		prompts = NewPrompts(nil)
	}
	return &BillTextExtractor{
		generator: generator,
		prompts:   prompts,
		cfg:       cfg.withDefaults(),
	}
}

// ExtractBills asks the generator to list the bills in text. Entries without
// a positive amount are dropped, so the result may be shorter than what the
// generator returned. A response without a JSON object carrying a "bills"
// list is a *MalformedResponseError.
func (b *BillTextExtractor) ExtractBills(ctx context.Context, text string) ([]BillRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	response, err := b.generator.Generate(callCtx, nil, "", b.prompts.Template(TemplateBillText), text)
	if err != nil {
		return nil, collaboratorError("extract bills", SourceAI, err)
	}

	return parseBills(response, b.today())
}

func (b *BillTextExtractor) today() time.Time {
	now := b.cfg.Now()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

type billEntry struct {
	Amount     json.RawMessage `json:"amount"`
	Date       json.RawMessage `json:"date"`
	PaidAmount json.RawMessage `json:"paid_amount"`
}

func parseBills(response string, today time.Time) ([]BillRecord, error) {
	object, ok := firstJSONObject(response)
	if !ok {
		return nil, &MalformedResponseError{Reason: "no JSON object in response", Response: response}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(object), &envelope); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid JSON: " + err.Error(), Response: response}
	}
	raw, ok := envelope["bills"]
	if !ok {
		return nil, &MalformedResponseError{Reason: `missing "bills" key`, Response: response}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, &MalformedResponseError{Reason: `"bills" is not a list`, Response: response}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedResponseError{Reason: `"bills" is not a list`, Response: response}
	}

	records := make([]BillRecord, 0, len(items))
	for i, item := range items {
		var entry billEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			slog.Warn("Skipping bill entry", "index", i, "error", err)
			continue
		}

		amount, ok := jsonAmount(entry.Amount)
		if !ok || !valid(amount) {
			slog.Debug("Dropping bill without a positive amount", "index", i, "amount", string(entry.Amount))
			continue
		}
		paid, ok := jsonAmount(entry.PaidAmount)
		if !ok || !currency.InRange(paid) {
			paid = decimal.Zero
		}

		records = append(records, BillRecord{
			Amount:     amount,
			Date:       jsonDate(entry.Date, today),
			PaidAmount: paid,
		})
	}
	return records, nil
}

// jsonAmount reads a plain number, or a string holding one.
func jsonAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return decimal.Zero, false
		}
		s = strings.TrimSpace(unquoted)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func jsonDate(raw json.RawMessage, today time.Time) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return today
	}
	s = strings.TrimSpace(s)
	for _, layout := range billDateLayouts {
		if t, err := time.ParseInLocation(layout, s, today.Location()); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, today.Location())
		}
	}
	return today
}
