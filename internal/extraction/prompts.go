package extraction

import "github.com/zombor/bill-tracker/internal/settings"

// Template names. The two kinds double as template names.
const (
	TemplateTransfer = string(KindTransfer)
	TemplateBill     = string(KindBill)
	TemplateFallback = "fallback"
	TemplateBillText = "bill_text"
)

const transferPrompt = `You are reading a photo of an Indonesian bank transfer or payment proof (m-banking screenshot, ATM slip, QRIS receipt).

Find the amount that was actually paid or transferred. It is usually labelled "Jumlah", "Nominal", "Total", "Transfer", "Total Bayar" or "Amount" and often written with "Rp" or "IDR".

Ignore account numbers, reference numbers, phone numbers, dates, times and admin fees.
Indonesian amounts use "." for thousands and "," for decimals: "Rp 1.250.000,00" is 1250000.

Return ONLY this JSON, with the amount as a plain integer of whole rupiah and no separators:
{"paid_amount_idr": 1250000}

Then, on its own line, repeat the value as:
PAID_AMOUNT=1250000`

const billPrompt = `You are reading a photo that may contain one or more Indonesian bills or shop receipts placed side by side.

1. Decide how many separate physical receipts are visible.
2. For each receipt find its final total ("Total", "Grand Total", "Total Bayar", "Jumlah"). Ignore subtotals, tax lines, change ("Kembali"), cash tendered ("Tunai") and item prices.
3. Add the final totals together.

Indonesian amounts use "." for thousands and "," for decimals: "Rp 168.500" is 168500.

Return ONLY this JSON, with amounts as plain integers of whole rupiah and no separators:
{
  "receipts": [
    {"index": 1, "final_total_idr": 120000, "markers": ["TOTAL"], "confidence": "high"}
  ],
  "aggregated_bill_total_idr": 120000
}

Then, on its own line, repeat the sum as:
FINAL_TOTAL=120000`

const fallbackPrompt = `Read this Indonesian bill or receipt and reply with exactly one line and nothing else:
FINAL_TOTAL=<total amount in whole rupiah as a plain integer without separators>`

const billTextPrompt = `The user describes one or more bills in Indonesian or English. Extract every bill.

For each bill return:
- "amount": the bill amount as a plain number of whole rupiah without separators
- "date": the bill date as YYYY-MM-DD, or null when not mentioned
- "paid_amount": how much has already been paid, as a plain number, or 0 when not mentioned

"Rp 100.000" means 100000, "1,5 juta" means 1500000, "50rb" means 50000.

Return ONLY valid JSON in this exact shape, without markdown:
{"bills": [{"amount": 100000, "date": null, "paid_amount": 0}]}`

type template struct {
	key string
	def string
}

var templates = map[string]template{
	TemplateTransfer: {key: settings.PromptTransfer, def: transferPrompt},
	TemplateBill:     {key: settings.PromptBill, def: billPrompt},
	TemplateFallback: {key: settings.PromptFallback, def: fallbackPrompt},
	TemplateBillText: {key: settings.PromptBillText, def: billTextPrompt},
}

// Prompts resolves prompt templates, preferring operator overrides from the
// settings provider over the built-in defaults.
type Prompts struct {
	settings settings.Provider
}

// NewPrompts creates a Prompts backed by prov, which may be nil.
func NewPrompts(prov settings.Provider) *Prompts {
	return &Prompts{settings: prov}
}

// Template returns the prompt for name, or "" for an unknown name.
func (p *Prompts) Template(name string) string {
	t, ok := templates[name]
	if !ok {
		return ""
	}
	return settings.String(p.settings, t.key, t.def)
}

// DefaultPrompt returns the built-in prompt for name.
func DefaultPrompt(name string) string {
	return templates[name].def
}
