package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-tracker/internal/scanning"
	"github.com/zombor/bill-tracker/internal/settings"
)

var _ = Describe("Orchestrator", func() {
	var (
		gen     *mockGenerator
		ocr     *mockOCR
		withOCR bool
		prompts *Prompts
		cfg     Config
		kind    Kind
		doc     Document
		ext     *Extraction
		err     error
	)

	BeforeEach(func() {
		gen = &mockGenerator{}
		ocr = &mockOCR{}
		withOCR = false
		prompts = NewPrompts(nil)
		cfg = Config{}
		kind = KindBill
		doc = Document{Name: "struk.jpg", Data: []byte("image"), ContentType: "image/jpeg"}
	})

	JustBeforeEach(func() {
		var o *Orchestrator
		if withOCR {
			o = NewOrchestrator(gen, ocr, prompts, cfg)
		} else {
			o = NewOrchestrator(gen, nil, prompts, cfg)
		}
		ext, err = o.ExtractAmount(context.Background(), doc, kind)
	})

	It("sends the document and the kind's prompt to the generator", func() {
		Expect(gen.calls).NotTo(BeEmpty())
		Expect(gen.calls[0].image).To(Equal([]byte("image")))
		Expect(gen.calls[0].contentType).To(Equal("image/jpeg"))
		Expect(gen.calls[0].prompt).To(Equal(DefaultPrompt(TemplateBill)))
		Expect(gen.calls[0].contextText).To(BeEmpty())
	})

	When("the labeled marker and a free-text number disagree", func() {
		BeforeEach(func() {
			gen.responses = []string{"Total belanja 75.000\nFINAL_TOTAL=50000"}
		})

		It("returns the labeled amount", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Amount).To(EqualAmount("50000"))
			Expect(ext.Tier).To(Equal(TierLabeled))
			Expect(ext.Source).To(Equal(SourceAI))
		})
	})

	When("the label is lowercase", func() {
		BeforeEach(func() {
			gen.responses = []string{"final_total = 12000"}
		})

		It("still matches it", func() {
			Expect(ext.Amount).To(EqualAmount("12000"))
			Expect(ext.Tier).To(Equal(TierLabeled))
		})
	})

	When("the aggregated total disagrees with the per-receipt totals", func() {
		BeforeEach(func() {
			gen.responses = []string{`{
  "receipts": [
    {"index": 1, "final_total_idr": 100000},
    {"index": 2, "final_total_idr": 100000}
  ],
  "aggregated_bill_total_idr": 168500
}
FINAL_TOTAL=200000`}
		})

		It("trusts the aggregated field", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Amount).To(EqualAmount("168500"))
			Expect(ext.Tier).To(Equal(TierStructured))
			Expect(ext.Confidence).To(Equal(0.95))
		})
	})

	DescribeTable("reading the aggregated field",
		func(response string, amount string, tier Tier) {
			o := NewOrchestrator(&mockGenerator{responses: []string{response}}, nil, NewPrompts(nil), Config{})
			got, err := o.ExtractAmount(context.Background(), doc, KindBill)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
			Expect(got.Amount).To(EqualAmount(amount))
			Expect(got.Tier).To(Equal(tier))
		},
		Entry("quoted integer", `{"aggregated_bill_total_idr": "168500"}`, "168500", TierStructured),
		Entry("followed by another key", `{"aggregated_bill_total_idr": 168500, "currency": "IDR"}`, "168500", TierStructured),
		Entry("quoted with a thousands separator", `{"aggregated_bill_total_idr": "168.500"}`+"\nFINAL_TOTAL=168500", "168500", TierLabeled),
		Entry("with a comma separator", `{"aggregated_bill_total_idr": 168,500}`+"\nFINAL_TOTAL=168500", "168500", TierLabeled),
		Entry("in exponent form", `{"aggregated_bill_total_idr": 1e5}`+"\nFINAL_TOTAL=100000", "100000", TierLabeled),
		Entry("with a fraction", `{"aggregated_bill_total_idr": 168500.5}`+"\nFINAL_TOTAL=168500", "168500", TierLabeled),
	)

	When("the kind is transfer", func() {
		BeforeEach(func() {
			kind = KindTransfer
			gen.responses = []string{`{"paid_amount_idr": 250000}` + "\nPAID_AMOUNT=250000"}
		})

		It("uses the transfer prompt and field", func() {
			Expect(gen.calls[0].prompt).To(Equal(DefaultPrompt(TemplateTransfer)))
			Expect(ext.Amount).To(EqualAmount("250000"))
			Expect(ext.Tier).To(Equal(TierStructured))
		})

		When("the prompt is overridden in settings", func() {
			BeforeEach(func() {
				prompts = NewPrompts(settings.Map{settings.PromptTransfer: "custom transfer prompt"})
			})

			It("sends the override", func() {
				Expect(gen.calls[0].prompt).To(Equal("custom transfer prompt"))
			})
		})

		When("the only amounts are zero", func() {
			BeforeEach(func() {
				gen.responses = []string{`{"paid_amount_idr": 0}` + "\nPAID_AMOUNT=0"}
			})

			It("finds nothing and does not retry", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(ext).To(BeNil())
				Expect(gen.calls).To(HaveLen(1))
			})
		})
	})

	When("the response is a bare amount", func() {
		BeforeEach(func() {
			gen.responses = []string{" Rp 45.500 "}
		})

		It("normalizes it", func() {
			Expect(ext.Amount).To(EqualAmount("45500"))
			Expect(ext.Tier).To(Equal(TierBareNumber))
		})
	})

	When("the response is prose with an amount", func() {
		BeforeEach(func() {
			gen.responses = []string{"Total bayar Rp 88.000 ya"}
			withOCR = true
		})

		It("scans the primary text without calling OCR", func() {
			Expect(ext.Amount).To(EqualAmount("88000"))
			Expect(ext.Tier).To(Equal(TierHeuristic))
			Expect(ext.Source).To(Equal(SourceAI))
			Expect(ocr.calls).To(BeZero())
		})
	})

	When("only the OCR text has an amount", func() {
		BeforeEach(func() {
			gen.responses = []string{"Maaf, gambar tidak terbaca."}
			withOCR = true
			ocr.text = "TOKO MAJU\nTOTAL Rp 120.000\nTERIMA KASIH"
		})

		It("scans the OCR text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Amount).To(EqualAmount("120000"))
			Expect(ext.Source).To(Equal(SourceOCR))
			Expect(ocr.calls).To(Equal(1))
		})
	})

	When("no tier finds an amount", func() {
		BeforeEach(func() {
			gen.responses = []string{"tidak ada", "tidak ada juga"}
		})

		It("returns no amount and no error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext).To(BeNil())
		})

		It("retries once with the fallback prompt", func() {
			Expect(gen.calls).To(HaveLen(2))
			Expect(gen.calls[1].prompt).To(Equal(DefaultPrompt(TemplateFallback)))
		})
	})

	When("the fallback prompt finds the bill total", func() {
		BeforeEach(func() {
			gen.responses = []string{"tidak terbaca", "FINAL_TOTAL=99000"}
			withOCR = true
			ocr.text = "struk buram"
		})

		It("marks the result as a fallback", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Amount).To(EqualAmount("99000"))
			Expect(ext.Fallback).To(BeTrue())
			Expect(ext.Confidence).To(BeNumerically("~", 0.72, 1e-9))
		})

		It("passes the OCR text along and reads it only once", func() {
			Expect(gen.calls[1].contextText).To(Equal("struk buram"))
			Expect(ocr.calls).To(Equal(1))
		})
	})

	When("the generator fails", func() {
		BeforeEach(func() {
			gen.errs = []error{errors.New("connection refused")}
		})

		It("returns a transport error instead of no amount", func() {
			Expect(ext).To(BeNil())
			Expect(err).To(HaveOccurred())
			Expect(IsTransport(err)).To(BeTrue())

			var te *TransportError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.Source).To(Equal(SourceAI))
			Expect(te.Op).To(Equal("generate"))
		})
	})

	When("the generator has no credentials", func() {
		BeforeEach(func() {
			gen.errs = []error{fmt.Errorf("gemini: %w", scanning.ErrMissingCredentials)}
		})

		It("returns a configuration error", func() {
			Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
			Expect(errors.Is(err, scanning.ErrMissingCredentials)).To(BeTrue())
			Expect(IsTransport(err)).To(BeFalse())
		})
	})

	When("the fallback call fails", func() {
		BeforeEach(func() {
			gen.responses = []string{"tidak terbaca"}
			gen.errs = []error{nil, errors.New("quota exceeded")}
		})

		It("propagates the failure", func() {
			Expect(IsTransport(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("fallback"))
		})
	})

	When("OCR fails", func() {
		BeforeEach(func() {
			withOCR = true
			ocr.err = errors.New("tesseract crashed")
			gen.responses = []string{"tidak terbaca", "tidak terbaca"}
		})

		It("keeps going when the AI response had text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ext).To(BeNil())
		})

		When("the AI response was empty", func() {
			BeforeEach(func() {
				gen.responses = []string{"  "}
			})

			It("propagates the OCR failure", func() {
				var te *TransportError
				Expect(errors.As(err, &te)).To(BeTrue())
				Expect(te.Source).To(Equal(SourceOCR))
			})
		})
	})

	When("the generator hangs", func() {
		BeforeEach(func() {
			gen.block = true
			cfg.CallTimeout = 20 * time.Millisecond
		})

		It("gives up after the call timeout", func() {
			Expect(IsTransport(err)).To(BeTrue())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})
	})

	When("the kind is unknown", func() {
		BeforeEach(func() {
			kind = Kind("invoice")
		})

		It("rejects it without calling the generator", func() {
			Expect(err).To(MatchError(ContainSubstring("unknown document kind")))
			Expect(gen.calls).To(BeEmpty())
		})
	})
})

var _ = Describe("ExtractBatch", func() {
	It("extracts every document and isolates failures", func() {
		gen := &mockGenerator{respond: func(image []byte) (string, error) {
			switch string(image) {
			case "a":
				return `{"paid_amount_idr": 1000}`, nil
			case "b":
				return "", errors.New("timeout")
			}
			return "nothing here", nil
		}}
		o := NewOrchestrator(gen, nil, nil, Config{BatchWorkers: 2})

		results := o.ExtractBatch(context.Background(), []Document{
			{Name: "a.png", Data: []byte("a")},
			{Name: "b.png", Data: []byte("b")},
			{Name: "c.png", Data: []byte("c")},
		}, KindTransfer)

		Expect(results).To(HaveLen(3))
		Expect(results[0].Document).To(Equal("a.png"))
		Expect(results[0].Err).NotTo(HaveOccurred())
		Expect(results[0].Extraction.Amount).To(EqualAmount("1000"))
		Expect(IsTransport(results[1].Err)).To(BeTrue())
		Expect(results[2].Err).NotTo(HaveOccurred())
		Expect(results[2].Extraction).To(BeNil())
	})
})
