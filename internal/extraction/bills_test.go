package extraction

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-tracker/internal/scanning"
)

var _ = Describe("BillTextExtractor", func() {
	var (
		gen     *mockGenerator
		now     time.Time
		input   string
		records []BillRecord
		err     error
	)

	BeforeEach(func() {
		gen = &mockGenerator{}
		now = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
		input = "Tagihan 1: Rp 100.000, Tagihan 2: Rp 200.000 pembayaran 50.000"
	})

	JustBeforeEach(func() {
		x := NewBillTextExtractor(gen, nil, Config{Now: func() time.Time { return now }})
		records, err = x.ExtractBills(context.Background(), input)
	})

	today := func() time.Time {
		return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	}

	When("the response lists two bills", func() {
		BeforeEach(func() {
			gen.responses = []string{`Here are the bills:
{"bills": [
  {"amount": 100000, "date": null, "paid_amount": 0},
  {"amount": 200000, "paid_amount": 50000}
]}`}
		})

		It("returns both, dated today", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Amount).To(EqualAmount("100000"))
			Expect(records[0].PaidAmount).To(EqualAmount("0"))
			Expect(records[0].Date).To(Equal(today()))
			Expect(records[1].Amount).To(EqualAmount("200000"))
			Expect(records[1].PaidAmount).To(EqualAmount("50000"))
			Expect(records[1].Date).To(Equal(today()))
		})

		It("sends the text with the bill text prompt and no image", func() {
			Expect(gen.calls).To(HaveLen(1))
			Expect(gen.calls[0].image).To(BeNil())
			Expect(gen.calls[0].prompt).To(Equal(DefaultPrompt(TemplateBillText)))
			Expect(gen.calls[0].contextText).To(Equal(input))
		})
	})

	When("entries carry dates and string amounts", func() {
		BeforeEach(func() {
			gen.responses = []string{`{"bills": [
  {"amount": "150000", "date": "2026-02-01", "paid_amount": "150000"},
  {"amount": 75000.5, "date": "kemarin"}
]}`}
		})

		It("parses what it can and defaults the rest", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Amount).To(EqualAmount("150000"))
			Expect(records[0].PaidAmount).To(EqualAmount("150000"))
			Expect(records[0].Date).To(Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
			Expect(records[1].Amount).To(EqualAmount("75000.5"))
			Expect(records[1].Date).To(Equal(today()))
		})
	})

	When("some entries have no positive amount", func() {
		BeforeEach(func() {
			gen.responses = []string{`{"bills": [
  {"amount": 0},
  {"amount": -5000},
  {"amount": null},
  {"paid_amount": 1000},
  "not an object",
  {"amount": 42000, "paid_amount": -1}
]}`}
		})

		It("drops them", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Amount).To(EqualAmount("42000"))
			Expect(records[0].PaidAmount).To(EqualAmount("0"))
		})
	})

	When("the bills list is empty", func() {
		BeforeEach(func() {
			gen.responses = []string{`{"bills": []}`}
		})

		It("returns an empty list without error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	DescribeTable("malformed responses",
		func(response string) {
			x := NewBillTextExtractor(&mockGenerator{responses: []string{response}}, nil, Config{})
			_, err := x.ExtractBills(context.Background(), "anything")
			Expect(IsMalformed(err)).To(BeTrue())

			var me *MalformedResponseError
			Expect(errors.As(err, &me)).To(BeTrue())
			Expect(me.Response).To(Equal(response))
		},
		Entry("no JSON at all", "I could not find any bills."),
		Entry("unterminated JSON", `{"bills": [{"amount": 1000}`),
		Entry("missing bills key", `{"items": []}`),
		Entry("bills is null", `{"bills": null}`),
		Entry("bills is an object", `{"bills": {"amount": 1000}}`),
		Entry("invalid JSON", `{"bills": [1000,]}`),
	)

	When("the generator fails", func() {
		BeforeEach(func() {
			gen.errs = []error{errors.New("503 from upstream")}
		})

		It("returns a transport error", func() {
			Expect(IsTransport(err)).To(BeTrue())
			Expect(IsMalformed(err)).To(BeFalse())
		})
	})

	When("the generator has no credentials", func() {
		BeforeEach(func() {
			gen.errs = []error{scanning.ErrMissingCredentials}
		})

		It("returns a configuration error", func() {
			Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
		})
	})
})
