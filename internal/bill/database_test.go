package bill

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-tracker/internal/settings"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveBill and GetBill", func() {
		var bill *Bill

		BeforeEach(func() {
			bill = &Bill{
				ID:           "bill-1",
				Title:        "Listrik Maret",
				Amount:       decimal.RequireFromString("1250000.50"),
				PaidAmount:   decimal.NewFromInt(250000),
				Date:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				Status:       StatusPartial,
				AmountSource: "labeled",
				Confidence:   0.9,
				Filename:     "bill-1_listrik.jpg",
				ContentType:  "image/jpeg",
				Payments: []Payment{
					{ID: "p1", Amount: decimal.NewFromInt(250000), AmountSource: SourceManual},
				},
			}
			Expect(db.SaveBill(bill)).To(Succeed())
		})

		It("round-trips the amounts exactly", func() {
			got, err := db.GetBill("bill-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Amount).To(EqualAmount("1250000.50"))
			Expect(got.PaidAmount).To(EqualAmount("250000"))
			Expect(got.Status).To(Equal(StatusPartial))
			Expect(got.Payments).To(HaveLen(1))
			Expect(got.Date.Equal(bill.Date)).To(BeTrue())
		})

		It("replaces an existing bill", func() {
			bill.Title = "Listrik April"
			Expect(db.SaveBill(bill)).To(Succeed())
			got, err := db.GetBill("bill-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("Listrik April"))
		})
	})

	Describe("GetBill", func() {
		It("returns ErrNotFound for an unknown ID", func() {
			_, err := db.GetBill("missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListBills", func() {
		It("returns an empty list for an empty database", func() {
			bills, err := db.ListBills()
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).NotTo(BeNil())
			Expect(bills).To(BeEmpty())
		})

		It("returns every bill", func() {
			Expect(db.SaveBill(&Bill{ID: "a"})).To(Succeed())
			Expect(db.SaveBill(&Bill{ID: "b"})).To(Succeed())
			bills, err := db.ListBills()
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(2))
		})
	})

	Describe("DeleteBill", func() {
		It("removes the bill", func() {
			Expect(db.SaveBill(&Bill{ID: "a"})).To(Succeed())
			Expect(db.DeleteBill("a")).To(Succeed())
			_, err := db.GetBill("a")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("ignores a missing bill", func() {
			Expect(db.DeleteBill("missing")).To(Succeed())
		})
	})

	Describe("Handle", func() {
		It("lets the settings store share the file", func() {
			store, err := settings.NewBoltStore(db.Handle())
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Set(settings.GeminiModel, "gemini-2.5-pro")).To(Succeed())
			Expect(settings.String(store, settings.GeminiModel, "")).To(Equal("gemini-2.5-pro"))
		})
	})

	Describe("reopening", func() {
		It("keeps saved bills", func() {
			Expect(db.SaveBill(&Bill{ID: "a", Title: "Air"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			got, err := db.GetBill("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("Air"))
		})
	})
})
