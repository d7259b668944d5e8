package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-tracker/internal/currency"
	"github.com/zombor/bill-tracker/internal/extraction"
)

var (
	// ErrInvalidAmount is returned for amount text that does not normalize to
	// a positive amount
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountNotFound is returned when a payment proof shows no readable
	// amount and none was typed in
	ErrAmountNotFound = errors.New("no amount found, enter it manually")
	// ErrInvalidDate is returned for a date that is not YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date")
)

// AmountExtractor reads a single amount from a document, or from several
// documents concurrently
type AmountExtractor interface {
	ExtractAmount(ctx context.Context, doc extraction.Document, kind extraction.Kind) (*extraction.Extraction, error)
	ExtractBatch(ctx context.Context, docs []extraction.Document, kind extraction.Kind) []extraction.BatchResult
}

// Upload is one file of a batch upload
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// UploadResult is the outcome for one file of UploadBills. Exactly one of
// Bill and Err is set.
type UploadResult struct {
	Filename string
	Bill     *Bill
	Err      error
}

// BillParser turns a free-form description into bill records
type BillParser interface {
	ExtractBills(ctx context.Context, text string) ([]extraction.BillRecord, error)
}

// IDGenerator generates unique IDs for bills and payments
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles bill operations
type Service struct {
	db          DB
	extractor   AmountExtractor
	parser      BillParser
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with UUID identifiers and the wall clock
func NewService(db DB, extractor AmountExtractor, parser BillParser, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, parser, storage, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor AmountExtractor, parser BillParser, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		parser:      parser,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone
// generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	return base + ext
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if strings.TrimSpace(base) == "" {
		return "Bill"
	}
	return base
}

// UploadBill stores a bill photo and reads its total. When no amount can be
// read the bill is saved with status needs_review for manual entry.
// Collaborator failures abort the upload.
func (s *Service) UploadBill(ctx context.Context, filename, title string, data []byte, contentType string) (*Bill, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	ext, err := s.extractor.ExtractAmount(ctx, extraction.Document{Name: filename, Data: data, ContentType: contentType}, extraction.KindBill)
	if err != nil {
		slog.Error("Failed to extract bill amount",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedName)
		return nil, fmt.Errorf("extracting bill amount: %w", err)
	}

	bill, err := s.saveBill(id, now, filename, title, savedName, contentType, ext)
	if err != nil {
		s.removeFile(savedName)
		return nil, err
	}
	return bill, nil
}

// UploadBills stores several bill photos and reads their totals concurrently.
// A failure on one file does not affect the others.
func (s *Service) UploadBills(ctx context.Context, uploads []Upload) []UploadResult {
	results := make([]UploadResult, len(uploads))
	now := s.timeSource.Now()

	type pending struct {
		index     int
		id        string
		savedName string
	}
	var (
		docs    []extraction.Document
		waiting []pending
	)
	for i, u := range uploads {
		results[i].Filename = u.Filename
		id := s.idGenerator.Generate()
		savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(u.Filename)), u.Data)
		if err != nil {
			results[i].Err = fmt.Errorf("saving file: %w", err)
			continue
		}
		docs = append(docs, extraction.Document{Name: u.Filename, Data: u.Data, ContentType: u.ContentType})
		waiting = append(waiting, pending{index: i, id: id, savedName: savedName})
	}

	for j, res := range s.extractor.ExtractBatch(ctx, docs, extraction.KindBill) {
		p := waiting[j]
		u := uploads[p.index]
		if res.Err != nil {
			slog.Error("Failed to extract bill amount", "filename", u.Filename, "error", res.Err)
			s.removeFile(p.savedName)
			results[p.index].Err = fmt.Errorf("extracting bill amount: %w", res.Err)
			continue
		}
		bill, err := s.saveBill(p.id, now, u.Filename, "", p.savedName, u.ContentType, res.Extraction)
		if err != nil {
			s.removeFile(p.savedName)
			results[p.index].Err = err
			continue
		}
		results[p.index].Bill = bill
	}
	return results
}

func (s *Service) saveBill(id string, now time.Time, filename, title, savedName, contentType string, ext *extraction.Extraction) (*Bill, error) {
	if strings.TrimSpace(title) == "" {
		title = titleFromFilename(filename)
	}
	bill := &Bill{
		ID:          id,
		Title:       title,
		Date:        now,
		Filename:    savedName,
		ContentType: contentType,
		Payments:    []Payment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ext != nil {
		bill.Amount = ext.Amount
		bill.AmountSource = string(ext.Tier)
		bill.Confidence = ext.Confidence
	}
	bill.refreshStatus()

	if err := s.db.SaveBill(bill); err != nil {
		return nil, fmt.Errorf("saving bill to database: %w", err)
	}
	return bill, nil
}

// RecordPayment stores a transfer proof against a bill. amountText, when not
// empty, is used instead of reading the amount from the proof.
func (s *Service) RecordPayment(ctx context.Context, billID, filename string, data []byte, contentType, amountText string) (*Bill, error) {
	bill, err := s.db.GetBill(billID)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}

	now := s.timeSource.Now()
	payment := Payment{ID: s.idGenerator.Generate(), CreatedAt: now}

	if strings.TrimSpace(amountText) != "" {
		amount, err := parseAmount(amountText)
		if err != nil {
			return nil, err
		}
		payment.Amount = amount
		payment.AmountSource = SourceManual
	}

	if len(data) > 0 {
		savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", payment.ID, sanitizeFilename(filename)), data)
		if err != nil {
			return nil, fmt.Errorf("saving file: %w", err)
		}
		payment.Filename = savedName
		payment.ContentType = contentType

		if payment.AmountSource == "" {
			ext, err := s.extractor.ExtractAmount(ctx, extraction.Document{Name: filename, Data: data, ContentType: contentType}, extraction.KindTransfer)
			if err != nil {
				slog.Error("Failed to extract payment amount", "bill_id", billID, "filename", filename, "error", err)
				s.removeFile(savedName)
				return nil, fmt.Errorf("extracting payment amount: %w", err)
			}
			if ext == nil {
				s.removeFile(savedName)
				return nil, ErrAmountNotFound
			}
			payment.Amount = ext.Amount
			payment.AmountSource = string(ext.Tier)
			payment.Confidence = ext.Confidence
		}
	}

	if payment.AmountSource == "" {
		return nil, ErrAmountNotFound
	}

	bill.Payments = append(bill.Payments, payment)
	bill.PaidAmount = bill.PaidAmount.Add(payment.Amount)
	bill.UpdatedAt = now
	bill.refreshStatus()

	if err := s.db.SaveBill(bill); err != nil {
		if payment.Filename != "" {
			s.removeFile(payment.Filename)
		}
		return nil, fmt.Errorf("saving bill to database: %w", err)
	}
	return bill, nil
}

// CreateManualBill records a bill typed in by the user. amountText may use
// either Indonesian or US separators; dateText is YYYY-MM-DD or empty for
// today.
func (s *Service) CreateManualBill(title, amountText, dateText string) (*Bill, error) {
	amount, err := parseAmount(amountText)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	date := now
	if strings.TrimSpace(dateText) != "" {
		date, err = time.ParseInLocation("2006-01-02", strings.TrimSpace(dateText), now.Location())
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrInvalidDate, dateText)
		}
	}
	if strings.TrimSpace(title) == "" {
		title = "Bill"
	}

	bill := &Bill{
		ID:           s.idGenerator.Generate(),
		Title:        title,
		Amount:       amount,
		Date:         date,
		AmountSource: SourceManual,
		Payments:     []Payment{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	bill.refreshStatus()

	if err := s.db.SaveBill(bill); err != nil {
		return nil, fmt.Errorf("saving bill to database: %w", err)
	}
	return bill, nil
}

// ImportFromText creates one bill per record the parser finds in text
func (s *Service) ImportFromText(ctx context.Context, text string) ([]*Bill, error) {
	records, err := s.parser.ExtractBills(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extracting bills from text: %w", err)
	}

	now := s.timeSource.Now()
	bills := make([]*Bill, 0, len(records))
	for i, rec := range records {
		bill := &Bill{
			ID:           s.idGenerator.Generate(),
			Title:        fmt.Sprintf("Bill %d", i+1),
			Amount:       rec.Amount,
			PaidAmount:   rec.PaidAmount,
			Date:         rec.Date,
			AmountSource: SourceText,
			Payments:     []Payment{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if rec.PaidAmount.IsPositive() {
			bill.Payments = append(bill.Payments, Payment{
				ID:           s.idGenerator.Generate(),
				Amount:       rec.PaidAmount,
				AmountSource: SourceText,
				CreatedAt:    now,
			})
		}
		bill.refreshStatus()

		if err := s.db.SaveBill(bill); err != nil {
			return nil, fmt.Errorf("saving bill %d to database: %w", i+1, err)
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// UpdateAmount sets the amount of a bill by hand, typically one that needs
// review
func (s *Service) UpdateAmount(id, amountText string) (*Bill, error) {
	amount, err := parseAmount(amountText)
	if err != nil {
		return nil, err
	}

	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	bill.Amount = amount
	bill.AmountSource = SourceManual
	bill.Confidence = 0
	bill.UpdatedAt = s.timeSource.Now()
	bill.refreshStatus()

	if err := s.db.SaveBill(bill); err != nil {
		return nil, fmt.Errorf("saving bill to database: %w", err)
	}
	return bill, nil
}

// GetBill retrieves a bill by ID
func (s *Service) GetBill(id string) (*Bill, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return bill, nil
}

// ListBills returns all bills, newest first
func (s *Service) ListBills() ([]*Bill, error) {
	bills, err := s.db.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	sort.SliceStable(bills, func(i, j int) bool {
		return bills[i].CreatedAt.After(bills[j].CreatedAt)
	})
	return bills, nil
}

// DeleteBill removes a bill with its photo and payment proofs
func (s *Service) DeleteBill(id string) error {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return fmt.Errorf("getting bill for deletion: %w", err)
	}

	if bill.Filename != "" {
		s.removeFile(bill.Filename)
	}
	for _, p := range bill.Payments {
		if p.Filename != "" {
			s.removeFile(p.Filename)
		}
	}

	if err := s.db.DeleteBill(id); err != nil {
		return fmt.Errorf("deleting bill from database: %w", err)
	}
	return nil
}

// GetBillFile retrieves the uploaded photo of a bill
func (s *Service) GetBillFile(id string) ([]byte, string, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill: %w", err)
	}
	if bill.Filename == "" {
		return nil, "", fmt.Errorf("bill %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(bill.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill file: %w", err)
	}
	return data, bill.ContentType, nil
}

func (s *Service) removeFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

func parseAmount(text string) (decimal.Decimal, error) {
	amount, ok := currency.Normalize(text)
	if !ok || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return amount, nil
}
