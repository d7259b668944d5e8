package bill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/bill-tracker/internal/currency"
	"github.com/zombor/bill-tracker/internal/extraction"
	"github.com/zombor/bill-tracker/internal/settings"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service and extraction errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, extraction.ErrConfiguration):
		return http.StatusServiceUnavailable
	case extraction.IsTransport(err):
		return http.StatusBadGateway
	case extraction.IsMalformed(err), errors.Is(err, ErrAmountNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "Internal server error"
	}
	writeError(w, message, code)
}

// billView adds display forms of the amounts
type billView struct {
	*Bill
	AmountDisplay      string `json:"amount_display"`
	PaidAmountDisplay  string `json:"paid_amount_display"`
	OutstandingDisplay string `json:"outstanding_display"`
}

func viewOf(b *Bill) billView {
	return billView{
		Bill:               b,
		AmountDisplay:      currency.FormatRupiah(b.Amount),
		PaidAmountDisplay:  currency.FormatRupiah(b.PaidAmount),
		OutstandingDisplay: currency.FormatRupiah(b.Outstanding()),
	}
}

// contentTypeFor guesses a missing content type from the file extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// readUpload reads the "file" part of a multipart form. It returns a nil
// header when the form has no file and required is false.
func readUpload(w http.ResponseWriter, r *http.Request, required bool) ([]byte, *multipart.FileHeader, bool) {
	if !parseUploadForm(w, r) {
		return nil, nil, false
	}

	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) && !required {
		return nil, nil, true
	}
	if err != nil {
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, msg, http.StatusBadRequest)
		return nil, nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return nil, nil, false
	}
	return data, header, true
}

func parseUploadForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, msg, http.StatusBadRequest)
		return false
	}
	return true
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleListBills returns all bills
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListBills()
	if err != nil {
		writeServiceError(w, "Error listing bills", err)
		return
	}
	views := make([]billView, 0, len(bills))
	for _, b := range bills {
		views = append(views, viewOf(b))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleUploadBill handles a bill photo upload
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	data, header, ok := readUpload(w, r, true)
	if !ok {
		return
	}

	bill, err := s.service.UploadBill(r.Context(), header.Filename, r.FormValue("title"), data, contentTypeFor(header))
	if err != nil {
		writeServiceError(w, "Error processing bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(bill))
}

// handleUploadBills handles several bill photos in one request. Each file
// gets its own result; one bad photo does not fail the others.
func (s *Server) handleUploadBills(w http.ResponseWriter, r *http.Request) {
	if !parseUploadForm(w, r) {
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, "No files were selected. Please choose files to upload.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		data, err := readFile(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		uploads = append(uploads, Upload{Filename: header.Filename, Data: data, ContentType: contentTypeFor(header)})
	}

	type result struct {
		Filename string    `json:"filename"`
		Bill     *billView `json:"bill,omitempty"`
		Error    string    `json:"error,omitempty"`
		Status   int       `json:"status"`
	}
	results := s.service.UploadBills(r.Context(), uploads)
	out := make([]result, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			code := statusFor(res.Err)
			msg := res.Err.Error()
			if code == http.StatusInternalServerError {
				msg = "Internal server error"
			}
			out = append(out, result{Filename: res.Filename, Error: msg, Status: code})
			continue
		}
		view := viewOf(res.Bill)
		out = append(out, result{Filename: res.Filename, Bill: &view, Status: http.StatusCreated})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRecordPayment handles a payment proof upload, an amount typed in, or
// both
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	data, header, ok := readUpload(w, r, false)
	if !ok {
		return
	}
	var filename, contentType string
	if header != nil {
		filename = header.Filename
		contentType = contentTypeFor(header)
	}

	bill, err := s.service.RecordPayment(r.Context(), r.PathValue("id"), filename, data, contentType, r.FormValue("amount"))
	if err != nil {
		writeServiceError(w, "Error recording payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(bill))
}

// handleCreateManualBill creates a bill from typed-in values
func (s *Server) handleCreateManualBill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		Amount string `json:"amount"`
		Date   string `json:"date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	bill, err := s.service.CreateManualBill(req.Title, req.Amount, req.Date)
	if err != nil {
		writeServiceError(w, "Error creating bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(bill))
}

// handleImportFromText creates bills from a free-form description
func (s *Server) handleImportFromText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, "Text is required", http.StatusBadRequest)
		return
	}

	bills, err := s.service.ImportFromText(r.Context(), req.Text)
	if err != nil {
		writeServiceError(w, "Error importing bills", err)
		return
	}
	views := make([]billView, 0, len(bills))
	for _, b := range bills {
		views = append(views, viewOf(b))
	}
	writeJSON(w, http.StatusCreated, views)
}

// handleGetBill returns a single bill
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.GetBill(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting bill", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(bill))
}

// handleGetBillFile returns the uploaded photo of a bill
func (s *Server) handleGetBillFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBillFile(r.PathValue("id"))
	if err != nil {
		writeError(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteBill deletes a bill
func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBill(r.PathValue("id")); err != nil {
		writeServiceError(w, "Error deleting bill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateAmount sets a bill amount by hand
func (s *Server) handleUpdateAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	bill, err := s.service.UpdateAmount(r.PathValue("id"), req.Amount)
	if err != nil {
		writeServiceError(w, "Error updating amount", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(bill))
}

// handleNormalizeAmount resolves typed amount text for input fields
func (s *Server) handleNormalizeAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Raw      string `json:"raw"`
		Decimals int    `json:"decimals"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	value, ok := currency.Normalize(req.Raw)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"value":   value,
		"display": currency.Format(value, req.Decimals),
	})
}

// handleListSettings returns every known key with its override, if any.
// API keys are masked.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.settings.All()
	if err != nil {
		writeServiceError(w, "Error listing settings", err)
		return
	}

	type entry struct {
		Key        string `json:"key"`
		Value      string `json:"value"`
		Overridden bool   `json:"overridden"`
	}
	entries := make([]entry, 0, len(settings.Keys))
	for _, key := range settings.Keys {
		v, ok := stored[key]
		entries = append(entries, entry{Key: key, Value: settings.Mask(key, v), Overridden: ok})
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSetSetting stores an override
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !settings.Known(key) {
		writeError(w, "Unknown setting", http.StatusNotFound)
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.settings.Set(key, req.Value); err != nil {
		writeServiceError(w, "Error saving setting", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteSetting removes an override so the default applies again
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !settings.Known(key) {
		writeError(w, "Unknown setting", http.StatusNotFound)
		return
	}
	if err := s.settings.Delete(key); err != nil {
		writeServiceError(w, "Error deleting setting", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
