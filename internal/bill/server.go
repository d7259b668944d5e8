package bill

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// SettingsStore is the operator-editable settings backend
type SettingsStore interface {
	All() (map[string]string, error)
	Set(key, value string) error
	Delete(key string) error
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for bills
type Server struct {
	service   *Service
	settings  SettingsStore
	basicAuth BasicAuth
	mux       *http.ServeMux
	http      *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, settings SettingsStore, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, settings, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, settings SettingsStore, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		settings:  settings,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.http = &http.Server{
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/bills/{id}/file", s.requireAuth(s.handleGetBillFile))
	s.mux.HandleFunc("PUT /api/bills/{id}/amount", s.requireAuth(s.handleUpdateAmount))
	s.mux.HandleFunc("POST /api/bills/{id}/payments", s.requireAuth(s.handleRecordPayment))
	s.mux.HandleFunc("POST /api/bills/manual", s.requireAuth(s.handleCreateManualBill))
	s.mux.HandleFunc("POST /api/bills/from-text", s.requireAuth(s.handleImportFromText))
	s.mux.HandleFunc("POST /api/bills/batch", s.requireAuth(s.handleUploadBills))
	s.mux.HandleFunc("GET /api/bills/{id}", s.requireAuth(s.handleGetBill))
	s.mux.HandleFunc("DELETE /api/bills/{id}", s.requireAuth(s.handleDeleteBill))
	s.mux.HandleFunc("GET /api/bills", s.requireAuth(s.handleListBills))
	s.mux.HandleFunc("POST /api/bills", s.requireAuth(s.handleUploadBill))

	s.mux.HandleFunc("POST /api/amounts/normalize", s.requireAuth(s.handleNormalizeAmount))

	s.mux.HandleFunc("GET /api/settings", s.requireAuth(s.handleListSettings))
	s.mux.HandleFunc("PUT /api/settings/{key}", s.requireAuth(s.handleSetSetting))
	s.mux.HandleFunc("DELETE /api/settings/{key}", s.requireAuth(s.handleDeleteSetting))
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http.Addr = addr
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.Handler.ServeHTTP(w, r)
}
