// Package handler provides the HTTP and MCP surface of the booking service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"booking-proxy/internal/archive"
	"booking-proxy/internal/backend"
	"booking-proxy/internal/ingest"
	"booking-proxy/internal/metrics"
	"booking-proxy/internal/model"
	"booking-proxy/internal/operations"
	"booking-proxy/internal/printing"
	"booking-proxy/internal/reconcile"
	"booking-proxy/internal/session"
)

// Store is the durable booking store the handlers write through.
type Store interface {
	backend.Backend
	SaveBookings(ctx context.Context, bookings []model.Booking) error
}

// Scans controls the background scan worker.
type Scans interface {
	Trigger() bool
	LastReport() (*reconcile.Report, error)
}

// Printer runs print jobs.
type Printer interface {
	Print(ctx context.Context, sess *session.Session, req printing.Request) (*printing.Report, error)
}

// Syncer pulls bookings from the marketplace into the store.
type Syncer interface {
	SyncShop(ctx context.Context, shopID int64, opts ingest.Options) (*ingest.Result, error)
	SyncSerials(ctx context.Context, shopID int64, bookingSNs []string) (*ingest.Result, error)
}

// PushVerifier checks the signature on marketplace push notifications.
type PushVerifier interface {
	VerifyPush(callbackURL string, body []byte, authorization string) bool
}

// Deps wires a Handler. Scans, Printer, Syncer and Push may be nil, which
// disables the routes that need them.
type Deps struct {
	Operations  *operations.Service
	Store       Store
	Session     *session.Session
	Scans       Scans
	Printer     Printer
	Syncer      Syncer
	Push        PushVerifier
	CallbackURL string
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ops         *operations.Service
	store       Store
	sess        *session.Session
	scans       Scans
	printer     Printer
	syncer      Syncer
	push        PushVerifier
	callbackURL string
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// mergePDF joins downloaded chunks into one document.
	mergePDF func(docs [][]byte) ([]byte, error)
}

// New creates a new Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		ops:         d.Operations,
		store:       d.Store,
		sess:        d.Session,
		scans:       d.Scans,
		printer:     d.Printer,
		syncer:      d.Syncer,
		push:        d.Push,
		callbackURL: d.CallbackURL,
		metrics:     d.Metrics,
		logger:      d.Logger,
		mergePDF:    archive.MergePDF,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Booking store and engine
	mux.HandleFunc("GET /bookings", h.handleListBookings)
	mux.HandleFunc("POST /bookings", h.handleBookingAction)
	mux.HandleFunc("GET /bookings/ready-to-print", h.handleReadyToPrint)
	mux.HandleFunc("POST /bookings/scan", h.handleScan)
	mux.HandleFunc("GET /bookings/scan", h.handleLastScan)
	mux.HandleFunc("POST /bookings/print", h.handlePrint)
	mux.HandleFunc("POST /bookings/sync", h.handleSync)
	mux.HandleFunc("POST /session/reset", h.handleResetSession)

	// Marketplace operations
	mux.HandleFunc("POST /shopee/create-booking-shipping-document", h.handleCreateDocuments)
	mux.HandleFunc("POST /shopee/download-booking-shipping-document", h.handleDownloadDocuments)
	mux.HandleFunc("GET /shopee/booking-tracking-number", h.handleTrackingNumber)
	mux.HandleFunc("GET /shopee/booking-shipping-parameter", h.handleShippingParameter)
	mux.HandleFunc("POST /shopee/ship-booking", h.handleShipBooking)

	// Push channel
	mux.HandleFunc("POST /webhook/shopee", h.handleWebhook)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeOK sends {"success": true, "data": data}.
func (h *Handler) writeOK(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, model.OK(data))
}

// writeError sends {"success": false, "error": CODE, "message": ...}.
// APIErrors keep their status; platform business errors are 400; anything
// else is logged and reported as a 500 without internal detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	var platErr *model.PlatformError

	switch {
	case errors.As(err, &platErr):
		h.writeJSON(w, http.StatusBadRequest, model.Failed(platErr))
	case errors.As(err, &apiErr):
		h.writeJSON(w, apiErr.StatusCode, model.Failed(apiErr))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeJSON(w, http.StatusServiceUnavailable, model.Result{Error: "CANCELLED", Message: "request cancelled"})
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, model.Result{Error: "INTERNAL_ERROR", Message: "an internal error occurred"})
	}
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// unavailable reports a route whose dependency is not configured.
func unavailable(what string) error {
	return &model.APIError{
		Code:       "NOT_CONFIGURED",
		Message:    what + " is not configured",
		StatusCode: http.StatusNotImplemented,
	}
}
