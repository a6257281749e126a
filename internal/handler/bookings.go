package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/ingest"
	"booking-proxy/internal/model"
	"booking-proxy/internal/printing"
	"booking-proxy/internal/session"
)

// listResponse is GET /bookings: the uniform result plus per-status counts.
type listResponse struct {
	model.Result
	Summary model.BookingSummary `json:"summary"`
}

// handleListBookings loads the session's booking list. The load event queues
// a reconciliation scan.
// GET /bookings
func (h *Handler) handleListBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, err := backend.ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	bookings, err := h.sess.Load(ctx, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}

	h.logger.InfoContext(ctx, "bookings loaded",
		slog.Int64("shop_id", f.ShopID),
		slog.String("booking_status", string(f.BookingStatus)),
		slog.Int("count", len(bookings)),
	)

	h.writeJSON(w, http.StatusOK, listResponse{
		Result:  model.OK(bookings),
		Summary: model.Summarize(bookings),
	})
}

// handleBookingAction applies one store action. Every write is mirrored into
// the session so the next scan sees it without a reload.
// POST /bookings
func (h *Handler) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req backend.ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	switch req.Action {
	case backend.ActionUpdateTracking:
		if req.ShopID <= 0 || strings.TrimSpace(req.BookingSN) == "" {
			h.writeError(w, model.NewValidationError("booking_sn", "shop_id and booking_sn are required"))
			return
		}
		if err := h.store.UpdateTracking(ctx, req.ShopID, req.BookingSN, req.TrackingNumber); err != nil {
			h.writeError(w, err)
			return
		}
		h.sess.Store().Patch(req.BookingSN, session.Patch{TrackingNumber: req.TrackingNumber})

	case backend.ActionMarkDocumentReady, backend.ActionMarkPrinted:
		if req.ShopID <= 0 || len(req.BookingSNList) == 0 {
			h.writeError(w, model.NewValidationError("booking_sn_list", "shop_id and booking_sn_list are required"))
			return
		}
		patch := session.Patch{DocumentStatus: model.DocumentReady}
		write := h.store.MarkDocumentReady
		if req.Action == backend.ActionMarkPrinted {
			patch = session.Patch{Printed: true}
			write = h.store.MarkPrinted
		}
		if err := write(ctx, req.ShopID, req.BookingSNList); err != nil {
			h.writeError(w, err)
			return
		}
		for _, sn := range req.BookingSNList {
			h.sess.Store().Patch(sn, patch)
		}

	case "", backend.ActionSave:
		if len(req.BookingList) == 0 {
			h.writeError(w, model.NewValidationError("booking_list", "cannot be empty"))
			return
		}
		if req.ShopID > 0 {
			for i := range req.BookingList {
				req.BookingList[i].ShopID = req.ShopID
			}
		}
		if err := h.store.SaveBookings(ctx, req.BookingList); err != nil {
			h.writeError(w, err)
			return
		}

	default:
		h.writeError(w, model.NewValidationError("action", "unknown action "+req.Action))
		return
	}

	h.logger.InfoContext(ctx, "booking action applied",
		slog.String("action", req.Action),
		slog.Int64("shop_id", req.ShopID),
	)
	h.writeOK(w, http.StatusOK, nil)
}

// handleReadyToPrint lists READY, unprinted bookings straight from the store.
// GET /bookings/ready-to-print?shop_id=
func (h *Handler) handleReadyToPrint(w http.ResponseWriter, r *http.Request) {
	f := backend.Filter{ReadyToPrint: true}
	if v := r.URL.Query().Get("shop_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, model.NewValidationError("shop_id", "must be an integer"))
			return
		}
		f.ShopID = id
	}

	bookings, err := h.store.ListBookings(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	h.writeOK(w, http.StatusOK, bookings)
}

// handleScan queues a reconciliation scan.
// POST /bookings/scan
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.writeError(w, unavailable("scan worker"))
		return
	}
	if !h.scans.Trigger() {
		h.writeError(w, model.NewConflictError("a scan is already pending or running"))
		return
	}
	h.writeOK(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// handleLastScan returns the most recent scan report.
// GET /bookings/scan
func (h *Handler) handleLastScan(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.writeError(w, unavailable("scan worker"))
		return
	}
	report, err := h.scans.LastReport()
	if report == nil && err == nil {
		h.writeError(w, model.NewNotFoundError("scan report"))
		return
	}
	res := model.OK(report)
	if err != nil {
		res.Message = err.Error()
	}
	h.writeJSON(w, http.StatusOK, res)
}

// handlePrint downloads and marks printed the READY bookings of the session.
// POST /bookings/print
func (h *Handler) handlePrint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.printer == nil {
		h.writeError(w, unavailable("printing"))
		return
	}

	var req printing.Request
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	report, err := h.printer.Print(ctx, h.sess, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := model.OK(report)
	res.Message = report.Warning
	h.writeJSON(w, http.StatusOK, res)
}

// syncRequest is POST /bookings/sync. Times are unix seconds.
type syncRequest struct {
	ShopID         int64               `json:"shop_id"`
	StartTime      int64               `json:"start_time,omitempty"`
	EndTime        int64               `json:"end_time,omitempty"`
	TimeRangeField string              `json:"time_range_field,omitempty"`
	BookingStatus  model.BookingStatus `json:"booking_status,omitempty"`
	PageSize       int                 `json:"page_size,omitempty"`
	BookingSNList  []string            `json:"booking_sn_list,omitempty"`
}

// handleSync copies bookings from the marketplace into the store.
// POST /bookings/sync
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.syncer == nil {
		h.writeError(w, unavailable("booking sync"))
		return
	}

	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ShopID <= 0 {
		h.writeError(w, model.NewValidationError("shop_id", "is required"))
		return
	}

	var (
		result *ingest.Result
		err    error
	)
	if len(req.BookingSNList) > 0 {
		result, err = h.syncer.SyncSerials(ctx, req.ShopID, req.BookingSNList)
	} else {
		opts := ingest.Options{
			TimeRangeField: req.TimeRangeField,
			BookingStatus:  model.BookingStatus(strings.ToUpper(string(req.BookingStatus))),
			PageSize:       req.PageSize,
		}
		if req.StartTime > 0 {
			opts.From = time.Unix(req.StartTime, 0)
		}
		if req.EndTime > 0 {
			opts.To = time.Unix(req.EndTime, 0)
		}
		result, err = h.syncer.SyncShop(ctx, req.ShopID, opts)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeOK(w, http.StatusOK, result)
}

// handleResetSession ends the session: both negative caches are cleared.
// POST /session/reset
func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Reset(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOK(w, http.StatusOK, map[string]string{"session_id": h.sess.ID})
}
