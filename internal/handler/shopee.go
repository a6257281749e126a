package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booking-proxy/internal/archive"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
	"booking-proxy/internal/operations"
	"booking-proxy/internal/session"
)

// documentsRequest is the body of the create and download endpoints.
type documentsRequest struct {
	ShopID       int64                  `json:"shopId"`
	BookingList  []gateway.DocumentItem `json:"bookingList"`
	DocumentType gateway.DocumentType   `json:"documentType,omitempty"`
}

// handleCreateDocuments requests shipping documents for up to 50 bookings.
// POST /shopee/create-booking-shipping-document
func (h *Handler) handleCreateDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req documentsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.ops.CreateDocuments(ctx, req.ShopID, req.BookingList, req.DocumentType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Mirror accepted bookings into the session so the next scan skips them.
	for _, sn := range res.Succeeded {
		h.sess.Store().Patch(sn, session.Patch{DocumentStatus: model.DocumentReady})
	}
	h.metrics.RecordDocuments(len(res.Succeeded), len(res.Failed))

	h.logger.InfoContext(ctx, "shipping documents created",
		slog.Int64("shop_id", req.ShopID),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
	)
	h.writeOK(w, http.StatusOK, res)
}

// handleDownloadDocuments downloads shipping documents. Lists over 50 are
// split into chunks and the chunk PDFs are merged into one PDF. The
// Booking-Documents header summarises the download.
// POST /shopee/download-booking-shipping-document
func (h *Handler) handleDownloadDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req documentsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.BookingList) == 0 {
		h.writeError(w, model.NewValidationError("bookingList", "cannot be empty"))
		return
	}

	now := time.Now()
	var (
		files    [][]byte
		failed   int64
		firstErr error
	)
	for start, chunk := 0, 1; start < len(req.BookingList); start, chunk = start+gateway.MaxDocumentBatch, chunk+1 {
		end := min(start+gateway.MaxDocumentBatch, len(req.BookingList))
		pdf, err := h.ops.DownloadDocuments(ctx, req.ShopID, req.BookingList[start:end])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
			h.logger.WarnContext(ctx, "document chunk download failed",
				slog.Int64("shop_id", req.ShopID),
				slog.Int("chunk", chunk),
				slog.String("error", err.Error()),
			)
			continue
		}
		files = append(files, pdf)
	}
	if len(files) == 0 {
		h.writeError(w, firstErr)
		return
	}

	header, err := model.FormatDocumentsHeader(model.DocumentsSummary{
		Bookings: int64(len(req.BookingList)),
		Chunks:   int64(len(files)) + failed,
		Failed:   failed,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	body, err := h.mergePDF(files)
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename := archive.DocumentName(req.ShopID, now, 1)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(model.DocumentsHeader, header)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.WarnContext(ctx, "writing documents failed", slog.String("error", err.Error()))
	}
}

// handleTrackingNumber fetches one booking's tracking number and records it.
// GET /shopee/booking-tracking-number?shopId=&bookingSn=&packageNumber=
func (h *Handler) handleTrackingNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	shopID, err := shopParam(q.Get("shopId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	sn := strings.TrimSpace(q.Get("bookingSn"))

	info, err := h.ops.TrackingNumber(ctx, shopID, sn, q.Get("packageNumber"))
	h.metrics.RecordTrackingFetch(err == nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.store.UpdateTracking(ctx, shopID, sn, info.TrackingNumber); err != nil {
		h.logger.WarnContext(ctx, "recording tracking number failed",
			slog.Int64("shop_id", shopID),
			slog.String("booking_sn", sn),
			slog.String("error", err.Error()),
		)
	}
	h.sess.Store().Patch(sn, session.Patch{TrackingNumber: info.TrackingNumber})

	h.writeOK(w, http.StatusOK, info)
}

// handleShippingParameter returns pickup and dropoff options for one booking.
// GET /shopee/booking-shipping-parameter?shopId=&bookingSn=
func (h *Handler) handleShippingParameter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shopID, err := shopParam(q.Get("shopId"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	params, err := h.ops.ShippingParameter(r.Context(), shopID, q.Get("bookingSn"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOK(w, http.StatusOK, params)
}

// handleShipBooking arranges pickup or dropoff for one booking.
// POST /shopee/ship-booking
func (h *Handler) handleShipBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req operations.ShipRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.ops.Ship(ctx, req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "booking shipped",
		slog.Int64("shop_id", req.ShopID),
		slog.String("booking_sn", req.BookingSN),
		slog.String("method", string(req.Method)),
	)
	h.writeOK(w, http.StatusOK, map[string]string{"booking_sn": strings.TrimSpace(req.BookingSN)})
}

func shopParam(v string) (int64, error) {
	if v == "" {
		return 0, model.NewValidationError("shopId", "is required")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError("shopId", "must be a positive integer")
	}
	return id, nil
}
