package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"booking-proxy/internal/model"
	"booking-proxy/internal/session"
)

// Push codes handled by the webhook receiver.
const (
	PushBookingStatus = 3
	PushTracking      = 4
	PushDocument      = 15
)

// pushMessage is a marketplace push notification.
type pushMessage struct {
	Code      int         `json:"code"`
	ShopID    int64       `json:"shop_id"`
	Timestamp int64       `json:"timestamp"`
	Data      pushPayload `json:"data"`
}

// pushPayload carries the fields the handled codes use. Older pushes name
// the serial ordersn.
type pushPayload struct {
	BookingSN      string `json:"booking_sn"`
	OrderSN        string `json:"ordersn"`
	PackageNumber  string `json:"package_number"`
	TrackingNumber string `json:"tracking_no"`
	Status         string `json:"status"`
}

func (p pushPayload) serial() string {
	if sn := strings.TrimSpace(p.BookingSN); sn != "" {
		return sn
	}
	return strings.TrimSpace(p.OrderSN)
}

// handleWebhook receives marketplace pushes. Once the signature checks out
// the push is always acknowledged with 200; processing failures are logged
// and left for the reconciliation scan to repair.
// POST /webhook/shopee
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		h.writeError(w, model.NewValidationError("body", "unreadable"))
		return
	}

	if h.push == nil {
		h.writeError(w, unavailable("push verification"))
		return
	}
	if !h.push.VerifyPush(h.callbackURL, body, r.Header.Get("Authorization")) {
		h.logger.WarnContext(ctx, "push signature rejected")
		h.writeError(w, model.NewUnauthorizedError("invalid push signature"))
		return
	}

	var msg pushMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.writeError(w, model.NewValidationError("body", "invalid JSON"))
		return
	}

	err = h.processPush(ctx, msg)
	h.metrics.RecordWebhook(msg.Code, err == nil)
	if err != nil {
		h.logger.WarnContext(ctx, "push processing failed",
			slog.Int("code", msg.Code),
			slog.Int64("shop_id", msg.ShopID),
			slog.String("booking_sn", msg.Data.serial()),
			slog.String("error", err.Error()),
		)
	}

	h.writeOK(w, http.StatusOK, nil)
}

func (h *Handler) processPush(ctx context.Context, msg pushMessage) error {
	sn := msg.Data.serial()

	switch msg.Code {
	case PushTracking:
		tn := strings.TrimSpace(msg.Data.TrackingNumber)
		if sn == "" || tn == "" {
			return fmt.Errorf("tracking push without booking_sn or tracking_no")
		}
		if err := h.store.UpdateTracking(ctx, msg.ShopID, sn, tn); err != nil {
			return fmt.Errorf("recording tracking: %w", err)
		}
		h.sess.Store().Patch(sn, session.Patch{TrackingNumber: tn})

	case PushDocument:
		if !strings.EqualFold(msg.Data.Status, string(model.DocumentReady)) {
			h.logger.DebugContext(ctx, "document push ignored",
				slog.String("booking_sn", sn),
				slog.String("status", msg.Data.Status),
			)
			return nil
		}
		if sn == "" {
			return fmt.Errorf("document push without booking_sn")
		}
		if err := h.store.MarkDocumentReady(ctx, msg.ShopID, []string{sn}); err != nil {
			return fmt.Errorf("recording document: %w", err)
		}
		h.sess.Store().Patch(sn, session.Patch{DocumentStatus: model.DocumentReady})

	case PushBookingStatus:
		if sn == "" {
			return fmt.Errorf("status push without booking_sn")
		}
		if h.syncer == nil {
			return nil
		}
		if _, err := h.syncer.SyncSerials(ctx, msg.ShopID, []string{sn}); err != nil {
			return fmt.Errorf("syncing booking: %w", err)
		}

	default:
		h.logger.InfoContext(ctx, "push acknowledged",
			slog.Int("code", msg.Code),
			slog.Int64("shop_id", msg.ShopID),
		)
	}
	return nil
}
