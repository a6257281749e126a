// Package operations is the boundary between callers and the marketplace:
// it validates input, resolves the shop's access token and applies the retry
// policy each operation allows.
package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
	"booking-proxy/internal/retry"
	"booking-proxy/internal/token"
)

// Options configures a Service.
type Options struct {
	// DocumentType is used when a create request names none.
	DocumentType gateway.DocumentType

	// Retry applies to tracking fetch and document download only.
	Retry retry.Policy

	Logger *slog.Logger
}

// Service runs marketplace operations for any shop.
type Service struct {
	tokens  token.Provider
	gateway gateway.Gateway
	backend backend.Backend
	docType gateway.DocumentType
	retry   retry.Policy
	logger  *slog.Logger
}

// New creates a Service. backend may be nil, in which case created documents
// are not recorded.
func New(tokens token.Provider, gw gateway.Gateway, be backend.Backend, opts Options) *Service {
	if opts.DocumentType == "" {
		opts.DocumentType = gateway.ThermalAirWaybill
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		tokens:  tokens,
		gateway: gw,
		backend: be,
		docType: opts.DocumentType,
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
}

// DocumentType returns the default shipping-document type.
func (s *Service) DocumentType() gateway.DocumentType { return s.docType }

// === Validation ===

func validateShop(shopID int64) error {
	if shopID <= 0 {
		return model.NewValidationError("shop_id", "is required")
	}
	return nil
}

func validateSerial(bookingSN string) (string, error) {
	sn := strings.TrimSpace(bookingSN)
	if sn == "" {
		return "", model.NewValidationError("booking_sn", "is required")
	}
	return sn, nil
}

// normalizeItems trims serials and enforces the 1..50 batch bound.
func normalizeItems(items []gateway.DocumentItem) ([]gateway.DocumentItem, error) {
	if len(items) == 0 {
		return nil, model.NewValidationError("booking_list", "cannot be empty")
	}
	if len(items) > gateway.MaxDocumentBatch {
		return nil, model.NewValidationError("booking_list", fmt.Sprintf("cannot exceed %d items", gateway.MaxDocumentBatch))
	}
	out := make([]gateway.DocumentItem, len(items))
	for i, it := range items {
		sn, err := validateSerial(it.BookingSN)
		if err != nil {
			return nil, model.NewValidationError("booking_list", fmt.Sprintf("item %d has no booking_sn", i))
		}
		out[i] = gateway.DocumentItem{
			BookingSN:            sn,
			PackageNumber:        strings.TrimSpace(it.PackageNumber),
			TrackingNumber:       strings.TrimSpace(it.TrackingNumber),
			ShippingDocumentType: strings.TrimSpace(it.ShippingDocumentType),
		}
	}
	return out, nil
}

// === Tracking ===

// TrackingNumber fetches the tracking number for one booking, retrying
// transient failures.
func (s *Service) TrackingNumber(ctx context.Context, shopID int64, bookingSN, packageNumber string) (*gateway.TrackingInfo, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	sn, err := validateSerial(bookingSN)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}

	return retry.Value(ctx, s.retry, func(ctx context.Context) (*gateway.TrackingInfo, error) {
		info, err := s.gateway.GetBookingTrackingNumber(ctx, shopID, accessToken, sn, strings.TrimSpace(packageNumber))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(info.TrackingNumber) == "" {
			return nil, &model.PlatformError{Code: string(model.FailureTrackingInvalid), Message: "tracking number not assigned yet"}
		}
		return info, nil
	})
}

// === Shipping Documents ===

// CreateResult reports a create-document call.
type CreateResult struct {
	Results   []gateway.DocumentResult `json:"result_list"`
	Succeeded []string                 `json:"succeeded"`
	Failed    []gateway.DocumentResult `json:"failed,omitempty"`
}

// CreateDocuments requests shipping documents for one shop. It is never
// retried. Every item must carry a tracking number. Bookings the platform
// accepted are recorded READY in the backend.
func (s *Service) CreateDocuments(ctx context.Context, shopID int64, items []gateway.DocumentItem, docType gateway.DocumentType) (*CreateResult, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	items, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}
	if docType == "" {
		docType = s.docType
	}
	if !docType.Valid() {
		return nil, model.NewValidationError("document_type", "must be one of THERMAL_AIR_WAYBILL, NORMAL_AIR_WAYBILL, A4_PDF")
	}
	for _, it := range items {
		if it.TrackingNumber == "" {
			return nil, model.NewValidationError("booking_list", "booking "+it.BookingSN+" has no tracking number")
		}
	}

	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}

	results, err := s.gateway.CreateBookingShippingDocument(ctx, shopID, accessToken, items, docType)
	if err != nil {
		return nil, err
	}

	out := &CreateResult{Results: results}
	if len(results) == 0 {
		// No per-item report: the whole batch was accepted.
		for _, it := range items {
			out.Succeeded = append(out.Succeeded, it.BookingSN)
		}
	}
	for _, r := range results {
		if r.Failed() {
			out.Failed = append(out.Failed, r)
			continue
		}
		out.Succeeded = append(out.Succeeded, r.BookingSN)
	}

	if s.backend != nil && len(out.Succeeded) > 0 {
		if err := s.backend.MarkDocumentReady(ctx, shopID, out.Succeeded); err != nil {
			s.logger.WarnContext(ctx, "recording created documents failed",
				slog.Int64("shop_id", shopID),
				slog.Int("bookings", len(out.Succeeded)),
				slog.String("error", err.Error()),
			)
		}
	}

	return out, nil
}

// DownloadDocuments downloads the PDF for up to 50 bookings of one shop,
// retrying transient failures.
func (s *Service) DownloadDocuments(ctx context.Context, shopID int64, items []gateway.DocumentItem) ([]byte, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	items, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}
	// Tracking numbers are not part of the download request.
	for i := range items {
		items[i].TrackingNumber = ""
	}

	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}

	return retry.Value(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		return s.gateway.DownloadBookingShippingDocument(ctx, shopID, accessToken, items)
	})
}

// === Shipping ===

// ShipRequest arranges shipment for one booking.
type ShipRequest struct {
	ShopID    int64                  `json:"shopId"`
	BookingSN string                 `json:"bookingSn"`
	Method    gateway.ShippingMethod `json:"shippingMethod"`
	Data      json.RawMessage        `json:"shippingData,omitempty"`
}

// Ship ships one booking. Without explicit data the method's payload is taken
// from the booking's shipping parameters.
func (s *Service) Ship(ctx context.Context, req ShipRequest) error {
	if err := validateShop(req.ShopID); err != nil {
		return err
	}
	sn, err := validateSerial(req.BookingSN)
	if err != nil {
		return err
	}
	if !req.Method.Valid() {
		return model.NewValidationError("shipping_method", "must be pickup or dropoff")
	}

	accessToken, err := s.tokens.ValidAccessToken(ctx, req.ShopID)
	if err != nil {
		return err
	}

	data := req.Data
	if len(data) == 0 || string(data) == "null" {
		params, err := s.gateway.GetBookingShippingParameter(ctx, req.ShopID, accessToken, sn)
		if err != nil {
			return err
		}
		if data = params.For(req.Method); data == nil {
			return &model.PlatformError{
				Code:    string(req.Method) + "_not_available",
				Message: fmt.Sprintf("%s is not available for booking %s", req.Method, sn),
			}
		}
	}

	return s.gateway.ShipBooking(ctx, req.ShopID, accessToken, sn, req.Method, data)
}

// ShippingParameter returns the pickup and dropoff options for one booking.
func (s *Service) ShippingParameter(ctx context.Context, shopID int64, bookingSN string) (*gateway.ShippingParameter, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	sn, err := validateSerial(bookingSN)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return s.gateway.GetBookingShippingParameter(ctx, shopID, accessToken, sn)
}

// === Listing ===

// BookingListPage returns one page of booking references.
func (s *Service) BookingListPage(ctx context.Context, shopID int64, opts gateway.ListOptions) (*gateway.BookingListPage, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return s.gateway.GetBookingList(ctx, shopID, accessToken, opts)
}

// BookingDetails fetches full records, chunking the serials.
func (s *Service) BookingDetails(ctx context.Context, shopID int64, bookingSNs []string) ([]model.Booking, error) {
	if err := validateShop(shopID); err != nil {
		return nil, err
	}
	if len(bookingSNs) == 0 {
		return nil, nil
	}
	accessToken, err := s.tokens.ValidAccessToken(ctx, shopID)
	if err != nil {
		return nil, err
	}

	var out []model.Booking
	for start := 0; start < len(bookingSNs); start += gateway.MaxDetailBatch {
		end := min(start+gateway.MaxDetailBatch, len(bookingSNs))
		chunk, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]model.Booking, error) {
			return s.gateway.GetBookingDetail(ctx, shopID, accessToken, bookingSNs[start:end], gateway.DefaultDetailFields)
		})
		if err != nil {
			return out, fmt.Errorf("fetching booking details: %w", err)
		}
		for i := range chunk {
			chunk[i].ShopID = shopID
		}
		out = append(out, chunk...)
	}
	return out, nil
}
