package gateway

import (
	"context"
	"encoding/json"

	"booking-proxy/internal/model"
)

// Mock implements Gateway for testing.
// Each method can be configured via function fields.
type Mock struct {
	GetBookingListFunc                  func(ctx context.Context, shopID int64, accessToken string, opts ListOptions) (*BookingListPage, error)
	GetBookingDetailFunc                func(ctx context.Context, shopID int64, accessToken string, bookingSNs []string, optionalFields []string) ([]model.Booking, error)
	GetBookingShippingParameterFunc     func(ctx context.Context, shopID int64, accessToken, bookingSN string) (*ShippingParameter, error)
	ShipBookingFunc                     func(ctx context.Context, shopID int64, accessToken, bookingSN string, method ShippingMethod, data json.RawMessage) error
	GetBookingTrackingNumberFunc        func(ctx context.Context, shopID int64, accessToken, bookingSN, packageNumber string) (*TrackingInfo, error)
	CreateBookingShippingDocumentFunc   func(ctx context.Context, shopID int64, accessToken string, items []DocumentItem, docType DocumentType) ([]DocumentResult, error)
	DownloadBookingShippingDocumentFunc func(ctx context.Context, shopID int64, accessToken string, items []DocumentItem) ([]byte, error)
}

// GetBookingList calls the configured GetBookingListFunc or returns an empty page.
func (m *Mock) GetBookingList(ctx context.Context, shopID int64, accessToken string, opts ListOptions) (*BookingListPage, error) {
	if m.GetBookingListFunc != nil {
		return m.GetBookingListFunc(ctx, shopID, accessToken, opts)
	}
	return &BookingListPage{}, nil
}

// GetBookingDetail calls the configured GetBookingDetailFunc or returns nothing.
func (m *Mock) GetBookingDetail(ctx context.Context, shopID int64, accessToken string, bookingSNs []string, optionalFields []string) ([]model.Booking, error) {
	if m.GetBookingDetailFunc != nil {
		return m.GetBookingDetailFunc(ctx, shopID, accessToken, bookingSNs, optionalFields)
	}
	return nil, nil
}

// GetBookingShippingParameter calls the configured func or returns a not-found error.
func (m *Mock) GetBookingShippingParameter(ctx context.Context, shopID int64, accessToken, bookingSN string) (*ShippingParameter, error) {
	if m.GetBookingShippingParameterFunc != nil {
		return m.GetBookingShippingParameterFunc(ctx, shopID, accessToken, bookingSN)
	}
	return nil, model.NewNotFoundError("shipping parameter")
}

// ShipBooking calls the configured ShipBookingFunc or succeeds.
func (m *Mock) ShipBooking(ctx context.Context, shopID int64, accessToken, bookingSN string, method ShippingMethod, data json.RawMessage) error {
	if m.ShipBookingFunc != nil {
		return m.ShipBookingFunc(ctx, shopID, accessToken, bookingSN, method, data)
	}
	return nil
}

// GetBookingTrackingNumber calls the configured func or returns a not-found error.
func (m *Mock) GetBookingTrackingNumber(ctx context.Context, shopID int64, accessToken, bookingSN, packageNumber string) (*TrackingInfo, error) {
	if m.GetBookingTrackingNumberFunc != nil {
		return m.GetBookingTrackingNumberFunc(ctx, shopID, accessToken, bookingSN, packageNumber)
	}
	return nil, model.NewNotFoundError("tracking number")
}

// CreateBookingShippingDocument calls the configured func or reports every item created.
func (m *Mock) CreateBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []DocumentItem, docType DocumentType) ([]DocumentResult, error) {
	if m.CreateBookingShippingDocumentFunc != nil {
		return m.CreateBookingShippingDocumentFunc(ctx, shopID, accessToken, items, docType)
	}
	results := make([]DocumentResult, len(items))
	for i, it := range items {
		results[i] = DocumentResult{BookingSN: it.BookingSN}
	}
	return results, nil
}

// DownloadBookingShippingDocument calls the configured func or returns a stub PDF.
func (m *Mock) DownloadBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []DocumentItem) ([]byte, error) {
	if m.DownloadBookingShippingDocumentFunc != nil {
		return m.DownloadBookingShippingDocumentFunc(ctx, shopID, accessToken, items)
	}
	return []byte("%PDF-1.4\n"), nil
}

var _ Gateway = (*Mock)(nil)
