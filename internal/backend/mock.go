package backend

import (
	"context"

	"booking-proxy/internal/model"
)

// Mock implements Backend for testing.
// Each method can be configured via function fields.
type Mock struct {
	ListBookingsFunc      func(ctx context.Context, f Filter) ([]model.Booking, error)
	UpdateTrackingFunc    func(ctx context.Context, shopID int64, bookingSN, trackingNumber string) error
	MarkDocumentReadyFunc func(ctx context.Context, shopID int64, bookingSNs []string) error
	MarkPrintedFunc       func(ctx context.Context, shopID int64, bookingSNs []string) error
}

// ListBookings calls the configured ListBookingsFunc or returns no bookings.
func (m *Mock) ListBookings(ctx context.Context, f Filter) ([]model.Booking, error) {
	if m.ListBookingsFunc != nil {
		return m.ListBookingsFunc(ctx, f)
	}
	return nil, nil
}

// UpdateTracking calls the configured UpdateTrackingFunc or succeeds.
func (m *Mock) UpdateTracking(ctx context.Context, shopID int64, bookingSN, trackingNumber string) error {
	if m.UpdateTrackingFunc != nil {
		return m.UpdateTrackingFunc(ctx, shopID, bookingSN, trackingNumber)
	}
	return nil
}

// MarkDocumentReady calls the configured MarkDocumentReadyFunc or succeeds.
func (m *Mock) MarkDocumentReady(ctx context.Context, shopID int64, bookingSNs []string) error {
	if m.MarkDocumentReadyFunc != nil {
		return m.MarkDocumentReadyFunc(ctx, shopID, bookingSNs)
	}
	return nil
}

// MarkPrinted calls the configured MarkPrintedFunc or succeeds.
func (m *Mock) MarkPrinted(ctx context.Context, shopID int64, bookingSNs []string) error {
	if m.MarkPrintedFunc != nil {
		return m.MarkPrintedFunc(ctx, shopID, bookingSNs)
	}
	return nil
}

var _ Backend = (*Mock)(nil)
