// Package gateway defines the interface to the marketplace booking and
// logistics APIs.
package gateway

import (
	"context"
	"encoding/json"

	"booking-proxy/internal/model"
)

// Gateway abstracts the marketplace booking endpoints.
//
// Every call is scoped to one shop and authenticated with that shop's access
// token. Business errors reported by the platform come back as
// *model.PlatformError; transport and HTTP-level failures as *model.APIError.
type Gateway interface {
	// GetBookingList returns one cursor page of booking references.
	GetBookingList(ctx context.Context, shopID int64, accessToken string, opts ListOptions) (*BookingListPage, error)

	// GetBookingDetail returns full booking records for up to 50 serials.
	// ShopID is not part of the platform payload and is set by the caller.
	GetBookingDetail(ctx context.Context, shopID int64, accessToken string, bookingSNs []string, optionalFields []string) ([]model.Booking, error)

	// GetBookingShippingParameter returns the pickup and dropoff options.
	GetBookingShippingParameter(ctx context.Context, shopID int64, accessToken, bookingSN string) (*ShippingParameter, error)

	// ShipBooking arranges shipment with the given method payload.
	ShipBooking(ctx context.Context, shopID int64, accessToken, bookingSN string, method ShippingMethod, data json.RawMessage) error

	// GetBookingTrackingNumber fetches the tracking number once assigned.
	// packageNumber is optional.
	GetBookingTrackingNumber(ctx context.Context, shopID int64, accessToken, bookingSN, packageNumber string) (*TrackingInfo, error)

	// CreateBookingShippingDocument requests document generation for up to
	// 50 bookings and reports per-booking results.
	CreateBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []DocumentItem, docType DocumentType) ([]DocumentResult, error)

	// DownloadBookingShippingDocument returns the generated PDF for up to 50
	// bookings.
	DownloadBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []DocumentItem) ([]byte, error)
}

// MaxDocumentBatch is the platform limit for the document endpoints.
const MaxDocumentBatch = 50

// MaxDetailBatch is the batch size used when fetching booking details.
const MaxDetailBatch = 20

// ListOptions filters get_booking_list.
type ListOptions struct {
	TimeRangeField         string // "create_time" or "update_time"
	TimeFrom               int64
	TimeTo                 int64
	PageSize               int // 1..100, default 50
	Cursor                 string
	BookingStatus          string // empty or "ALL" for every status
	ResponseOptionalFields []string
}

// BookingListPage is one page of get_booking_list.
type BookingListPage struct {
	More        bool         `json:"more"`
	NextCursor  string       `json:"next_cursor"`
	BookingList []BookingRef `json:"booking_list"`
}

// BookingRef is a booking reference from the list endpoint.
type BookingRef struct {
	BookingSN     string              `json:"booking_sn"`
	BookingStatus model.BookingStatus `json:"booking_status"`
}

// DefaultDetailFields are requested from get_booking_detail when the caller
// does not specify any.
var DefaultDetailFields = []string{
	"buyer_user_id", "buyer_username", "recipient_address", "item_list",
	"dropshipper", "dropshipper_phone", "cancel_by", "cancel_reason",
	"fulfillment_flag", "pickup_done_time", "package_list", "shipping_carrier",
	"payment_method", "total_amount",
}

// ShippingMethod is how a booking is handed to the carrier.
type ShippingMethod string

const (
	MethodPickup  ShippingMethod = "pickup"
	MethodDropoff ShippingMethod = "dropoff"
)

// Valid reports whether m is pickup or dropoff.
func (m ShippingMethod) Valid() bool {
	return m == MethodPickup || m == MethodDropoff
}

// ShippingParameter is get_booking_shipping_parameter's response. Pickup and
// Dropoff are opaque payloads passed back to ship_booking.
type ShippingParameter struct {
	InfoNeeded map[string][]string `json:"info_needed,omitempty"`
	Pickup     json.RawMessage     `json:"pickup,omitempty"`
	Dropoff    json.RawMessage     `json:"dropoff,omitempty"`
}

// For returns the payload for the given method, or nil when unavailable.
func (p *ShippingParameter) For(m ShippingMethod) json.RawMessage {
	var raw json.RawMessage
	switch m {
	case MethodPickup:
		raw = p.Pickup
	case MethodDropoff:
		raw = p.Dropoff
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// TrackingInfo is get_booking_tracking_number's response.
type TrackingInfo struct {
	TrackingNumber          string `json:"tracking_number"`
	PLPNumber               string `json:"plp_number,omitempty"`
	FirstMileTrackingNumber string `json:"first_mile_tracking_number,omitempty"`
	LastMileTrackingNumber  string `json:"last_mile_tracking_number,omitempty"`
}

// DocumentType selects the shipping-document layout.
type DocumentType string

const (
	ThermalAirWaybill DocumentType = "THERMAL_AIR_WAYBILL"
	NormalAirWaybill  DocumentType = "NORMAL_AIR_WAYBILL"
	A4PDF             DocumentType = "A4_PDF"
)

// Valid reports whether t is a supported document type.
func (t DocumentType) Valid() bool {
	switch t {
	case ThermalAirWaybill, NormalAirWaybill, A4PDF:
		return true
	}
	return false
}

// DocumentItem identifies one booking in a document request.
type DocumentItem struct {
	BookingSN            string `json:"booking_sn"`
	PackageNumber        string `json:"package_number,omitempty"`
	TrackingNumber       string `json:"tracking_number,omitempty"`
	ShippingDocumentType string `json:"shipping_document_type,omitempty"`
}

// DocumentResult is the per-booking result of document creation.
type DocumentResult struct {
	BookingSN     string `json:"booking_sn"`
	PackageNumber string `json:"package_number,omitempty"`
	FailError     string `json:"fail_error,omitempty"`
	FailMessage   string `json:"fail_message,omitempty"`
}

// Failed reports whether the platform rejected this booking.
func (r DocumentResult) Failed() bool {
	return r.FailError != ""
}

// ItemsFor builds document items from bookings, carrying tracking numbers.
func ItemsFor(bookings []model.Booking) []DocumentItem {
	items := make([]DocumentItem, len(bookings))
	for i, b := range bookings {
		items[i] = DocumentItem{BookingSN: b.BookingSN, TrackingNumber: b.TrackingNumber}
	}
	return items
}
