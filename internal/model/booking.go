// Package model defines the booking data model shared by the store, the
// marketplace gateway and the reconciliation engine.
package model

import "strings"

// BookingStatus is the marketplace lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending     BookingStatus = "PENDING"
	BookingConfirmed   BookingStatus = "CONFIRMED"
	BookingReadyToShip BookingStatus = "READY_TO_SHIP"
	BookingShipped     BookingStatus = "SHIPPED"
	BookingProcessed   BookingStatus = "PROCESSED"
	BookingCompleted   BookingStatus = "COMPLETED"
	BookingCancelled   BookingStatus = "CANCELLED"
)

// AllBookingStatuses lists every lifecycle state in display order.
var AllBookingStatuses = []BookingStatus{
	BookingPending,
	BookingConfirmed,
	BookingReadyToShip,
	BookingShipped,
	BookingProcessed,
	BookingCompleted,
	BookingCancelled,
}

// Valid reports whether s is a known lifecycle state.
func (s BookingStatus) Valid() bool {
	for _, v := range AllBookingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// DocumentStatus tracks shipping-document generation for a booking.
// The zero value means generation was never requested.
type DocumentStatus string

const (
	DocumentNone    DocumentStatus = ""
	DocumentPending DocumentStatus = "PENDING"
	DocumentReady   DocumentStatus = "READY"
	DocumentError   DocumentStatus = "ERROR"
)

// Booking is one marketplace booking as persisted by the backend store.
//
// Lifecycle fields (TrackingNumber, DocumentStatus, IsPrinted) only move
// forward: a tracking number is never cleared, READY never regresses and
// IsPrinted never returns to false. IsPrinted implies DocumentStatus READY.
type Booking struct {
	BookingSN      string         `json:"booking_sn"`
	ShopID         int64          `json:"shop_id"`
	BookingStatus  BookingStatus  `json:"booking_status"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	DocumentStatus DocumentStatus `json:"document_status,omitempty"`
	IsPrinted      bool           `json:"is_printed"`
	MatchStatus    string         `json:"match_status,omitempty"`

	// Display payload, carried through unchanged.
	ShopName         string            `json:"shop_name,omitempty"`
	OrderSN          string            `json:"order_sn,omitempty"`
	ShippingCarrier  string            `json:"shipping_carrier,omitempty"`
	CreateTime       int64             `json:"create_time,omitempty"`
	UpdateTime       int64             `json:"update_time,omitempty"`
	RecipientAddress *RecipientAddress `json:"recipient_address,omitempty"`
	ItemList         []BookingItem     `json:"item_list,omitempty"`
	Dropshipper      string            `json:"dropshipper,omitempty"`
	DropshipperPhone string            `json:"dropshipper_phone,omitempty"`
	CancelBy         string            `json:"cancel_by,omitempty"`
	CancelReason     string            `json:"cancel_reason,omitempty"`
	FulfillmentFlag  string            `json:"fulfillment_flag,omitempty"`
	PickupDoneTime   int64             `json:"pickup_done_time,omitempty"`
	BuyerUsername    string            `json:"buyer_username,omitempty"`
	TotalAmount      float64           `json:"total_amount,omitempty"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
}

// RecipientAddress is the delivery address shown on the shipping label.
type RecipientAddress struct {
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Town        string `json:"town,omitempty"`
	District    string `json:"district,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Region      string `json:"region,omitempty"`
	Zipcode     string `json:"zipcode,omitempty"`
	FullAddress string `json:"full_address,omitempty"`
}

// BookingItem is one line of a booking.
type BookingItem struct {
	ItemName          string  `json:"item_name,omitempty"`
	ItemSKU           string  `json:"item_sku,omitempty"`
	ModelName         string  `json:"model_name,omitempty"`
	ModelSKU          string  `json:"model_sku,omitempty"`
	Weight            float64 `json:"weight,omitempty"`
	ProductLocationID string  `json:"product_location_id,omitempty"`
	ImageURL          string  `json:"image_url,omitempty"`
}

// HasTracking reports whether a non-blank tracking number is recorded.
func (b *Booking) HasTracking() bool {
	return strings.TrimSpace(b.TrackingNumber) != ""
}

// NeedsTracking reports whether the booking is PROCESSED but still has no
// tracking number.
func (b *Booking) NeedsTracking() bool {
	return b.BookingStatus == BookingProcessed && !b.HasTracking()
}

// NeedsDocument reports whether a shipping document should be requested:
// PROCESSED, tracked, not yet READY and not printed.
func (b *Booking) NeedsDocument() bool {
	return b.BookingStatus == BookingProcessed &&
		b.HasTracking() &&
		b.DocumentStatus != DocumentReady &&
		!b.IsPrinted
}

// Printable reports whether the document is READY and not yet printed.
func (b *Booking) Printable() bool {
	return b.DocumentStatus == DocumentReady && !b.IsPrinted
}

// BookingSummary counts bookings per lifecycle state plus print progress.
type BookingSummary struct {
	Total      int                   `json:"total"`
	ByStatus   map[BookingStatus]int `json:"by_status"`
	Tracked    int                   `json:"tracked"`
	Ready      int                   `json:"document_ready"`
	Printed    int                   `json:"printed"`
	ToPrint    int                   `json:"ready_to_print"`
	NeedsTrack int                   `json:"needs_tracking"`
}

// Summarize counts bookings for list responses.
func Summarize(bookings []Booking) BookingSummary {
	s := BookingSummary{ByStatus: make(map[BookingStatus]int)}
	for i := range bookings {
		b := &bookings[i]
		s.Total++
		s.ByStatus[b.BookingStatus]++
		if b.HasTracking() {
			s.Tracked++
		}
		if b.DocumentStatus == DocumentReady {
			s.Ready++
		}
		if b.IsPrinted {
			s.Printed++
		}
		if b.Printable() {
			s.ToPrint++
		}
		if b.NeedsTracking() {
			s.NeedsTrack++
		}
	}
	return s
}

// SerialNumbers returns the booking serials in order.
func SerialNumbers(bookings []Booking) []string {
	sns := make([]string, len(bookings))
	for i := range bookings {
		sns[i] = bookings[i].BookingSN
	}
	return sns
}
