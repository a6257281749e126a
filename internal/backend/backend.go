// Package backend defines the durable booking store the engine reads from
// and reports lifecycle changes to.
package backend

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"booking-proxy/internal/model"
)

// Backend persists bookings. Every write is monotonic: a tracking number is
// never cleared, READY never regresses and a printed booking stays printed.
type Backend interface {
	// ListBookings returns bookings matching the filter in store order.
	ListBookings(ctx context.Context, f Filter) ([]model.Booking, error)

	// UpdateTracking records the tracking number for one booking.
	UpdateTracking(ctx context.Context, shopID int64, bookingSN, trackingNumber string) error

	// MarkDocumentReady sets document_status READY for the given bookings.
	MarkDocumentReady(ctx context.Context, shopID int64, bookingSNs []string) error

	// MarkPrinted sets is_printed for bookings whose document is READY.
	MarkPrinted(ctx context.Context, shopID int64, bookingSNs []string) error
}

// Filter narrows a booking listing. Zero fields do not filter.
type Filter struct {
	ShopID         int64
	BookingStatus  model.BookingStatus
	DocumentStatus model.DocumentStatus
	IsPrinted      *bool
	ReadyToPrint   bool
	From           time.Time
	To             time.Time
	Search         string
	Limit          int
}

// Query encodes the filter as URL query parameters.
func (f Filter) Query() url.Values {
	q := url.Values{}
	if f.ShopID != 0 {
		q.Set("shop_id", strconv.FormatInt(f.ShopID, 10))
	}
	if f.BookingStatus != "" {
		q.Set("booking_status", string(f.BookingStatus))
	}
	if f.DocumentStatus != "" {
		q.Set("document_status", string(f.DocumentStatus))
	}
	if f.IsPrinted != nil {
		q.Set("is_printed", strconv.FormatBool(*f.IsPrinted))
	}
	if f.ReadyToPrint {
		q.Set("ready_to_print", "true")
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// ParseFilter decodes query parameters produced by Filter.Query.
// "ALL" as booking_status means no status filter.
func ParseFilter(q url.Values) (Filter, error) {
	var f Filter

	if v := q.Get("shop_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, model.NewValidationError("shop_id", "must be an integer")
		}
		f.ShopID = id
	}

	if v := strings.ToUpper(q.Get("booking_status")); v != "" && v != "ALL" {
		status := model.BookingStatus(v)
		if !status.Valid() {
			return f, model.NewValidationError("booking_status", "unknown status "+v)
		}
		f.BookingStatus = status
	}

	if v := strings.ToUpper(q.Get("document_status")); v != "" {
		f.DocumentStatus = model.DocumentStatus(v)
	}

	if v := q.Get("is_printed"); v != "" {
		printed, err := strconv.ParseBool(v)
		if err != nil {
			return f, model.NewValidationError("is_printed", "must be true or false")
		}
		f.IsPrinted = &printed
	}

	if v := q.Get("ready_to_print"); v != "" {
		f.ReadyToPrint, _ = strconv.ParseBool(v)
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, model.NewValidationError("from", "must be RFC 3339 or unix seconds")
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, model.NewValidationError("to", "must be RFC 3339 or unix seconds")
	}

	f.Search = strings.TrimSpace(q.Get("search"))

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.NewValidationError("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}

	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

// Match reports whether b satisfies the filter. Used by in-memory backends.
func (f Filter) Match(b *model.Booking) bool {
	if f.ShopID != 0 && b.ShopID != f.ShopID {
		return false
	}
	if f.BookingStatus != "" && b.BookingStatus != f.BookingStatus {
		return false
	}
	if f.DocumentStatus != "" && b.DocumentStatus != f.DocumentStatus {
		return false
	}
	if f.IsPrinted != nil && b.IsPrinted != *f.IsPrinted {
		return false
	}
	if f.ReadyToPrint && !b.Printable() {
		return false
	}
	if !f.From.IsZero() && b.CreateTime < f.From.Unix() {
		return false
	}
	if !f.To.IsZero() && b.CreateTime > f.To.Unix() {
		return false
	}
	if f.Search != "" {
		s := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(b.BookingSN), s) &&
			!strings.Contains(strings.ToLower(b.OrderSN), s) &&
			!strings.Contains(strings.ToLower(b.TrackingNumber), s) &&
			!strings.Contains(strings.ToLower(b.BuyerUsername), s) {
			return false
		}
	}
	return true
}
