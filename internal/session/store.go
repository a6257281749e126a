// Package session holds the in-memory booking list of one operator session
// and the coordination primitives shared by the scanner and the printer.
package session

import (
	"strings"
	"sync"

	"booking-proxy/internal/model"
)

// Patch is a provisional local update. Zero fields leave the booking unchanged.
type Patch struct {
	TrackingNumber string
	DocumentStatus model.DocumentStatus
	Printed        bool
}

// Apply merges p into b following the lifecycle rules: an existing tracking
// number is kept, READY is never downgraded and printing requires READY.
// It reports whether b changed.
func (p Patch) Apply(b *model.Booking) bool {
	changed := false

	if tn := strings.TrimSpace(p.TrackingNumber); tn != "" && !b.HasTracking() {
		b.TrackingNumber = tn
		changed = true
	}

	if p.DocumentStatus != "" && b.DocumentStatus != model.DocumentReady && b.DocumentStatus != p.DocumentStatus {
		b.DocumentStatus = p.DocumentStatus
		changed = true
	}

	if p.Printed && !b.IsPrinted && b.DocumentStatus == model.DocumentReady {
		b.IsPrinted = true
		changed = true
	}

	return changed
}

// Store is the authoritative in-memory booking list keyed by booking_sn.
// Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*model.Booking
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*model.Booking)}
}

// Replace swaps in a freshly loaded list, discarding all local patches.
// Later duplicates of a serial overwrite earlier ones in place.
func (s *Store) Replace(bookings []model.Booking) {
	order := make([]string, 0, len(bookings))
	byID := make(map[string]*model.Booking, len(bookings))
	for i := range bookings {
		b := bookings[i]
		if _, seen := byID[b.BookingSN]; !seen {
			order = append(order, b.BookingSN)
		}
		byID[b.BookingSN] = &b
	}

	s.mu.Lock()
	s.order = order
	s.byID = byID
	s.mu.Unlock()
}

// Patch applies p to the booking with the given serial.
// It reports whether the booking exists and changed.
func (s *Store) Patch(bookingSN string, p Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[bookingSN]
	if !ok {
		return false
	}
	return p.Apply(b)
}

// Get returns a copy of one booking.
func (s *Store) Get(bookingSN string) (model.Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[bookingSN]
	if !ok {
		return model.Booking{}, false
	}
	return *b, true
}

// Snapshot returns a copy of every booking in load order.
func (s *Store) Snapshot() []model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Booking, 0, len(s.order))
	for _, sn := range s.order {
		out = append(out, *s.byID[sn])
	}
	return out
}

// Len returns the number of bookings held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
