// Package reconcile is the backstop that repairs booking state the push
// channel missed. A scan computes what each booking still lacks, then issues
// only the marketplace calls needed to close the gap:
//
//	Phase A  PROCESSED bookings without a tracking number → fetch tracking
//	Phase B  tracked, unprinted bookings without a READY document → create
//
// Phase A always finishes before Phase B starts because Phase B's selection
// depends on tracking numbers Phase A may have just recorded.
package reconcile

import (
	"booking-proxy/internal/model"
)

// Plan is the work one scan phase would do against a snapshot.
type Plan struct {
	Selected []model.Booking // bookings to act on, in store order
	Skipped  int             // eligible but suppressed (negative cache, in flight)
}

// IsEmpty reports whether the plan issues no calls.
func (p *Plan) IsEmpty() bool {
	return len(p.Selected) == 0
}

// SkipFunc reports whether an otherwise eligible booking must be left alone.
type SkipFunc func(bookingSN string) bool

// PlanTracking selects PROCESSED bookings with no tracking number that skip
// does not suppress.
func PlanTracking(bookings []model.Booking, skip SkipFunc) *Plan {
	return plan(bookings, (*model.Booking).NeedsTracking, skip)
}

// PlanDocuments selects PROCESSED, tracked, unprinted bookings whose document
// is not READY and that skip does not suppress.
func PlanDocuments(bookings []model.Booking, skip SkipFunc) *Plan {
	return plan(bookings, (*model.Booking).NeedsDocument, skip)
}

func plan(bookings []model.Booking, eligible func(*model.Booking) bool, skip SkipFunc) *Plan {
	p := &Plan{}
	for i := range bookings {
		b := &bookings[i]
		if !eligible(b) {
			continue
		}
		if skip != nil && skip(b.BookingSN) {
			p.Skipped++
			continue
		}
		p.Selected = append(p.Selected, *b)
	}
	return p
}
