// Package dispatch partitions bookings by shop and drives per-shop batched
// marketplace calls with failure isolation between shops.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"booking-proxy/internal/metrics"
	"booking-proxy/internal/model"
)

// MaxBatchSize is the platform limit on bookings per document call.
const MaxBatchSize = 50

// NotReported is the failure code of a booking the platform left out of an
// explicit per-item result.
const NotReported = "not_reported"

// ItemFailure is one booking the platform rejected inside a batch.
type ItemFailure struct {
	BookingSN string `json:"booking_sn"`
	Code      string `json:"fail_error,omitempty"`
	Message   string `json:"fail_message,omitempty"`

	// Shared is set when the error was raised for a whole batch of several
	// bookings rather than for this booking alone.
	Shared bool `json:"shared,omitempty"`
}

// Outcome is what a ShopOperation reports for one batch. With Succeeded nil,
// every booking not listed in Failed succeeded. With Succeeded non-nil, only
// the listed bookings succeeded and the rest of the batch fails as
// NotReported.
type Outcome struct {
	Succeeded []string
	Failed    []ItemFailure
}

// ShopOperation performs one external call for a single shop's batch.
// A returned error fails the whole batch.
type ShopOperation func(ctx context.Context, shopID int64, batch []model.Booking) (Outcome, error)

// ShopReport summarises one shop's results across its sub-batches.
type ShopReport struct {
	ShopID       int64         `json:"shop_id"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Batches      int           `json:"batches"`
	SucceededSNs []string      `json:"succeeded_booking_sns,omitempty"`
	Failures     []ItemFailure `json:"failures,omitempty"`
	Err          error         `json:"-"`
}

// ShopGroup is the bookings of one shop in their original order.
type ShopGroup struct {
	ShopID   int64
	Bookings []model.Booking
}

// Partition groups bookings by shop. Shops appear in first-seen order and
// bookings keep their relative order within a shop.
func Partition(bookings []model.Booking) []ShopGroup {
	index := make(map[int64]int)
	var groups []ShopGroup
	for _, b := range bookings {
		i, ok := index[b.ShopID]
		if !ok {
			i = len(groups)
			index[b.ShopID] = i
			groups = append(groups, ShopGroup{ShopID: b.ShopID})
		}
		groups[i].Bookings = append(groups[i].Bookings, b)
	}
	return groups
}

// Split cuts bookings into consecutive chunks of at most size.
func Split(bookings []model.Booking, size int) [][]model.Booking {
	if size <= 0 {
		size = MaxBatchSize
	}
	var chunks [][]model.Booking
	for start := 0; start < len(bookings); start += size {
		end := start + size
		if end > len(bookings) {
			end = len(bookings)
		}
		chunks = append(chunks, bookings[start:end])
	}
	return chunks
}

// Dispatcher runs a ShopOperation across shops and sub-batches.
type Dispatcher struct {
	name    string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a dispatcher. name labels logs and metrics ("create_document", "download").
func New(name string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{name: name, logger: logger, metrics: m}
}

// Dispatch calls op once per sub-batch of at most MaxBatchSize bookings per
// shop. Calls are sequential. A failing batch or shop never prevents later
// ones from running; cancellation of ctx stops further calls and counts the
// remaining bookings as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, bookings []model.Booking, op ShopOperation) []ShopReport {
	groups := Partition(bookings)
	reports := make([]ShopReport, 0, len(groups))

	for _, g := range groups {
		report := ShopReport{ShopID: g.ShopID, Total: len(g.Bookings)}

		for _, batch := range Split(g.Bookings, MaxBatchSize) {
			if err := ctx.Err(); err != nil {
				report.fail(batch, err)
				continue
			}

			report.Batches++
			outcome, err := op(ctx, g.ShopID, batch)
			d.metrics.RecordDispatchBatch(d.name, err == nil)
			if err != nil {
				d.logger.WarnContext(ctx, "batch failed",
					slog.String("operation", d.name),
					slog.Int64("shop_id", g.ShopID),
					slog.Int("bookings", len(batch)),
					slog.String("error", err.Error()),
				)
				report.fail(batch, err)
				continue
			}
			report.apply(batch, outcome)
		}

		reports = append(reports, report)
	}

	return reports
}

// fail marks every booking in batch as failed with err.
func (r *ShopReport) fail(batch []model.Booking, err error) {
	code, msg := "", err.Error()
	var platErr *model.PlatformError
	var apiErr *model.APIError
	switch {
	case errors.As(err, &platErr):
		code, msg = platErr.Code, platErr.Message
	case errors.As(err, &apiErr):
		code, msg = apiErr.Code, apiErr.Message
	}
	shared := len(batch) > 1
	for _, b := range batch {
		r.Failures = append(r.Failures, ItemFailure{BookingSN: b.BookingSN, Code: code, Message: msg, Shared: shared})
	}
	r.Failed += len(batch)
	r.Err = err
}

// apply records per-item results from a successful call.
func (r *ShopReport) apply(batch []model.Booking, outcome Outcome) {
	failed := make(map[string]ItemFailure, len(outcome.Failed))
	for _, f := range outcome.Failed {
		failed[f.BookingSN] = f
	}
	var succeeded map[string]bool
	if outcome.Succeeded != nil {
		succeeded = make(map[string]bool, len(outcome.Succeeded))
		for _, sn := range outcome.Succeeded {
			succeeded[sn] = true
		}
	}
	for _, b := range batch {
		f, ok := failed[b.BookingSN]
		if !ok && succeeded != nil && !succeeded[b.BookingSN] {
			f, ok = ItemFailure{BookingSN: b.BookingSN, Code: NotReported, Message: "missing from the platform result"}, true
		}
		if ok {
			r.Failures = append(r.Failures, f)
			r.Failed++
			continue
		}
		r.Succeeded++
		r.SucceededSNs = append(r.SucceededSNs, b.BookingSN)
	}
}

// Totals sums reports across shops.
func Totals(reports []ShopReport) (total, succeeded, failed int) {
	for _, r := range reports {
		total += r.Total
		succeeded += r.Succeeded
		failed += r.Failed
	}
	return total, succeeded, failed
}
