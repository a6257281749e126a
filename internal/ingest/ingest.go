// Package ingest copies bookings from the marketplace into the durable store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
)

// DefaultWindow is the look-back used when a sync names no start time.
const DefaultWindow = 7 * 24 * time.Hour

// Source lists and details bookings for one shop.
type Source interface {
	BookingListPage(ctx context.Context, shopID int64, opts gateway.ListOptions) (*gateway.BookingListPage, error)
	BookingDetails(ctx context.Context, shopID int64, bookingSNs []string) ([]model.Booking, error)
}

// Sink upserts bookings without regressing local progress.
type Sink interface {
	SaveBookings(ctx context.Context, bookings []model.Booking) error
}

// Options narrows a shop sync. Zero values take the defaults: create_time,
// the last seven days, every status, 50 per page.
type Options struct {
	TimeRangeField string              `json:"time_range_field,omitempty"`
	From           time.Time           `json:"start_time,omitempty"`
	To             time.Time           `json:"end_time,omitempty"`
	BookingStatus  model.BookingStatus `json:"booking_status,omitempty"`
	PageSize       int                 `json:"page_size,omitempty"`
}

// Result reports one sync.
type Result struct {
	ShopID     int64    `json:"shop_id"`
	Pages      int      `json:"pages"`
	Total      int      `json:"total"`
	Processed  int      `json:"processed"`
	BookingSNs []string `json:"booking_sn_list,omitempty"`
}

// Syncer pulls bookings from a Source into a Sink.
type Syncer struct {
	src    Source
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Syncer.
func New(src Source, sink Sink, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{src: src, sink: sink, logger: logger, now: time.Now}
}

// WithClock replaces the time source used for the default window.
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// SyncShop walks get_booking_list by cursor and saves every listed booking's
// details. It stops at the first page or save failure; bookings saved before
// the failure stay saved and are reported.
func (s *Syncer) SyncShop(ctx context.Context, shopID int64, opts Options) (*Result, error) {
	list, err := s.listOptions(opts)
	if err != nil {
		return nil, err
	}

	result := &Result{ShopID: shopID}
	start := time.Now()

	for {
		page, err := s.src.BookingListPage(ctx, shopID, list)
		if err != nil {
			return result, fmt.Errorf("listing bookings page %d: %w", result.Pages+1, err)
		}
		result.Pages++
		result.Total += len(page.BookingList)

		sns := make([]string, 0, len(page.BookingList))
		for _, ref := range page.BookingList {
			sns = append(sns, ref.BookingSN)
		}
		if err := s.save(ctx, shopID, sns, result); err != nil {
			return result, err
		}

		if !page.More || page.NextCursor == "" {
			break
		}
		list.Cursor = page.NextCursor
	}

	s.logger.InfoContext(ctx, "shop synced",
		slog.Int64("shop_id", shopID),
		slog.Int("pages", result.Pages),
		slog.Int("total", result.Total),
		slog.Int("processed", result.Processed),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// SyncSerials refreshes explicit bookings, e.g. after a status push.
func (s *Syncer) SyncSerials(ctx context.Context, shopID int64, bookingSNs []string) (*Result, error) {
	var sns []string
	for _, sn := range bookingSNs {
		if sn = strings.TrimSpace(sn); sn != "" {
			sns = append(sns, sn)
		}
	}
	if len(sns) == 0 {
		return nil, model.NewValidationError("booking_sn_list", "cannot be empty")
	}

	result := &Result{ShopID: shopID, Total: len(sns)}
	if err := s.save(ctx, shopID, sns, result); err != nil {
		return result, err
	}
	return result, nil
}

// save fetches details for sns and upserts them.
func (s *Syncer) save(ctx context.Context, shopID int64, sns []string, result *Result) error {
	if len(sns) == 0 {
		return nil
	}
	bookings, err := s.src.BookingDetails(ctx, shopID, sns)
	if err != nil {
		return err
	}

	valid := bookings[:0]
	for _, b := range bookings {
		if strings.TrimSpace(b.BookingSN) == "" {
			s.logger.WarnContext(ctx, "skipping booking without serial", slog.Int64("shop_id", shopID))
			continue
		}
		b.ShopID = shopID
		valid = append(valid, b)
	}
	if len(valid) == 0 {
		return nil
	}

	if err := s.sink.SaveBookings(ctx, valid); err != nil {
		return fmt.Errorf("saving bookings: %w", err)
	}
	result.Processed += len(valid)
	result.BookingSNs = append(result.BookingSNs, model.SerialNumbers(valid)...)
	return nil
}

func (s *Syncer) listOptions(opts Options) (gateway.ListOptions, error) {
	to := opts.To
	if to.IsZero() {
		to = s.now()
	}
	from := opts.From
	if from.IsZero() {
		from = to.Add(-DefaultWindow)
	}
	if !from.Before(to) {
		return gateway.ListOptions{}, model.NewValidationError("start_time", "must be before end_time")
	}

	field := opts.TimeRangeField
	if field == "" {
		field = "create_time"
	}
	if field != "create_time" && field != "update_time" {
		return gateway.ListOptions{}, model.NewValidationError("time_range_field", "must be create_time or update_time")
	}

	status := string(opts.BookingStatus)
	if status != "" && status != "ALL" && !opts.BookingStatus.Valid() {
		return gateway.ListOptions{}, model.NewValidationError("booking_status", "unknown status "+status)
	}

	return gateway.ListOptions{
		TimeRangeField: field,
		TimeFrom:       from.Unix(),
		TimeTo:         to.Unix(),
		PageSize:       opts.PageSize,
		BookingStatus:  status,
	}, nil
}
