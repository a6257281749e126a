// Package printing downloads shipping documents for READY bookings and marks
// them printed, at most once per booking.
package printing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"booking-proxy/internal/archive"
	"booking-proxy/internal/backend"
	"booking-proxy/internal/dispatch"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/metrics"
	"booking-proxy/internal/model"
	"booking-proxy/internal/session"
)

// Downloader fetches the document PDF for one shop batch.
type Downloader interface {
	DownloadDocuments(ctx context.Context, shopID int64, items []gateway.DocumentItem) ([]byte, error)
}

// Selection is the outcome of SelectPrintable.
type Selection struct {
	Bookings  []model.Booking
	Requested int
	Skipped   int
	Warning   string
}

// SelectPrintable picks READY, unprinted bookings. With an explicit selection
// only those serials are considered; serials that are unknown or not
// printable are counted as skipped. Without one every printable booking is
// selected.
func SelectPrintable(bookings []model.Booking, explicit []string) Selection {
	if len(explicit) == 0 {
		var sel Selection
		for i := range bookings {
			if bookings[i].Printable() {
				sel.Bookings = append(sel.Bookings, bookings[i])
			}
		}
		sel.Requested = len(sel.Bookings)
		return sel
	}

	wanted := make(map[string]bool, len(explicit))
	for _, sn := range explicit {
		if sn = strings.TrimSpace(sn); sn != "" {
			wanted[sn] = true
		}
	}

	sel := Selection{Requested: len(wanted)}
	for i := range bookings {
		b := &bookings[i]
		if wanted[b.BookingSN] && b.Printable() {
			sel.Bookings = append(sel.Bookings, *b)
		}
	}
	sel.Skipped = sel.Requested - len(sel.Bookings)
	if sel.Skipped > 0 {
		sel.Warning = fmt.Sprintf("%d of %d selected bookings are not ready to print and were skipped", sel.Skipped, sel.Requested)
	}
	return sel
}

// Request asks for a print run. ExpectedTotal defaults to the number of
// explicitly selected serials.
type Request struct {
	BookingSNs    []string `json:"booking_sn_list,omitempty"`
	ExpectedTotal int      `json:"expected_total,omitempty"`
}

// Document is one downloaded sub-batch.
type Document struct {
	ShopID     int64    `json:"shop_id"`
	Name       string   `json:"name"`
	Location   string   `json:"location,omitempty"`
	BookingSNs []string `json:"booking_sn_list"`
	Size       int      `json:"size"`
	Data       []byte   `json:"-"`
}

// Report summarises a print run.
type Report struct {
	Requested     int                   `json:"requested"`
	Eligible      int                   `json:"eligible"`
	Skipped       int                   `json:"skipped"`
	Warning       string                `json:"warning,omitempty"`
	Printed       int                   `json:"printed"`
	Failed        int                   `json:"failed"`
	ExpectedTotal int                   `json:"expected_total,omitempty"`
	ActualTotal   int                   `json:"actual_total"`
	Mismatch      bool                  `json:"mismatch"`
	Shops         []dispatch.ShopReport `json:"shops,omitempty"`
	Documents     []Document            `json:"documents,omitempty"`
}

// Coordinator runs print jobs against a session.
type Coordinator struct {
	docs       Downloader
	backend    backend.Backend
	archive    archive.Archive
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a Coordinator. arc may be nil.
func New(docs Downloader, be backend.Backend, arc archive.Archive, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		docs:       docs,
		backend:    be,
		archive:    arc,
		dispatcher: dispatch.New("download", logger, m),
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// WithClock replaces the time source used in document names.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Print downloads documents for the selected bookings shop by shop. A shop
// batch is marked printed in the backend, then locally, only after its
// download succeeded; a failing shop never blocks the others. The session's
// exclusive lock is held for the whole run.
func (c *Coordinator) Print(ctx context.Context, sess *session.Session, req Request) (*Report, error) {
	release, err := sess.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	sel := SelectPrintable(sess.Store().Snapshot(), req.BookingSNs)
	report := &Report{
		Requested:     sel.Requested,
		Eligible:      len(sel.Bookings),
		Skipped:       sel.Skipped,
		Warning:       sel.Warning,
		ExpectedTotal: req.ExpectedTotal,
		ActualTotal:   len(sel.Bookings),
	}
	if report.ExpectedTotal == 0 && len(req.BookingSNs) > 0 {
		report.ExpectedTotal = sel.Requested
	}

	if sel.Warning != "" {
		c.logger.WarnContext(ctx, "print selection filtered",
			slog.Int("requested", sel.Requested),
			slog.Int("skipped", sel.Skipped),
		)
	}

	if len(sel.Bookings) > 0 {
		day := c.now()
		batchNo := make(map[int64]int)

		report.Shops = c.dispatcher.Dispatch(ctx, sel.Bookings, func(ctx context.Context, shopID int64, batch []model.Booking) (dispatch.Outcome, error) {
			batchNo[shopID]++
			doc, err := c.printBatch(ctx, shopID, batch, archive.DocumentName(shopID, day, batchNo[shopID]))
			if err != nil {
				return dispatch.Outcome{}, err
			}
			report.Documents = append(report.Documents, *doc)
			return dispatch.Outcome{}, nil
		})
	}

	for _, shop := range report.Shops {
		for _, sn := range shop.SucceededSNs {
			sess.Store().Patch(sn, session.Patch{Printed: true})
		}
		report.Printed += shop.Succeeded
		report.Failed += shop.Failed
	}
	c.metrics.RecordPrinted(report.Printed)

	if report.ExpectedTotal > 0 && report.ExpectedTotal != report.ActualTotal {
		report.Mismatch = true
		c.metrics.RecordPrintMismatch()
		c.logger.WarnContext(ctx, "print count mismatch",
			slog.Int("expected", report.ExpectedTotal),
			slog.Int("actual", report.ActualTotal),
		)
	}

	c.logger.InfoContext(ctx, "print complete",
		slog.String("session_id", sess.ID),
		slog.Int("printed", report.Printed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

// printBatch downloads one shop batch, archives it and records the serials
// as printed. Archive failures are logged only.
func (c *Coordinator) printBatch(ctx context.Context, shopID int64, batch []model.Booking, name string) (*Document, error) {
	sns := model.SerialNumbers(batch)

	data, err := c.docs.DownloadDocuments(ctx, shopID, gateway.ItemsFor(batch))
	if err != nil {
		return nil, err
	}

	doc := &Document{ShopID: shopID, Name: name, BookingSNs: sns, Size: len(data), Data: data}
	if c.archive != nil {
		loc, err := c.archive.Put(ctx, name, data)
		if err != nil {
			c.logger.WarnContext(ctx, "archiving document failed",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
		doc.Location = loc
	}

	if err := c.backend.MarkPrinted(ctx, shopID, sns); err != nil {
		return nil, fmt.Errorf("marking printed: %w", err)
	}
	return doc, nil
}
