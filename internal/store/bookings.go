package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/model"
)

const bookingColumns = `booking_sn, shop_id, booking_status, tracking_number, document_status, is_printed, match_status, payload`

// upsertBooking never clears a tracking number, never moves READY back and
// never un-prints.
const upsertBooking = `INSERT INTO bookings (booking_sn, shop_id, booking_status, tracking_number, document_status, is_printed, match_status, order_sn, buyer_username, create_time, update_time, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (booking_sn) DO UPDATE SET
	shop_id = excluded.shop_id,
	booking_status = excluded.booking_status,
	tracking_number = CASE WHEN bookings.tracking_number <> '' THEN bookings.tracking_number ELSE excluded.tracking_number END,
	document_status = CASE
		WHEN bookings.document_status = 'READY' THEN bookings.document_status
		WHEN excluded.document_status = '' THEN bookings.document_status
		ELSE excluded.document_status END,
	is_printed = CASE WHEN bookings.is_printed = 1 THEN 1 ELSE excluded.is_printed END,
	match_status = excluded.match_status,
	order_sn = excluded.order_sn,
	buyer_username = excluded.buyer_username,
	create_time = excluded.create_time,
	update_time = excluded.update_time,
	payload = excluded.payload,
	updated_at = excluded.updated_at`

// SaveBookings upserts bookings in one transaction.
func (db *DB) SaveBookings(ctx context.Context, bookings []model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.Q(upsertBooking))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i := range bookings {
		b := bookings[i]
		if strings.TrimSpace(b.BookingSN) == "" {
			return model.NewValidationError("booking_sn", "cannot be empty")
		}
		// A printed flag without a READY document is not accepted.
		if b.IsPrinted && b.DocumentStatus != model.DocumentReady {
			b.IsPrinted = false
		}
		b.TrackingNumber = strings.TrimSpace(b.TrackingNumber)

		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encoding booking %s: %w", b.BookingSN, err)
		}

		if _, err := stmt.ExecContext(ctx,
			b.BookingSN, b.ShopID, string(b.BookingStatus), b.TrackingNumber,
			string(b.DocumentStatus), boolInt(b.IsPrinted), b.MatchStatus,
			b.OrderSN, b.BuyerUsername, b.CreateTime, b.UpdateTime,
			string(payload), now,
		); err != nil {
			return fmt.Errorf("saving booking %s: %w", b.BookingSN, err)
		}
	}

	return tx.Commit()
}

// ListBookings implements backend.Backend. Newest bookings come first.
func (db *DB) ListBookings(ctx context.Context, f backend.Filter) ([]model.Booking, error) {
	var where []string
	var args []any

	if f.ShopID != 0 {
		where = append(where, "shop_id = ?")
		args = append(args, f.ShopID)
	}
	if f.BookingStatus != "" {
		where = append(where, "booking_status = ?")
		args = append(args, string(f.BookingStatus))
	}
	if f.DocumentStatus != "" {
		where = append(where, "document_status = ?")
		args = append(args, string(f.DocumentStatus))
	}
	if f.IsPrinted != nil {
		where = append(where, "is_printed = ?")
		args = append(args, boolInt(*f.IsPrinted))
	}
	if f.ReadyToPrint {
		where = append(where, "document_status = 'READY' AND is_printed = 0")
	}
	if !f.From.IsZero() {
		where = append(where, "create_time >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		where = append(where, "create_time <= ?")
		args = append(args, f.To.Unix())
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(LOWER(booking_sn) LIKE ? OR LOWER(order_sn) LIKE ? OR LOWER(tracking_number) LIKE ? OR LOWER(buyer_username) LIKE ?)")
		args = append(args, like, like, like, like)
	}

	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY create_time DESC, booking_sn"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, db.Q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing bookings: %w", err)
	}
	defer rows.Close()

	bookings := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetBooking returns one booking by serial.
func (db *DB) GetBooking(ctx context.Context, bookingSN string) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, db.Q("SELECT "+bookingColumns+" FROM bookings WHERE booking_sn = ?"), bookingSN)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("booking " + bookingSN)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ReadyToPrint returns READY, unprinted bookings, optionally for one shop.
func (db *DB) ReadyToPrint(ctx context.Context, shopID int64) ([]model.Booking, error) {
	return db.ListBookings(ctx, backend.Filter{ShopID: shopID, ReadyToPrint: true})
}

// Summary counts bookings matching the filter.
func (db *DB) Summary(ctx context.Context, f backend.Filter) (model.BookingSummary, error) {
	f.Limit = 0
	bookings, err := db.ListBookings(ctx, f)
	if err != nil {
		return model.BookingSummary{}, err
	}
	return model.Summarize(bookings), nil
}

// UpdateTracking implements backend.Backend. A recorded tracking number is
// kept; a different one is ignored.
func (db *DB) UpdateTracking(ctx context.Context, shopID int64, bookingSN, trackingNumber string) error {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return model.NewValidationError("tracking_number", "cannot be empty")
	}

	res, err := db.ExecContext(ctx, db.Q(`UPDATE bookings SET tracking_number = ?, updated_at = ?
		WHERE booking_sn = ? AND shop_id = ? AND tracking_number = ''`),
		trackingNumber, time.Now().Unix(), bookingSN, shopID)
	if err != nil {
		return fmt.Errorf("updating tracking for %s: %w", bookingSN, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, db.Q(`SELECT 1 FROM bookings WHERE booking_sn = ? AND shop_id = ?`), bookingSN, shopID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewNotFoundError("booking " + bookingSN)
	}
	return err
}

// MarkDocumentReady implements backend.Backend.
func (db *DB) MarkDocumentReady(ctx context.Context, shopID int64, bookingSNs []string) error {
	if len(bookingSNs) == 0 {
		return nil
	}
	args := []any{time.Now().Unix(), shopID}
	for _, sn := range bookingSNs {
		args = append(args, sn)
	}
	_, err := db.ExecContext(ctx, db.Q(`UPDATE bookings SET document_status = 'READY', updated_at = ?
		WHERE shop_id = ? AND booking_sn IN (`+placeholders(len(bookingSNs))+`)`), args...)
	if err != nil {
		return fmt.Errorf("marking documents ready: %w", err)
	}
	return nil
}

// MarkPrinted implements backend.Backend. Only READY rows change.
func (db *DB) MarkPrinted(ctx context.Context, shopID int64, bookingSNs []string) error {
	_, err := db.markPrinted(ctx, shopID, bookingSNs)
	return err
}

// MarkPrintedCount is MarkPrinted returning how many rows changed.
func (db *DB) MarkPrintedCount(ctx context.Context, shopID int64, bookingSNs []string) (int64, error) {
	return db.markPrinted(ctx, shopID, bookingSNs)
}

func (db *DB) markPrinted(ctx context.Context, shopID int64, bookingSNs []string) (int64, error) {
	if len(bookingSNs) == 0 {
		return 0, nil
	}
	args := []any{time.Now().Unix(), shopID}
	for _, sn := range bookingSNs {
		args = append(args, sn)
	}
	res, err := db.ExecContext(ctx, db.Q(`UPDATE bookings SET is_printed = 1, updated_at = ?
		WHERE shop_id = ? AND document_status = 'READY' AND booking_sn IN (`+placeholders(len(bookingSNs))+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("marking printed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(s scanner) (model.Booking, error) {
	var (
		b       model.Booking
		status  string
		docStat string
		printed int
		payload string
	)
	if err := s.Scan(&b.BookingSN, &b.ShopID, &status, &b.TrackingNumber, &docStat, &printed, &b.MatchStatus, &payload); err != nil {
		return b, err
	}

	var display model.Booking
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &display); err != nil {
			return b, fmt.Errorf("decoding booking %s: %w", b.BookingSN, err)
		}
	}

	// Columns are authoritative for lifecycle fields.
	display.BookingSN = b.BookingSN
	display.ShopID = b.ShopID
	display.BookingStatus = model.BookingStatus(status)
	display.TrackingNumber = b.TrackingNumber
	display.DocumentStatus = model.DocumentStatus(docStat)
	display.IsPrinted = printed == 1
	display.MatchStatus = b.MatchStatus
	return display, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ backend.Backend = (*DB)(nil)
