package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/config"
	"booking-proxy/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bookings.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB, bookings ...model.Booking) {
	t.Helper()
	if err := db.SaveBookings(context.Background(), bookings); err != nil {
		t.Fatalf("SaveBookings() error = %v", err)
	}
}

func get(t *testing.T, db *DB, sn string) *model.Booking {
	t.Helper()
	b, err := db.GetBooking(context.Background(), sn)
	if err != nil {
		t.Fatalf("GetBooking(%s) error = %v", sn, err)
	}
	return b
}

func TestRebind(t *testing.T) {
	got := Rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Error("Open() should reject unknown drivers")
	}
}

func TestSaveBookings_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, model.Booking{
		BookingSN:     "BK1",
		ShopID:        100,
		BookingStatus: model.BookingProcessed,
		OrderSN:       "ORD1",
		CreateTime:    1700000000,
		RecipientAddress: &model.RecipientAddress{
			Name: "Budi", City: "Jakarta",
		},
		ItemList: []model.BookingItem{{ItemName: "Kopi", ItemSKU: "K-1"}},
	})

	b := get(t, db, "BK1")
	if b.ShopID != 100 || b.BookingStatus != model.BookingProcessed {
		t.Errorf("booking = %+v", b)
	}
	if b.RecipientAddress == nil || b.RecipientAddress.City != "Jakarta" {
		t.Errorf("RecipientAddress = %+v", b.RecipientAddress)
	}
	if len(b.ItemList) != 1 || b.ItemList[0].ItemSKU != "K-1" {
		t.Errorf("ItemList = %+v", b.ItemList)
	}
}

func TestSaveBookings_Monotonic(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, model.Booking{
		BookingSN:      "BK1",
		ShopID:         100,
		BookingStatus:  model.BookingProcessed,
		TrackingNumber: "SPX1",
		DocumentStatus: model.DocumentReady,
		IsPrinted:      true,
	})

	// A later sync from the platform carries none of the local progress.
	seed(t, db, model.Booking{
		BookingSN:     "BK1",
		ShopID:        100,
		BookingStatus: model.BookingShipped,
	})

	b := get(t, db, "BK1")
	if b.TrackingNumber != "SPX1" {
		t.Errorf("TrackingNumber = %q, want SPX1 kept", b.TrackingNumber)
	}
	if b.DocumentStatus != model.DocumentReady {
		t.Errorf("DocumentStatus = %q, want READY kept", b.DocumentStatus)
	}
	if !b.IsPrinted {
		t.Error("IsPrinted reverted to false")
	}
	if b.BookingStatus != model.BookingShipped {
		t.Errorf("BookingStatus = %q, want SHIPPED", b.BookingStatus)
	}
}

func TestSaveBookings_PrintedRequiresReady(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, model.Booking{BookingSN: "BK1", ShopID: 100, IsPrinted: true, DocumentStatus: model.DocumentPending})

	if b := get(t, db, "BK1"); b.IsPrinted {
		t.Error("IsPrinted stored without READY document")
	}
}

func TestSaveBookings_RejectsBlankSerial(t *testing.T) {
	db := openTestDB(t)
	err := db.SaveBookings(context.Background(), []model.Booking{{BookingSN: " ", ShopID: 1}})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want invalid request", err)
	}
}

func TestUpdateTracking(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, model.Booking{BookingSN: "BK1", ShopID: 100, BookingStatus: model.BookingProcessed})
	ctx := context.Background()

	if err := db.UpdateTracking(ctx, 100, "BK1", "SPXID123"); err != nil {
		t.Fatalf("UpdateTracking() error = %v", err)
	}
	if got := get(t, db, "BK1").TrackingNumber; got != "SPXID123" {
		t.Errorf("TrackingNumber = %q", got)
	}

	// Tracking numbers are never overwritten.
	if err := db.UpdateTracking(ctx, 100, "BK1", "OTHER"); err != nil {
		t.Fatalf("second UpdateTracking() error = %v", err)
	}
	if got := get(t, db, "BK1").TrackingNumber; got != "SPXID123" {
		t.Errorf("TrackingNumber = %q, want SPXID123 kept", got)
	}

	if err := db.UpdateTracking(ctx, 100, "MISSING", "X"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing booking error = %v, want not found", err)
	}
	if err := db.UpdateTracking(ctx, 200, "BK1", "X"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("wrong shop error = %v, want not found", err)
	}
	if err := db.UpdateTracking(ctx, 100, "BK1", "  "); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("blank tracking error = %v, want invalid request", err)
	}
}

func TestMarkPrinted_OnlyReady(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		model.Booking{BookingSN: "BK1", ShopID: 100, DocumentStatus: model.DocumentReady},
		model.Booking{BookingSN: "BK2", ShopID: 100, DocumentStatus: model.DocumentPending},
		model.Booking{BookingSN: "BK3", ShopID: 200, DocumentStatus: model.DocumentReady},
	)

	n, err := db.MarkPrintedCount(context.Background(), 100, []string{"BK1", "BK2", "BK3"})
	if err != nil {
		t.Fatalf("MarkPrinted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("rows changed = %d, want 1", n)
	}

	if !get(t, db, "BK1").IsPrinted {
		t.Error("BK1 should be printed")
	}
	if get(t, db, "BK2").IsPrinted {
		t.Error("BK2 printed without READY document")
	}
	if get(t, db, "BK3").IsPrinted {
		t.Error("BK3 belongs to another shop")
	}
}

func TestMarkDocumentReady(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		model.Booking{BookingSN: "BK1", ShopID: 100, TrackingNumber: "T1"},
		model.Booking{BookingSN: "BK2", ShopID: 100, TrackingNumber: "T2", DocumentStatus: model.DocumentError},
	)

	if err := db.MarkDocumentReady(context.Background(), 100, []string{"BK1", "BK2"}); err != nil {
		t.Fatalf("MarkDocumentReady() error = %v", err)
	}
	for _, sn := range []string{"BK1", "BK2"} {
		if got := get(t, db, sn).DocumentStatus; got != model.DocumentReady {
			t.Errorf("%s DocumentStatus = %q, want READY", sn, got)
		}
	}
	if err := db.MarkDocumentReady(context.Background(), 100, nil); err != nil {
		t.Errorf("empty MarkDocumentReady() error = %v", err)
	}
}

func TestListBookings_Filters(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	seed(t, db,
		model.Booking{BookingSN: "BK1", ShopID: 100, BookingStatus: model.BookingProcessed, CreateTime: base, BuyerUsername: "alice"},
		model.Booking{BookingSN: "BK2", ShopID: 100, BookingStatus: model.BookingReadyToShip, CreateTime: base + 10, DocumentStatus: model.DocumentReady},
		model.Booking{BookingSN: "BK3", ShopID: 200, BookingStatus: model.BookingProcessed, CreateTime: base + 20, DocumentStatus: model.DocumentReady, IsPrinted: true},
	)

	printed := true
	tests := []struct {
		name   string
		filter backend.Filter
		want   []string
	}{
		{"all newest first", backend.Filter{}, []string{"BK3", "BK2", "BK1"}},
		{"shop", backend.Filter{ShopID: 100}, []string{"BK2", "BK1"}},
		{"status", backend.Filter{BookingStatus: model.BookingProcessed}, []string{"BK3", "BK1"}},
		{"printed", backend.Filter{IsPrinted: &printed}, []string{"BK3"}},
		{"ready to print", backend.Filter{ReadyToPrint: true}, []string{"BK2"}},
		{"time window", backend.Filter{From: time.Unix(base+5, 0), To: time.Unix(base+15, 0)}, []string{"BK2"}},
		{"search buyer", backend.Filter{Search: "ALI"}, []string{"BK1"}},
		{"limit", backend.Filter{Limit: 1}, []string{"BK3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListBookings(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListBookings() error = %v", err)
			}
			sns := model.SerialNumbers(got)
			if len(sns) != len(tt.want) {
				t.Fatalf("got %v, want %v", sns, tt.want)
			}
			for i := range sns {
				if sns[i] != tt.want[i] {
					t.Errorf("got %v, want %v", sns, tt.want)
					break
				}
			}
		})
	}
}

func TestReadyToPrintAndSummary(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		model.Booking{BookingSN: "BK1", ShopID: 100, BookingStatus: model.BookingProcessed},
		model.Booking{BookingSN: "BK2", ShopID: 100, BookingStatus: model.BookingProcessed, TrackingNumber: "T2", DocumentStatus: model.DocumentReady},
		model.Booking{BookingSN: "BK3", ShopID: 200, BookingStatus: model.BookingProcessed, TrackingNumber: "T3", DocumentStatus: model.DocumentReady},
	)
	ctx := context.Background()

	ready, err := db.ReadyToPrint(ctx, 100)
	if err != nil {
		t.Fatalf("ReadyToPrint() error = %v", err)
	}
	if len(ready) != 1 || ready[0].BookingSN != "BK2" {
		t.Errorf("ReadyToPrint(100) = %v", model.SerialNumbers(ready))
	}

	sum, err := db.Summary(ctx, backend.Filter{})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Total != 3 || sum.ToPrint != 2 || sum.NeedsTrack != 1 || sum.ByStatus[model.BookingProcessed] != 3 {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetBooking(context.Background(), "NOPE"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}
