package printing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"booking-proxy/internal/archive"
	"booking-proxy/internal/backend"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
	"booking-proxy/internal/negcache"
	"booking-proxy/internal/session"
)

func ready(sn string, shop int64) model.Booking {
	return model.Booking{BookingSN: sn, ShopID: shop, BookingStatus: model.BookingProcessed, TrackingNumber: "T-" + sn, DocumentStatus: model.DocumentReady}
}

func TestSelectPrintable(t *testing.T) {
	bookings := []model.Booking{
		ready("A", 100),
		ready("B", 100),
		{BookingSN: "C", ShopID: 100, DocumentStatus: model.DocumentPending},
		{BookingSN: "D", ShopID: 200, DocumentStatus: model.DocumentReady, IsPrinted: true},
		ready("E", 200),
	}

	tests := []struct {
		name        string
		explicit    []string
		want        []string
		wantSkipped int
	}{
		{"default all printable", nil, []string{"A", "B", "E"}, 0},
		{"explicit subset", []string{"E", "A"}, []string{"A", "E"}, 0},
		{"explicit with ineligible", []string{"A", "B", "C", "D", "E"}, []string{"A", "B", "E"}, 2},
		{"unknown serial skipped", []string{"A", "ZZ"}, []string{"A"}, 1},
		{"duplicates counted once", []string{"A", "A", " "}, []string{"A"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectPrintable(bookings, tt.explicit)
			got := model.SerialNumbers(sel.Bookings)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("selected = %v, want %v", got, tt.want)
			}
			if sel.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %d, want %d", sel.Skipped, tt.wantSkipped)
			}
			if (sel.Warning != "") != (tt.wantSkipped > 0) {
				t.Errorf("Warning = %q", sel.Warning)
			}
		})
	}
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls map[int64][][]string
	fail  map[int64]error
}

func (f *fakeDownloader) DownloadDocuments(ctx context.Context, shopID int64, items []gateway.DocumentItem) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sns := make([]string, len(items))
	for i, it := range items {
		sns[i] = it.BookingSN
	}
	if f.calls == nil {
		f.calls = make(map[int64][][]string)
	}
	f.calls[shopID] = append(f.calls[shopID], sns)
	if err := f.fail[shopID]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%%PDF shop %d", shopID)), nil
}

type printFixture struct {
	docs    *fakeDownloader
	marked  map[int64][]string
	sess    *session.Session
	coord   *Coordinator
	archive string
}

func newPrintFixture(t *testing.T, bookings ...model.Booking) *printFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &printFixture{docs: &fakeDownloader{}, marked: make(map[int64][]string)}

	be := &backend.Mock{
		ListBookingsFunc: func(ctx context.Context, flt backend.Filter) ([]model.Booking, error) {
			return bookings, nil
		},
		MarkPrintedFunc: func(ctx context.Context, shopID int64, sns []string) error {
			f.marked[shopID] = append(f.marked[shopID], sns...)
			return nil
		},
	}

	f.sess = session.New("print", be, negcache.NewMemory(), negcache.NewMemory(), logger)
	if _, err := f.sess.Load(context.Background(), backend.Filter{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	f.archive = t.TempDir()
	arc, err := archive.NewDir(f.archive)
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	f.coord = New(f.docs, be, arc, logger, nil).WithClock(func() time.Time { return day })
	return f
}

func (f *printFixture) printed(t *testing.T, sn string) bool {
	t.Helper()
	b, ok := f.sess.Store().Get(sn)
	if !ok {
		t.Fatalf("booking %s missing", sn)
	}
	return b.IsPrinted
}

func TestPrint_BatchesPerShop(t *testing.T) {
	f := newPrintFixture(t, ready("A1", 100), ready("B1", 200), ready("A2", 100))

	r, err := f.coord.Print(context.Background(), f.sess, Request{})
	if err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	if len(f.docs.calls) != 2 {
		t.Fatalf("download calls = %v, want one per shop", f.docs.calls)
	}
	if got := fmt.Sprint(f.docs.calls[100]); got != "[[A1 A2]]" {
		t.Errorf("shop 100 calls = %s", got)
	}
	if got := fmt.Sprint(f.docs.calls[200]); got != "[[B1]]" {
		t.Errorf("shop 200 calls = %s", got)
	}
	if r.Printed != 3 || r.Failed != 0 || r.Mismatch {
		t.Errorf("report = %+v", r)
	}
	for _, sn := range []string{"A1", "A2", "B1"} {
		if !f.printed(t, sn) {
			t.Errorf("%s not printed", sn)
		}
	}

	if len(r.Documents) != 2 || r.Documents[0].Name != "booking-documents-100-2026-03-09.pdf" {
		t.Fatalf("documents = %+v", r.Documents)
	}
	if r.Documents[0].Location != filepath.Join(f.archive, r.Documents[0].Name) {
		t.Errorf("location = %q", r.Documents[0].Location)
	}
}

func TestPrint_ShopIsolation(t *testing.T) {
	f := newPrintFixture(t, ready("A1", 100), ready("A2", 100), ready("B1", 200))
	f.docs.fail = map[int64]error{200: model.NewUpstreamError("Shopee", errors.New("502"))}

	r, err := f.coord.Print(context.Background(), f.sess, Request{})
	if err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	if !f.printed(t, "A1") || !f.printed(t, "A2") {
		t.Error("shop 100 should be printed")
	}
	if f.printed(t, "B1") {
		t.Error("shop 200 printed despite failed download")
	}
	if _, ok := f.marked[200]; ok {
		t.Error("mark_printed sent for failed shop")
	}
	if fmt.Sprint(f.marked[100]) != "[A1 A2]" {
		t.Errorf("marked shop 100 = %v", f.marked[100])
	}
	if r.Printed != 2 || r.Failed != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestPrint_MismatchAndSkipped(t *testing.T) {
	f := newPrintFixture(t,
		ready("A", 100), ready("B", 100), ready("C", 100),
		model.Booking{BookingSN: "D", ShopID: 100, DocumentStatus: model.DocumentPending},
		model.Booking{BookingSN: "E", ShopID: 100, DocumentStatus: model.DocumentReady, IsPrinted: true},
	)

	r, err := f.coord.Print(context.Background(), f.sess, Request{
		BookingSNs:    []string{"A", "B", "C", "D", "E"},
		ExpectedTotal: 5,
	})
	if err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	if r.Skipped != 2 || r.Warning == "" {
		t.Errorf("Skipped = %d Warning = %q", r.Skipped, r.Warning)
	}
	if !r.Mismatch || r.ExpectedTotal != 5 || r.ActualTotal != 3 {
		t.Errorf("mismatch report = %+v", r)
	}
	if r.Printed != 3 {
		t.Errorf("Printed = %d, want 3", r.Printed)
	}
}

func TestPrint_AtMostOnce(t *testing.T) {
	f := newPrintFixture(t, ready("A", 100))

	if _, err := f.coord.Print(context.Background(), f.sess, Request{}); err != nil {
		t.Fatal(err)
	}
	r, err := f.coord.Print(context.Background(), f.sess, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Eligible != 0 || len(f.docs.calls[100]) != 1 {
		t.Errorf("second print eligible = %d, downloads = %v", r.Eligible, f.docs.calls)
	}
}

func TestPrint_MarkPrintedFailureKeepsUnprinted(t *testing.T) {
	f := newPrintFixture(t, ready("A", 100))
	f.coord.backend = &backend.Mock{
		MarkPrintedFunc: func(ctx context.Context, shopID int64, sns []string) error {
			return model.NewUpstreamError("backend", errors.New("down"))
		},
	}

	r, err := f.coord.Print(context.Background(), f.sess, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if f.printed(t, "A") || r.Printed != 0 || r.Failed != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestPrint_SubBatchNames(t *testing.T) {
	var bookings []model.Booking
	for i := 0; i < 51; i++ {
		bookings = append(bookings, ready(fmt.Sprintf("A%02d", i), 100))
	}
	f := newPrintFixture(t, bookings...)

	r, err := f.coord.Print(context.Background(), f.sess, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(r.Documents))
	}
	if r.Documents[1].Name != "booking-documents-100-2026-03-09-2.pdf" {
		t.Errorf("second name = %q", r.Documents[1].Name)
	}
	if len(r.Documents[0].BookingSNs) != 50 || len(r.Documents[1].BookingSNs) != 1 {
		t.Errorf("batch sizes = %d, %d", len(r.Documents[0].BookingSNs), len(r.Documents[1].BookingSNs))
	}
}

func TestPrint_SameDayRunsKeepEarlierArchive(t *testing.T) {
	f := newPrintFixture(t, ready("A", 100), ready("B", 100))

	first, err := f.coord.Print(context.Background(), f.sess, Request{BookingSNs: []string{"A"}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.coord.Print(context.Background(), f.sess, Request{BookingSNs: []string{"B"}})
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Documents) != 1 || len(second.Documents) != 1 {
		t.Fatalf("documents = %d, %d", len(first.Documents), len(second.Documents))
	}
	loc1, loc2 := first.Documents[0].Location, second.Documents[0].Location
	if loc1 == loc2 {
		t.Fatalf("both runs archived to %s", loc1)
	}
	if loc2 != filepath.Join(f.archive, "booking-documents-100-2026-03-09-r2.pdf") {
		t.Errorf("second location = %q", loc2)
	}
	entries, err := os.ReadDir(f.archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("archive holds %d files, want 2", len(entries))
	}
}

func TestPrint_WaitsForExclusiveLock(t *testing.T) {
	f := newPrintFixture(t, ready("A", 100))

	release, err := f.sess.Exclusive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.coord.Print(ctx, f.sess, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Print() error = %v, want deadline exceeded while scan holds the lock", err)
	}
	if len(f.docs.calls) != 0 {
		t.Error("downloaded while session was locked")
	}
}
