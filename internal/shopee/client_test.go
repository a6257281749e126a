package shopee

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
)

const (
	testPartnerID  = 2001234
	testPartnerKey = "test-partner-key"
	testShopID     = 445566
	testToken      = "access-token-1"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		PartnerID:  testPartnerID,
		PartnerKey: testPartnerKey,
		BaseURL:    srv.URL,
		RateLimit:  1000,
		Burst:      100,
		Timeout:    5 * time.Second,
		Transport:  srv.Client().Transport,
	})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, errCode, message string, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error":      errCode,
		"message":    message,
		"request_id": "req-1",
	}
	if response != nil {
		body["response"] = response
	}
	json.NewEncoder(w).Encode(body)
}

func expectedSign(path string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(testPartnerKey))
	mac.Write([]byte("2001234" + path + "1700000000" + testToken + "445566"))
	return hex.EncodeToString(mac.Sum(nil))
}

// === Signing ===

func TestSign(t *testing.T) {
	c := NewClient(Config{PartnerID: testPartnerID, PartnerKey: testPartnerKey})

	got := c.Sign(pathBookingList, 1700000000, testToken, testShopID)
	if got != expectedSign(pathBookingList, 1700000000) {
		t.Errorf("Sign() = %s, want %s", got, expectedSign(pathBookingList, 1700000000))
	}
	if len(got) != 64 {
		t.Errorf("Sign() length = %d, want 64 hex chars", len(got))
	}
	if c.Sign(pathBookingDetail, 1700000000, testToken, testShopID) == got {
		t.Error("Sign() should differ per path")
	}
}

func TestCommonQueryParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		checks := map[string]string{
			"partner_id":   "2001234",
			"timestamp":    "1700000000",
			"shop_id":      "445566",
			"access_token": testToken,
			"sign":         expectedSign(pathBookingList, 1700000000),
		}
		for k, want := range checks {
			if got := q.Get(k); got != want {
				t.Errorf("query %s = %q, want %q", k, got, want)
			}
		}
		writeEnvelope(w, http.StatusOK, "", "", map[string]interface{}{"more": false})
	})

	if _, err := c.GetBookingList(context.Background(), testShopID, testToken, gateway.ListOptions{}); err != nil {
		t.Fatalf("GetBookingList() error = %v", err)
	}
}

func TestVerifyPush(t *testing.T) {
	c := NewClient(Config{PartnerID: testPartnerID, PartnerKey: testPartnerKey})
	callback := "https://example.com/webhook/shopee"
	body := []byte(`{"code":4,"shop_id":445566}`)

	mac := hmac.New(sha256.New, []byte(testPartnerKey))
	mac.Write([]byte(callback + "|" + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	if !c.VerifyPush(callback, body, sig) {
		t.Error("VerifyPush() = false for valid signature")
	}
	if !c.VerifyPush(callback, body, strings.ToUpper(sig)) {
		t.Error("VerifyPush() should accept uppercase hex")
	}
	if c.VerifyPush(callback, []byte(`{"code":3}`), sig) {
		t.Error("VerifyPush() = true for tampered body")
	}
	if c.VerifyPush(callback, body, "") {
		t.Error("VerifyPush() = true for empty signature")
	}
}

// === Booking Listing ===

func TestGetBookingList(t *testing.T) {
	tests := []struct {
		name       string
		opts       gateway.ListOptions
		wantStatus string
		wantErr    bool
	}{
		{"defaults", gateway.ListOptions{}, "", false},
		{"status filter", gateway.ListOptions{BookingStatus: "READY_TO_SHIP"}, "READY_TO_SHIP", false},
		{"ALL omits status", gateway.ListOptions{BookingStatus: "ALL"}, "", false},
		{"page size too large", gateway.ListOptions{PageSize: 101}, "", true},
		{"negative page size", gateway.ListOptions{PageSize: -1}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != pathBookingList {
					t.Errorf("path = %s", r.URL.Path)
				}
				q := r.URL.Query()
				if got := q.Get("booking_status"); got != tt.wantStatus {
					t.Errorf("booking_status = %q, want %q", got, tt.wantStatus)
				}
				if q.Get("page_size") != "50" {
					t.Errorf("page_size = %q, want 50", q.Get("page_size"))
				}
				if q.Get("time_range_field") != "create_time" {
					t.Errorf("time_range_field = %q", q.Get("time_range_field"))
				}
				writeEnvelope(w, http.StatusOK, "", "", map[string]interface{}{
					"more":        true,
					"next_cursor": "20",
					"booking_list": []map[string]string{
						{"booking_sn": "BK1", "booking_status": "READY_TO_SHIP"},
					},
				})
			})

			page, err := c.GetBookingList(context.Background(), testShopID, testToken, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetBookingList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, model.ErrInvalidRequest) {
					t.Errorf("error = %v, want invalid request", err)
				}
				return
			}
			if !page.More || page.NextCursor != "20" || len(page.BookingList) != 1 {
				t.Errorf("page = %+v", page)
			}
		})
	}
}

func TestGetBookingDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("booking_sn_list"); got != "BK1,BK2" {
			t.Errorf("booking_sn_list = %q", got)
		}
		writeEnvelope(w, http.StatusOK, "", "", map[string]interface{}{
			"booking_list": []map[string]interface{}{
				{"booking_sn": "BK1", "booking_status": "READY_TO_SHIP", "order_sn": "ORD1"},
				{"booking_sn": "BK2", "booking_status": "PROCESSED"},
			},
		})
	})

	got, err := c.GetBookingDetail(context.Background(), testShopID, testToken, []string{"BK1", " BK2 "}, nil)
	if err != nil {
		t.Fatalf("GetBookingDetail() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ShopID != testShopID || got[0].OrderSN != "ORD1" {
		t.Errorf("booking = %+v", got[0])
	}
}

func TestGetBookingDetail_Validation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	for _, sns := range [][]string{nil, {"BK1", "  "}} {
		_, err := c.GetBookingDetail(context.Background(), testShopID, testToken, sns, nil)
		if !errors.Is(err, model.ErrInvalidRequest) {
			t.Errorf("GetBookingDetail(%v) error = %v, want invalid request", sns, err)
		}
	}
}

// === Logistics ===

func TestShipBooking(t *testing.T) {
	tests := []struct {
		name    string
		method  gateway.ShippingMethod
		data    json.RawMessage
		wantKey string
		wantErr bool
	}{
		{"pickup with data", gateway.MethodPickup, json.RawMessage(`{"address_id":1}`), "pickup", false},
		{"dropoff empty", gateway.MethodDropoff, nil, "dropoff", false},
		{"invalid method", "courier", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]json.RawMessage
				json.NewDecoder(r.Body).Decode(&body)
				if string(body["booking_sn"]) != `"BK1"` {
					t.Errorf("booking_sn = %s", body["booking_sn"])
				}
				if _, ok := body[tt.wantKey]; !ok {
					t.Errorf("body missing %q: %v", tt.wantKey, body)
				}
				writeEnvelope(w, http.StatusOK, "", "", nil)
			})

			err := c.ShipBooking(context.Background(), testShopID, testToken, "BK1", tt.method, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ShipBooking() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetBookingTrackingNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("booking_sn") != "BK1" || q.Get("package_number") != "PKG1" {
			t.Errorf("query = %v", q)
		}
		writeEnvelope(w, http.StatusOK, "", "", map[string]string{"tracking_number": "SPX123"})
	})

	info, err := c.GetBookingTrackingNumber(context.Background(), testShopID, testToken, "BK1", "PKG1")
	if err != nil {
		t.Fatalf("GetBookingTrackingNumber() error = %v", err)
	}
	if info.TrackingNumber != "SPX123" {
		t.Errorf("TrackingNumber = %q", info.TrackingNumber)
	}
}

func TestPlatformErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "logistics.tracking_number_invalid", "not yet assigned", nil)
	})

	_, err := c.GetBookingTrackingNumber(context.Background(), testShopID, testToken, "BK1", "")
	var pe *model.PlatformError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T %v, want *model.PlatformError", err, err)
	}
	if pe.Class() != model.FailureTrackingInvalid {
		t.Errorf("Class() = %q", pe.Class())
	}
	if pe.RequestID != "req-1" {
		t.Errorf("RequestID = %q", pe.RequestID)
	}
}

func TestHTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, model.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, model.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, model.ErrRateLimited},
		{"server error", http.StatusBadGateway, model.ErrUpstreamError},
		{"bad request", http.StatusBadRequest, model.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, "", "nope", nil)
			})

			err := c.ShipBooking(context.Background(), testShopID, testToken, "BK1", gateway.MethodPickup, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < defaultBreakerFailures; i++ {
		c.ShipBooking(context.Background(), testShopID, testToken, "BK1", gateway.MethodPickup, nil)
	}

	err := c.ShipBooking(context.Background(), testShopID, testToken, "BK1", gateway.MethodPickup, nil)
	if !errors.Is(err, model.ErrUnavailable) {
		t.Errorf("error after trip = %v, want unavailable", err)
	}
	if calls != defaultBreakerFailures {
		t.Errorf("upstream calls = %d, want %d", calls, defaultBreakerFailures)
	}
}

func TestBusinessErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "logistics.booking_can_not_print", "no", nil)
	})

	for i := 0; i < defaultBreakerFailures+2; i++ {
		err := c.ShipBooking(context.Background(), testShopID, testToken, "BK1", gateway.MethodPickup, nil)
		var pe *model.PlatformError
		if !errors.As(err, &pe) {
			t.Fatalf("call %d error = %v, want platform error", i, err)
		}
	}
}

// === Shipping Documents ===

func TestCreateBookingShippingDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			BookingList []gateway.DocumentItem `json:"booking_list"`
			DocType     string                 `json:"shipping_document_type"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.DocType != "THERMAL_AIR_WAYBILL" {
			t.Errorf("shipping_document_type = %q", body.DocType)
		}
		if len(body.BookingList) != 2 {
			t.Errorf("booking_list = %v", body.BookingList)
		}
		writeEnvelope(w, http.StatusOK, "", "", map[string]interface{}{
			"result_list": []map[string]string{
				{"booking_sn": "BK1"},
				{"booking_sn": "BK2", "fail_error": "logistics.booking_can_not_print", "fail_message": "cancelled"},
			},
		})
	})

	items := []gateway.DocumentItem{{BookingSN: "BK1"}, {BookingSN: "BK2"}}
	results, err := c.CreateBookingShippingDocument(context.Background(), testShopID, testToken, items, "")
	if err != nil {
		t.Fatalf("CreateBookingShippingDocument() error = %v", err)
	}
	if len(results) != 2 || results[0].Failed() || !results[1].Failed() {
		t.Errorf("results = %+v", results)
	}
}

func TestDownloadBookingShippingDocument(t *testing.T) {
	t.Run("pdf", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF-1.7 data")
		})
		pdf, err := c.DownloadBookingShippingDocument(context.Background(), testShopID, testToken, []gateway.DocumentItem{{BookingSN: "BK1"}})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if string(pdf) != "%PDF-1.7 data" {
			t.Errorf("pdf = %q", pdf)
		}
	})

	t.Run("oversized", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF-1.7 data that runs past the limit")
		})
		c.maxBody = 16
		pdf, err := c.DownloadBookingShippingDocument(context.Background(), testShopID, testToken, []gateway.DocumentItem{{BookingSN: "BK1"}})
		if !errors.Is(err, model.ErrUpstreamError) {
			t.Errorf("error = %v, want upstream error", err)
		}
		if pdf != nil {
			t.Errorf("truncated pdf returned: %q", pdf)
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF-1.7 data")
		})
		c.maxBody = int64(len("%PDF-1.7 data"))
		if _, err := c.DownloadBookingShippingDocument(context.Background(), testShopID, testToken, []gateway.DocumentItem{{BookingSN: "BK1"}}); err != nil {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("json error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, "logistics.booking_can_not_print", "not ready", nil)
		})
		_, err := c.DownloadBookingShippingDocument(context.Background(), testShopID, testToken, []gateway.DocumentItem{{BookingSN: "BK1"}})
		var pe *model.PlatformError
		if !errors.As(err, &pe) || pe.Class() != model.FailureCannotPrint {
			t.Errorf("error = %v, want can-not-print platform error", err)
		}
	})

	t.Run("json without error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, "", "", map[string]string{})
		})
		_, err := c.DownloadBookingShippingDocument(context.Background(), testShopID, testToken, []gateway.DocumentItem{{BookingSN: "BK1"}})
		var pe *model.PlatformError
		if !errors.As(err, &pe) || pe.Code != "invalid_response" {
			t.Errorf("error = %v, want invalid_response", err)
		}
	})
}
