package gateway

import (
	"encoding/json"
	"testing"

	"booking-proxy/internal/model"
)

func TestShippingParameterFor(t *testing.T) {
	params := &ShippingParameter{
		Pickup:  json.RawMessage(`{"address_list":[]}`),
		Dropoff: json.RawMessage(`null`),
	}

	tests := []struct {
		method ShippingMethod
		want   string
	}{
		{MethodPickup, `{"address_list":[]}`},
		{MethodDropoff, ""},
		{"courier", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if got := string(params.For(tt.method)); got != tt.want {
				t.Errorf("For(%s) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	for _, dt := range []DocumentType{ThermalAirWaybill, NormalAirWaybill, A4PDF} {
		if !dt.Valid() {
			t.Errorf("%s not valid", dt)
		}
	}
	if DocumentType("POSTCARD").Valid() || DocumentType("").Valid() {
		t.Error("unknown document type accepted")
	}

	if !MethodPickup.Valid() || !MethodDropoff.Valid() {
		t.Error("known shipping method rejected")
	}
	if ShippingMethod("PICKUP").Valid() {
		t.Error("shipping methods are lowercase")
	}
}

func TestItemsFor(t *testing.T) {
	items := ItemsFor([]model.Booking{
		{BookingSN: "BK1", TrackingNumber: "T1", ShopID: 100},
		{BookingSN: "BK2"},
	})

	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0] != (DocumentItem{BookingSN: "BK1", TrackingNumber: "T1"}) {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].TrackingNumber != "" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestDocumentResultFailed(t *testing.T) {
	if (DocumentResult{BookingSN: "BK1"}).Failed() {
		t.Error("result without fail_error reported failed")
	}
	if !(DocumentResult{BookingSN: "BK1", FailError: "logistics.booking_can_not_print"}).Failed() {
		t.Error("result with fail_error not reported failed")
	}
}
