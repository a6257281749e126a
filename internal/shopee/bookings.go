package shopee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
)

// === Booking Listing ===

// GetBookingList returns one page of booking references.
func (c *Client) GetBookingList(ctx context.Context, shopID int64, accessToken string, opts gateway.ListOptions) (*gateway.BookingListPage, error) {
	if opts.PageSize == 0 {
		opts.PageSize = 50
	}
	if opts.PageSize < 1 || opts.PageSize > 100 {
		return nil, model.NewValidationError("page_size", "must be between 1 and 100")
	}
	if opts.TimeRangeField == "" {
		opts.TimeRangeField = "create_time"
	}

	params := url.Values{}
	params.Set("time_range_field", opts.TimeRangeField)
	params.Set("time_from", strconv.FormatInt(opts.TimeFrom, 10))
	params.Set("time_to", strconv.FormatInt(opts.TimeTo, 10))
	params.Set("page_size", strconv.Itoa(opts.PageSize))
	params.Set("cursor", opts.Cursor)
	if opts.BookingStatus != "" && opts.BookingStatus != "ALL" {
		params.Set("booking_status", opts.BookingStatus)
	}
	if len(opts.ResponseOptionalFields) > 0 {
		params.Set("response_optional_fields", strings.Join(opts.ResponseOptionalFields, ","))
	}

	req, err := c.newRequest(ctx, http.MethodGet, pathBookingList, accessToken, shopID, params, nil)
	if err != nil {
		return nil, fmt.Errorf("creating booking list request: %w", err)
	}

	var page gateway.BookingListPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetBookingDetail returns full records for the given serials.
func (c *Client) GetBookingDetail(ctx context.Context, shopID int64, accessToken string, bookingSNs []string, optionalFields []string) ([]model.Booking, error) {
	sns := make([]string, 0, len(bookingSNs))
	for _, sn := range bookingSNs {
		sn = strings.TrimSpace(sn)
		if sn == "" {
			return nil, model.NewValidationError("booking_sn_list", "must not contain blank serials")
		}
		sns = append(sns, sn)
	}
	if len(sns) == 0 {
		return nil, model.NewValidationError("booking_sn_list", "cannot be empty")
	}

	params := url.Values{}
	params.Set("booking_sn_list", strings.Join(sns, ","))
	if len(optionalFields) > 0 {
		params.Set("response_optional_fields", strings.Join(optionalFields, ","))
	}

	req, err := c.newRequest(ctx, http.MethodGet, pathBookingDetail, accessToken, shopID, params, nil)
	if err != nil {
		return nil, fmt.Errorf("creating booking detail request: %w", err)
	}

	var resp struct {
		BookingList []model.Booking `json:"booking_list"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	for i := range resp.BookingList {
		resp.BookingList[i].ShopID = shopID
	}
	return resp.BookingList, nil
}

// === Logistics ===

// GetBookingShippingParameter returns pickup and dropoff options.
func (c *Client) GetBookingShippingParameter(ctx context.Context, shopID int64, accessToken, bookingSN string) (*gateway.ShippingParameter, error) {
	params := url.Values{}
	params.Set("booking_sn", bookingSN)

	req, err := c.newRequest(ctx, http.MethodGet, pathShippingParameter, accessToken, shopID, params, nil)
	if err != nil {
		return nil, fmt.Errorf("creating shipping parameter request: %w", err)
	}

	var p gateway.ShippingParameter
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ShipBooking arranges pickup or dropoff for one booking.
func (c *Client) ShipBooking(ctx context.Context, shopID int64, accessToken, bookingSN string, method gateway.ShippingMethod, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	body := map[string]interface{}{"booking_sn": bookingSN}
	switch method {
	case gateway.MethodPickup:
		body["pickup"] = data
	case gateway.MethodDropoff:
		body["dropoff"] = data
	default:
		return model.NewValidationError("shipping_method", "must be pickup or dropoff")
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathShipBooking, accessToken, shopID, nil, body)
	if err != nil {
		return fmt.Errorf("creating ship booking request: %w", err)
	}
	return c.do(req, nil)
}

// GetBookingTrackingNumber fetches the tracking number for one booking.
func (c *Client) GetBookingTrackingNumber(ctx context.Context, shopID int64, accessToken, bookingSN, packageNumber string) (*gateway.TrackingInfo, error) {
	params := url.Values{}
	params.Set("booking_sn", bookingSN)
	if packageNumber != "" {
		params.Set("package_number", packageNumber)
	}

	req, err := c.newRequest(ctx, http.MethodGet, pathTrackingNumber, accessToken, shopID, params, nil)
	if err != nil {
		return nil, fmt.Errorf("creating tracking number request: %w", err)
	}

	var info gateway.TrackingInfo
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// === Shipping Documents ===

// CreateBookingShippingDocument requests document generation.
func (c *Client) CreateBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []gateway.DocumentItem, docType gateway.DocumentType) ([]gateway.DocumentResult, error) {
	if docType == "" {
		docType = gateway.ThermalAirWaybill
	}
	body := map[string]interface{}{
		"booking_list":           items,
		"shipping_document_type": docType,
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathCreateShippingDoc, accessToken, shopID, nil, body)
	if err != nil {
		return nil, fmt.Errorf("creating shipping document request: %w", err)
	}

	var resp struct {
		ResultList []gateway.DocumentResult `json:"result_list"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.ResultList, nil
}

// DownloadBookingShippingDocument returns the PDF for the given bookings.
func (c *Client) DownloadBookingShippingDocument(ctx context.Context, shopID int64, accessToken string, items []gateway.DocumentItem) ([]byte, error) {
	body := map[string]interface{}{"booking_list": items}

	req, err := c.newRequest(ctx, http.MethodPost, pathDownloadShippingDoc, accessToken, shopID, nil, body)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}

	raw, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if raw.status == http.StatusOK && strings.Contains(raw.contentType, "application/pdf") {
		return raw.body, nil
	}

	if _, err := decodeEnvelope(raw); err != nil {
		return nil, err
	}
	return nil, &model.PlatformError{Code: "invalid_response", Message: "expected PDF document from Shopee"}
}

var _ gateway.Gateway = (*Client)(nil)
