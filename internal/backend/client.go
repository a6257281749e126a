package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking-proxy/internal/model"
)

// =============================================================================
// BOOKING BACKEND CLIENT
// =============================================================================
//
// Talks to a remote booking store over its REST surface:
//
//   GET  /bookings?shop_id=..&booking_status=..      list
//   POST /bookings {"action":"update_tracking", ...}  tracking number
//   POST /bookings {"action":"mark_document_ready"}   document READY
//   POST /bookings {"action":"mark_printed", ...}     printed
//
// Every response is {"success": bool, "data": ..., "error": ..., "message": ...}.
// bookingd serves the same surface from its SQL store, so two instances can
// be chained.
// =============================================================================

const (
	pathBookings = "/bookings"

	userAgent = "Booking-Proxy/1.0"
)

// Action names accepted by POST /bookings.
const (
	ActionUpdateTracking    = "update_tracking"
	ActionMarkPrinted       = "mark_printed"
	ActionMarkDocumentReady = "mark_document_ready"
	ActionSave              = "save"
)

// ActionRequest is the POST /bookings body.
type ActionRequest struct {
	Action         string          `json:"action,omitempty"`
	ShopID         int64           `json:"shop_id,omitempty"`
	BookingSN      string          `json:"booking_sn,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	BookingSNList  []string        `json:"booking_sn_list,omitempty"`
	BookingList    []model.Booking `json:"booking_list,omitempty"`
}

// envelope is the response shape of the booking REST surface.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Client is a Backend reached over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a backend client for baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ListBookings fetches bookings matching f.
func (c *Client) ListBookings(ctx context.Context, f Filter) ([]model.Booking, error) {
	path := pathBookings
	if q := f.Query().Encode(); q != "" {
		path += "?" + q
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating list request: %w", err)
	}

	var bookings []model.Booking
	if err := c.do(req, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// UpdateTracking posts an update_tracking action.
func (c *Client) UpdateTracking(ctx context.Context, shopID int64, bookingSN, trackingNumber string) error {
	return c.post(ctx, &ActionRequest{
		Action:         ActionUpdateTracking,
		ShopID:         shopID,
		BookingSN:      bookingSN,
		TrackingNumber: trackingNumber,
	})
}

// MarkDocumentReady posts a mark_document_ready action.
func (c *Client) MarkDocumentReady(ctx context.Context, shopID int64, bookingSNs []string) error {
	return c.post(ctx, &ActionRequest{
		Action:        ActionMarkDocumentReady,
		ShopID:        shopID,
		BookingSNList: bookingSNs,
	})
}

// MarkPrinted posts a mark_printed action.
func (c *Client) MarkPrinted(ctx context.Context, shopID int64, bookingSNs []string) error {
	return c.post(ctx, &ActionRequest{
		Action:        ActionMarkPrinted,
		ShopID:        shopID,
		BookingSNList: bookingSNs,
	})
}

// SaveBookings posts a booking list for upsert.
func (c *Client) SaveBookings(ctx context.Context, bookings []model.Booking) error {
	return c.post(ctx, &ActionRequest{BookingList: bookings})
}

func (c *Client) post(ctx context.Context, body *ActionRequest) error {
	req, err := c.newRequest(ctx, http.MethodPost, pathBookings, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", body.Action, err)
	}
	return c.do(req, nil)
}

// === HTTP Helpers ===

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// do executes the request and decodes the envelope's data into result.
func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("backend", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	json.Unmarshal(body, &env) // Best effort; status code decides first

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, env)
	}
	if !env.Success {
		return model.NewUpstreamError("backend", fmt.Errorf("%s: %s", env.Error, env.Message))
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// parseError converts backend error responses to model.APIError.
func parseError(statusCode int, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	switch statusCode {
	case http.StatusBadRequest:
		return model.NewValidationError("request", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewUnauthorizedError("backend: " + msg)
	case http.StatusNotFound:
		return model.NewNotFoundError("booking")
	case http.StatusConflict:
		return model.NewConflictError(msg)
	case http.StatusTooManyRequests:
		return model.NewRateLimitError("backend")
	default:
		return model.NewUpstreamError("backend", fmt.Errorf("status %d: %s", statusCode, msg))
	}
}

var _ Backend = (*Client)(nil)
