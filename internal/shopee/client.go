// Package shopee implements gateway.Gateway against the Shopee Open Platform
// partner API (v2).
package shopee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"booking-proxy/internal/metrics"
	"booking-proxy/internal/model"
	"booking-proxy/internal/transport"
)

// =============================================================================
// SHOPEE PARTNER API CLIENT
// =============================================================================
//
// Every shop-level call carries the common query parameters
//
//   partner_id, timestamp, sign, shop_id, access_token
//
// where sign = hex(HMAC-SHA256(partner_key, partner_id + path + timestamp +
// access_token + shop_id)). Responses use one envelope:
//
//   {"error": "", "message": "", "request_id": "...", "response": {...}}
//
// A non-empty "error" is a business failure and surfaces as
// *model.PlatformError. The document download endpoint answers with raw PDF
// bytes on success and the JSON envelope otherwise.
//
// Outbound calls pass a token-bucket limiter, then a circuit breaker that
// counts only 5xx, 429 and transport failures.
// =============================================================================

const (
	// DefaultBaseURL is the production partner API host.
	DefaultBaseURL = "https://partner.shopeemobile.com"

	pathBookingList           = "/api/v2/order/get_booking_list"
	pathBookingDetail         = "/api/v2/order/get_booking_detail"
	pathShippingParameter     = "/api/v2/logistics/get_booking_shipping_parameter"
	pathShipBooking           = "/api/v2/logistics/ship_booking"
	pathTrackingNumber        = "/api/v2/logistics/get_booking_tracking_number"
	pathCreateShippingDoc     = "/api/v2/logistics/create_booking_shipping_document"
	pathDownloadShippingDoc   = "/api/v2/logistics/download_booking_shipping_document"
	maxResponseBody           = 32 << 20 // documents for 50 bookings stay well under this
	userAgent                 = "Booking-Proxy/1.0"
	breakerName               = "shopee"
	defaultRequestsPerSecond  = 10
	defaultBurst              = 5
	defaultRequestTimeout     = 30 * time.Second
	defaultBreakerFailures    = 5
	defaultBreakerOpenTimeout = 30 * time.Second
)

// Config holds partner credentials and client tuning.
type Config struct {
	PartnerID  int64
	PartnerKey string
	BaseURL    string

	// RateLimit is requests per second across all shops; zero uses the default.
	RateLimit float64
	Burst     int

	Timeout time.Duration

	// Transport overrides the HTTP transport. When nil a Chrome-fingerprint
	// transport is used.
	Transport http.RoundTripper

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client is the Shopee partner API client.
type Client struct {
	httpClient *http.Client
	partnerID  int64
	partnerKey []byte
	baseURL    string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	maxBody    int64
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.New(transport.Options{Timeout: cfg.Timeout, Fingerprint: true})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		partnerID:  cfg.PartnerID,
		partnerKey: []byte(cfg.PartnerKey),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
		maxBody:    maxResponseBody,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     defaultBreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			c.metrics.SetBreakerState(name, int(to))
		},
	})

	return c
}

// Sign computes the request signature for a shop-level call.
func (c *Client) Sign(path string, timestamp int64, accessToken string, shopID int64) string {
	base := strconv.FormatInt(c.partnerID, 10) + path + strconv.FormatInt(timestamp, 10)
	if accessToken != "" && shopID != 0 {
		base += accessToken + strconv.FormatInt(shopID, 10)
	}
	mac := hmac.New(sha256.New, c.partnerKey)
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPush checks a push notification's Authorization header, computed as
// hex(HMAC-SHA256(partner_key, callback_url + "|" + body)).
func (c *Client) VerifyPush(callbackURL string, body []byte, authorization string) bool {
	mac := hmac.New(sha256.New, c.partnerKey)
	mac.Write([]byte(callbackURL))
	mac.Write([]byte("|"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(authorization))))
}

// === Request Plumbing ===

// envelope is the common Shopee response wrapper.
type envelope struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

// rawResponse is what a single round trip yields.
type rawResponse struct {
	status      int
	contentType string
	body        []byte
}

// errStatus marks responses the breaker should count as failures.
type errStatus struct{ resp *rawResponse }

func (e *errStatus) Error() string { return fmt.Sprintf("status %d", e.resp.status) }

// signedURL builds the full request URL with common and extra parameters.
func (c *Client) signedURL(path, accessToken string, shopID int64, extra url.Values) string {
	ts := c.now().Unix()
	q := url.Values{}
	q.Set("partner_id", strconv.FormatInt(c.partnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", c.Sign(path, ts, accessToken, shopID))
	q.Set("shop_id", strconv.FormatInt(shopID, 10))
	q.Set("access_token", accessToken)
	for k, vs := range extra {
		if q.Has(k) {
			continue
		}
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.baseURL + path + "?" + q.Encode()
}

// newRequest creates a signed request. body may be nil.
func (c *Client) newRequest(ctx context.Context, method, path, accessToken string, shopID int64, params url.Values, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.signedURL(path, accessToken, shopID, params), bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// roundTrip sends req through the limiter and the breaker.
func (c *Client) roundTrip(req *http.Request) (*rawResponse, error) {
	path := req.URL.Path
	start := time.Now()

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if int64(len(body)) > c.maxBody {
			return nil, fmt.Errorf("response exceeds %d bytes", c.maxBody)
		}

		raw := &rawResponse{
			status:      resp.StatusCode,
			contentType: resp.Header.Get("Content-Type"),
			body:        body,
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return raw, &errStatus{resp: raw}
		}
		return raw, nil
	})

	c.metrics.RecordGatewayCall(path, err == nil, time.Since(start))

	var se *errStatus
	switch {
	case err == nil:
		return out.(*rawResponse), nil
	case errors.As(err, &se):
		return se.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("shopee call shed by circuit breaker", slog.String("path", path))
		return nil, model.NewUnavailableError("Shopee")
	case req.Context().Err() != nil:
		return nil, req.Context().Err()
	default:
		return nil, model.NewUpstreamError("Shopee", err)
	}
}

// do executes req and decodes the envelope's response field into result.
func (c *Client) do(req *http.Request, result interface{}) error {
	raw, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return err
	}
	if result != nil && len(env.Response) > 0 && string(env.Response) != "null" {
		if err := json.Unmarshal(env.Response, result); err != nil {
			return fmt.Errorf("parsing %s response: %w", req.URL.Path, err)
		}
	}
	return nil
}

// decodeEnvelope maps HTTP status and envelope error to Go errors.
func decodeEnvelope(raw *rawResponse) (*envelope, error) {
	var env envelope
	parseErr := json.Unmarshal(raw.body, &env)

	switch {
	case raw.status == http.StatusTooManyRequests:
		return nil, model.NewRateLimitError("Shopee")
	case raw.status >= 500:
		return nil, model.NewUpstreamError("Shopee", fmt.Errorf("status %d: %s", raw.status, env.Message))
	case raw.status == http.StatusUnauthorized, raw.status == http.StatusForbidden:
		msg := env.Message
		if msg == "" {
			msg = "Shopee authentication failed"
		}
		return nil, model.NewUnauthorizedError(msg)
	}

	if parseErr != nil {
		return nil, model.NewUpstreamError("Shopee", fmt.Errorf("invalid response (status %d): %w", raw.status, parseErr))
	}
	if env.Error != "" {
		return nil, &model.PlatformError{Code: env.Error, Message: env.Message, RequestID: env.RequestID}
	}
	if raw.status >= 400 {
		return nil, model.NewValidationError("request", fmt.Sprintf("status %d", raw.status))
	}
	return &env, nil
}
