// MCP transport handler using the official MCP Go SDK.
// Exposes the booking session operations as MCP tools.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/model"
	"booking-proxy/internal/operations"
	"booking-proxy/internal/printing"
	"booking-proxy/internal/reconcile"
)

// === MCP Tool Input/Output Types ===

// ListBookingsInput is the input schema for list_bookings. It mirrors the
// GET /bookings query.
type ListBookingsInput struct {
	ShopID         int64  `json:"shop_id,omitempty" jsonschema:"restrict to one shop"`
	BookingStatus  string `json:"booking_status,omitempty" jsonschema:"booking status, e.g. PROCESSED"`
	DocumentStatus string `json:"document_status,omitempty" jsonschema:"document status, e.g. READY"`
	IsPrinted      string `json:"is_printed,omitempty" jsonschema:"true or false"`
	From           string `json:"from,omitempty" jsonschema:"lower bound on create_time, unix seconds or RFC 3339"`
	To             string `json:"to,omitempty" jsonschema:"upper bound on create_time, unix seconds or RFC 3339"`
}

// ListBookingsOutput is the loaded session with its status counts.
type ListBookingsOutput struct {
	Bookings []model.Booking      `json:"bookings"`
	Summary  model.BookingSummary `json:"summary"`
}

// ScanBookingsInput is the input schema for scan_bookings.
type ScanBookingsInput struct{}

// ScanBookingsOutput reports whether a scan was queued and the last report.
type ScanBookingsOutput struct {
	Queued     bool              `json:"queued"`
	LastReport *reconcile.Report `json:"last_report,omitempty"`
}

// PrintBookingsInput is the input schema for print_bookings.
type PrintBookingsInput struct {
	BookingSNs    []string `json:"booking_sn_list,omitempty" jsonschema:"serials to print; all printable bookings when empty"`
	ExpectedTotal int      `json:"expected_total,omitempty" jsonschema:"number of bookings the caller expects to be printed"`
}

// ShipBookingInput is the input schema for ship_booking.
type ShipBookingInput struct {
	ShopID       int64          `json:"shop_id" jsonschema:"shop ID,required"`
	BookingSN    string         `json:"booking_sn" jsonschema:"booking serial,required"`
	Method       string         `json:"shipping_method" jsonschema:"pickup or dropoff,required"`
	ShippingData map[string]any `json:"shipping_data,omitempty" jsonschema:"explicit pickup or dropoff payload; taken from the shipping parameters when omitted"`
}

// ShipBookingOutput confirms a shipment.
type ShipBookingOutput struct {
	BookingSN string `json:"booking_sn"`
	Shipped   bool   `json:"shipped"`
}

// NewMCPServer creates an MCP server with the booking tools registered.
// The tools run the same code paths as the REST API.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "booking-proxy",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Booking fulfillment for Shopee bookings. " +
				"Load bookings with list_bookings, reconcile them with scan_bookings, then print with print_bookings.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_bookings",
		Description: "Load bookings into the session. Loading queues a reconciliation scan.",
	}, h.mcpListBookings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_bookings",
		Description: "Queue a reconciliation scan that fetches missing tracking numbers and creates missing shipping documents.",
	}, h.mcpScanBookings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "print_bookings",
		Description: "Download and mark printed the READY bookings of the session, grouped by shop.",
	}, h.mcpPrintBookings)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ship_booking",
		Description: "Arrange pickup or dropoff for one booking.",
	}, h.mcpShipBooking)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpListBookings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListBookingsInput,
) (*mcp.CallToolResult, *ListBookingsOutput, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	if input.ShopID > 0 {
		set("shop_id", fmt.Sprint(input.ShopID))
	}
	set("booking_status", input.BookingStatus)
	set("document_status", input.DocumentStatus)
	set("is_printed", input.IsPrinted)
	set("from", input.From)
	set("to", input.To)

	f, err := backend.ParseFilter(q)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	bookings, err := h.sess.Load(ctx, f)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}

	return nil, &ListBookingsOutput{Bookings: bookings, Summary: model.Summarize(bookings)}, nil
}

func (h *Handler) mcpScanBookings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ScanBookingsInput,
) (*mcp.CallToolResult, *ScanBookingsOutput, error) {
	if h.scans == nil {
		return nil, nil, h.mcpError(unavailable("scan worker"))
	}
	if !h.scans.Trigger() {
		return nil, nil, h.mcpError(model.NewConflictError("a scan is already pending or running"))
	}
	last, _ := h.scans.LastReport()
	return nil, &ScanBookingsOutput{Queued: true, LastReport: last}, nil
}

func (h *Handler) mcpPrintBookings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PrintBookingsInput,
) (*mcp.CallToolResult, *printing.Report, error) {
	if h.printer == nil {
		return nil, nil, h.mcpError(unavailable("printing"))
	}

	report, err := h.printer.Print(ctx, h.sess, printing.Request{
		BookingSNs:    input.BookingSNs,
		ExpectedTotal: input.ExpectedTotal,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	return nil, report, nil
}

func (h *Handler) mcpShipBooking(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ShipBookingInput,
) (*mcp.CallToolResult, *ShipBookingOutput, error) {
	if strings.TrimSpace(input.BookingSN) == "" {
		return nil, nil, fmt.Errorf("booking_sn is required")
	}

	shipReq := operations.ShipRequest{
		ShopID:    input.ShopID,
		BookingSN: input.BookingSN,
		Method:    gateway.ShippingMethod(strings.ToLower(input.Method)),
	}
	if len(input.ShippingData) > 0 {
		data, err := json.Marshal(input.ShippingData)
		if err != nil {
			return nil, nil, fmt.Errorf("shipping_data: %v", err)
		}
		shipReq.Data = data
	}

	if err := h.ops.Ship(ctx, shipReq); err != nil {
		return nil, nil, h.mcpError(err)
	}

	return nil, &ShipBookingOutput{BookingSN: strings.TrimSpace(input.BookingSN), Shipped: true}, nil
}

// mcpError converts service errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var platErr *model.PlatformError
	if errors.As(err, &platErr) {
		return fmt.Errorf("%s: %s", platErr.Code, platErr.Message)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
