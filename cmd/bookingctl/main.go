// bookingctl is a CLI for driving a bookingd instance.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	bookingctl list -server URL [-shop ID] [-status PROCESSED] [-printed false]
//	bookingctl scan -server URL [-wait 30s]
//	bookingctl status -server URL
//	bookingctl print -server URL [-sn BK1,BK2] [-expected N]
//	bookingctl download -server URL -shop ID -sn BK1,BK2 [-out FILE]
//	bookingctl ship -server URL -shop ID -sn BK1 -method pickup|dropoff
//	bookingctl sync -server URL -shop ID [-from 2024-01-01] [-to 2024-01-08]
//	bookingctl reset -server URL
//
// Examples:
//
//	bookingctl list -server http://localhost:8080 -status PROCESSED
//	bookingctl scan -server http://localhost:8080 -wait 1m
//	bookingctl print -server http://localhost:8080 -expected 120
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"booking-proxy/internal/model"
)

var client = &http.Client{Timeout: 5 * time.Minute}

// Global flags (apply to all commands)
var (
	serverURL string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "list":
		runList(args)
	case "scan":
		runScan(args)
	case "status":
		runStatus(args)
	case "print":
		runPrint(args)
	case "download":
		runDownload(args)
	case "ship":
		runShip(args)
	case "sync":
		runSync(args)
	case "reset":
		runReset(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `bookingctl - booking fulfillment tool

Usage:
  bookingctl <command> [options]

Commands:
  list      Load bookings into the session (queues a scan)
  scan      Queue a reconciliation scan, optionally wait for its report
  status    Show the last scan report
  print     Print READY bookings and mark them printed
  download  Download shipping documents to a file
  ship      Arrange pickup or dropoff for a booking
  sync      Pull bookings from the marketplace into the store
  reset     End the session and clear its failure caches

Examples:
  # Load processed bookings of one shop
  bookingctl list -server http://localhost:8080 -shop 100 -status PROCESSED

  # Scan and wait for the report
  bookingctl scan -server http://localhost:8080 -wait 1m

  # Print everything printable, expecting 120 labels
  bookingctl print -server http://localhost:8080 -expected 120

Run 'bookingctl <command> -h' for command-specific options.
`)
}

// commonFlags registers the flags every command accepts.
func commonFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("BOOKINGD_URL", "http://localhost:8080"), "bookingd base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the key result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// LIST COMMAND
// =============================================================================

func runList(args []string) {
	fs := commonFlags("list")
	var shop int64
	var status, docStatus, printed string
	fs.Int64Var(&shop, "shop", 0, "Shop ID (all shops when 0)")
	fs.StringVar(&status, "status", "", "Booking status, e.g. PROCESSED")
	fs.StringVar(&docStatus, "doc", "", "Document status, e.g. READY")
	fs.StringVar(&printed, "printed", "", "true or false")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl list [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	q := url.Values{}
	if shop > 0 {
		q.Set("shop_id", strconv.FormatInt(shop, 10))
	}
	if status != "" {
		q.Set("booking_status", status)
	}
	if docStatus != "" {
		q.Set("document_status", docStatus)
	}
	if printed != "" {
		q.Set("is_printed", printed)
	}

	path := "/bookings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fatal("Failed to list bookings: %v", err)
	}

	bookings, _ := resp["data"].([]interface{})
	summary, _ := resp["summary"].(map[string]interface{})
	if quiet {
		fmt.Println(len(bookings))
		return
	}

	printSuccess("%d bookings loaded", len(bookings))
	if summary != nil {
		fmt.Printf("  Needs tracking: %s%v%s\n", colorYellow, summary["needs_tracking"], colorReset)
		fmt.Printf("  Document ready: %s%v%s\n", colorCyan, summary["document_ready"], colorReset)
		fmt.Printf("  Ready to print: %s%v%s\n", colorGreen, summary["ready_to_print"], colorReset)
		fmt.Printf("  Printed:        %v\n", summary["printed"])
	}
	printInfo("A reconciliation scan has been queued")
}

// =============================================================================
// SCAN COMMANDS
// =============================================================================

func runScan(args []string) {
	fs := commonFlags("scan")
	var wait time.Duration
	fs.DurationVar(&wait, "wait", 0, "Wait up to this long for the scan report (0 = don't wait)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl scan [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	before, _ := lastScanID()

	if _, err := doRequest("POST", "/bookings/scan", nil); err != nil {
		fatal("Failed to queue scan: %v", err)
	}
	printSuccess("Scan queued")
	if wait <= 0 {
		return
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)
		id, report := lastScanID()
		if id != "" && id != before {
			printScanReport(report)
			return
		}
	}
	printWarning("No report within %v; run 'bookingctl status' later", wait)
}

func runStatus(args []string) {
	fs := commonFlags("status")
	parse(fs, args)

	resp, err := doRequest("GET", "/bookings/scan", nil)
	if err != nil {
		fatal("Failed to get scan report: %v", err)
	}
	report, _ := resp["data"].(map[string]interface{})
	printScanReport(report)
	if msg, _ := resp["message"].(string); msg != "" {
		printWarning("Last scan ended with: %s", msg)
	}
}

// lastScanID returns the id of the latest report without printing anything.
func lastScanID() (string, map[string]interface{}) {
	saved := quiet
	quiet = true
	defer func() { quiet = saved }()

	resp, err := doRequest("GET", "/bookings/scan", nil)
	if err != nil {
		return "", nil
	}
	report, _ := resp["data"].(map[string]interface{})
	id, _ := report["scan_id"].(string)
	return id, report
}

func printScanReport(report map[string]interface{}) {
	if report == nil {
		return
	}
	if quiet {
		fmt.Println(report["scan_id"])
		return
	}
	printSuccess("Scan %v", report["scan_id"])
	fmt.Printf("  Tracking: %v fetched, %v failed, %v skipped\n",
		report["tracking_fetched"], report["tracking_failed"], report["tracking_skipped"])
	fmt.Printf("  Documents: %s%v created%s, %v failed (%v terminal), %v skipped\n",
		colorGreen, report["documents_created"], colorReset,
		report["documents_failed"], report["terminal_failures"], report["document_skipped"])
}

// =============================================================================
// PRINT COMMAND
// =============================================================================

func runPrint(args []string) {
	fs := commonFlags("print")
	var sns string
	var expected int
	fs.StringVar(&sns, "sn", "", "Comma-separated booking serials (all printable when empty)")
	fs.IntVar(&expected, "expected", 0, "Number of bookings expected to print")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl print [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	body := map[string]interface{}{}
	if list := splitList(sns); len(list) > 0 {
		body["booking_sn_list"] = list
	}
	if expected > 0 {
		body["expected_total"] = expected
	}

	resp, err := doRequest("POST", "/bookings/print", body)
	if err != nil {
		fatal("Failed to print: %v", err)
	}

	report, _ := resp["data"].(map[string]interface{})
	if quiet {
		fmt.Println(report["printed"])
		return
	}
	if msg, _ := resp["message"].(string); msg != "" {
		printWarning("%s", msg)
	}
	if mismatch, _ := report["mismatch"].(bool); mismatch {
		printWarning("Printed %v, expected %v", report["actual_total"], report["expected_total"])
	} else {
		printSuccess("Printed %v bookings", report["printed"])
	}
	if docs, ok := report["documents"].([]interface{}); ok {
		for _, d := range docs {
			doc, _ := d.(map[string]interface{})
			loc := doc["location"]
			if loc == nil {
				loc = "(not archived)"
			}
			fmt.Printf("  %s%v%s → %v\n", colorBlue, doc["name"], colorReset, loc)
		}
	}
}

// =============================================================================
// DOWNLOAD COMMAND
// =============================================================================

func runDownload(args []string) {
	fs := commonFlags("download")
	var shop int64
	var sns, out string
	fs.Int64Var(&shop, "shop", 0, "Shop ID (required)")
	fs.StringVar(&sns, "sn", "", "Comma-separated booking serials (required)")
	fs.StringVar(&out, "out", "", "Output file (defaults to the server's file name)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl download -shop ID -sn BK1,BK2 [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	list := splitList(sns)
	if shop <= 0 || len(list) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	items := make([]map[string]string, len(list))
	for i, sn := range list {
		items[i] = map[string]string{"booking_sn": sn}
	}
	reqJSON, _ := json.Marshal(map[string]interface{}{"shopId": shop, "bookingList": items})

	if !quiet {
		printRequest("POST", "/shopee/download-booking-shipping-document", reqJSON)
	}
	resp, err := client.Post(serverURL+"/shopee/download-booking-shipping-document", "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		fatal("Download failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("Reading documents: %v", err)
	}
	if resp.StatusCode >= 400 {
		fatal("HTTP %d: %s", resp.StatusCode, string(data))
	}

	if out == "" {
		out = filenameFrom(resp.Header.Get("Content-Disposition"), "booking-documents.pdf")
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fatal("Writing %s: %v", out, err)
	}

	if quiet {
		fmt.Println(out)
		return
	}
	printSuccess("Saved %s (%d bytes)", out, len(data))

	if h := resp.Header.Get(model.DocumentsHeader); h != "" {
		summary, err := model.ParseDocumentsHeader(h)
		if err != nil {
			printWarning("Unreadable %s header: %v", model.DocumentsHeader, err)
			return
		}
		fmt.Printf("  Bookings: %d, chunks: %d\n", summary.Bookings, summary.Chunks)
		if summary.Failed > 0 {
			printWarning("%d of %d chunks failed to download", summary.Failed, summary.Chunks)
		}
	}
}

// filenameFrom extracts filename="..." from a Content-Disposition header.
func filenameFrom(disposition, def string) string {
	const key = `filename="`
	i := strings.Index(disposition, key)
	if i < 0 {
		return def
	}
	rest := disposition[i+len(key):]
	if j := strings.IndexByte(rest, '"'); j > 0 {
		return rest[:j]
	}
	return def
}

// =============================================================================
// SHIP COMMAND
// =============================================================================

func runShip(args []string) {
	fs := commonFlags("ship")
	var shop int64
	var sn, method, data string
	fs.Int64Var(&shop, "shop", 0, "Shop ID (required)")
	fs.StringVar(&sn, "sn", "", "Booking serial (required)")
	fs.StringVar(&method, "method", "pickup", "pickup or dropoff")
	fs.StringVar(&data, "data", "", "Explicit shipping data JSON (taken from shipping parameters when empty)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl ship -shop ID -sn BK1 [-method dropoff] [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	if shop <= 0 || sn == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{
		"shopId":         shop,
		"bookingSn":      sn,
		"shippingMethod": method,
	}
	if data != "" {
		if !json.Valid([]byte(data)) {
			fatal("-data is not valid JSON")
		}
		body["shippingData"] = json.RawMessage(data)
	}

	if _, err := doRequest("POST", "/shopee/ship-booking", body); err != nil {
		fatal("Failed to ship: %v", err)
	}
	printSuccess("Booking %s shipped by %s", sn, method)
}

// =============================================================================
// SYNC COMMAND
// =============================================================================

func runSync(args []string) {
	fs := commonFlags("sync")
	var shop int64
	var from, to, status, sns string
	fs.Int64Var(&shop, "shop", 0, "Shop ID (required)")
	fs.StringVar(&from, "from", "", "Start date (YYYY-MM-DD, default 7 days ago)")
	fs.StringVar(&to, "to", "", "End date (YYYY-MM-DD, default now)")
	fs.StringVar(&status, "status", "", "Booking status filter")
	fs.StringVar(&sns, "sn", "", "Comma-separated serials to sync instead of a time window")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bookingctl sync -shop ID [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	if shop <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{"shop_id": shop}
	for flagName, v := range map[string]string{"start_time": from, "end_time": to} {
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			fatal("Invalid date %q: %v", v, err)
		}
		body[flagName] = t.Unix()
	}
	if status != "" {
		body["booking_status"] = status
	}
	if list := splitList(sns); len(list) > 0 {
		body["booking_sn_list"] = list
	}

	resp, err := doRequest("POST", "/bookings/sync", body)
	if err != nil {
		fatal("Failed to sync: %v", err)
	}
	result, _ := resp["data"].(map[string]interface{})
	if quiet {
		fmt.Println(result["processed"])
		return
	}
	printSuccess("Synced %v of %v bookings in %v pages", result["processed"], result["total"], result["pages"])
}

// =============================================================================
// RESET COMMAND
// =============================================================================

func runReset(args []string) {
	fs := commonFlags("reset")
	parse(fs, args)

	if _, err := doRequest("POST", "/session/reset", nil); err != nil {
		fatal("Failed to reset session: %v", err)
	}
	printSuccess("Session reset")
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	reqURL := strings.TrimSuffix(serverURL, "/") + path
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		var failed model.Result
		if json.Unmarshal(respBody, &failed) == nil && failed.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s: %s", resp.StatusCode, failed.Error, failed.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
