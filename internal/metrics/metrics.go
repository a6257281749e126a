// Package metrics exposes Prometheus instrumentation for the booking service.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "booking"

// Metrics holds all service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	GatewayCalls        *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	BreakerState        *prometheus.GaugeVec

	ScansTotal        *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	TrackingFetches   *prometheus.CounterVec
	DocumentRequests  *prometheus.CounterVec
	NegativeCacheAdds *prometheus.CounterVec

	DispatchBatches *prometheus.CounterVec
	PrintedBookings prometheus.Counter
	PrintMismatches prometheus.Counter
	WebhookEvents   *prometheus.CounterVec
}

// New creates a Metrics instance with Go and process collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Marketplace API calls by path and outcome",
		},
		[]string{"path", "status"},
	)
	m.GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Marketplace API call duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"path"},
	)
	m.BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Reconciliation scans by outcome",
		},
		[]string{"status"},
	)
	m.ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Reconciliation scan duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	m.TrackingFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_fetches_total",
			Help:      "Tracking number fetches by outcome",
		},
		[]string{"status"},
	)
	m.DocumentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_requests_total",
			Help:      "Shipping document creation results per booking",
		},
		[]string{"status"},
	)
	m.NegativeCacheAdds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_cache_adds_total",
			Help:      "Bookings added to a negative cache",
		},
		[]string{"cache", "kind"},
	)

	m.DispatchBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_batches_total",
			Help:      "Per-shop sub-batch calls by operation and outcome",
		},
		[]string{"operation", "status"},
	)
	m.PrintedBookings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "printed_bookings_total",
			Help:      "Bookings whose document was downloaded and marked printed",
		},
	)
	m.PrintMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "print_mismatches_total",
			Help:      "Print runs where the printed count differed from the expected count",
		},
	)
	m.WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Push notifications by code and outcome",
		},
		[]string{"code", "status"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GatewayCalls,
		m.GatewayCallDuration,
		m.BreakerState,
		m.ScansTotal,
		m.ScanDuration,
		m.TrackingFetches,
		m.DocumentRequests,
		m.NegativeCacheAdds,
		m.DispatchBatches,
		m.PrintedBookings,
		m.PrintMismatches,
		m.WebhookEvents,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGatewayCall records one marketplace API call.
func (m *Metrics) RecordGatewayCall(path string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(path, status(ok)).Inc()
	m.GatewayCallDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// SetBreakerState records the current circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordScan records a completed or aborted reconciliation scan.
func (m *Metrics) RecordScan(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(status(ok)).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordTrackingFetch records one tracking number fetch.
func (m *Metrics) RecordTrackingFetch(ok bool) {
	if m == nil {
		return
	}
	m.TrackingFetches.WithLabelValues(status(ok)).Inc()
}

// RecordDocuments records document creation results.
func (m *Metrics) RecordDocuments(succeeded, failed int) {
	if m == nil {
		return
	}
	m.DocumentRequests.WithLabelValues("success").Add(float64(succeeded))
	m.DocumentRequests.WithLabelValues("error").Add(float64(failed))
}

// RecordNegativeCacheAdd records a booking entering a negative cache.
func (m *Metrics) RecordNegativeCacheAdd(cache string, permanent bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	m.NegativeCacheAdds.WithLabelValues(cache, kind).Inc()
}

// RecordDispatchBatch records one per-shop sub-batch call.
func (m *Metrics) RecordDispatchBatch(operation string, ok bool) {
	if m == nil {
		return
	}
	m.DispatchBatches.WithLabelValues(operation, status(ok)).Inc()
}

// RecordPrinted records bookings marked printed.
func (m *Metrics) RecordPrinted(n int) {
	if m == nil {
		return
	}
	m.PrintedBookings.Add(float64(n))
}

// RecordPrintMismatch records a print run with a count mismatch.
func (m *Metrics) RecordPrintMismatch() {
	if m == nil {
		return
	}
	m.PrintMismatches.Inc()
}

// RecordWebhook records a processed push notification.
func (m *Metrics) RecordWebhook(code int, ok bool) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(strconv.Itoa(code), status(ok)).Inc()
}
