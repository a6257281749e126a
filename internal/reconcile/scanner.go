package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/dispatch"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/metrics"
	"booking-proxy/internal/model"
	"booking-proxy/internal/negcache"
	"booking-proxy/internal/operations"
	"booking-proxy/internal/session"
)

// Operations is the subset of the operation boundary a scan needs.
type Operations interface {
	TrackingNumber(ctx context.Context, shopID int64, bookingSN, packageNumber string) (*gateway.TrackingInfo, error)
	CreateDocuments(ctx context.Context, shopID int64, items []gateway.DocumentItem, docType gateway.DocumentType) (*operations.CreateResult, error)
}

// Config tunes a Scanner. Zero delays are allowed.
type Config struct {
	// TrackingSettle is waited after Phase A recorded at least one tracking
	// number, before the list is reloaded.
	TrackingSettle time.Duration

	// DocumentReloadDelay is waited after Phase B created documents, before
	// the list is reloaded.
	DocumentReloadDelay time.Duration

	// NegativeTTL bounds how long a tracking failure suppresses retries.
	// Zero keeps it until the session is reset.
	NegativeTTL time.Duration

	DocumentType gateway.DocumentType
}

// Report summarises one scan. Per-booking failures only show up here.
type Report struct {
	ScanID string `json:"scan_id"`

	TrackingCandidates int  `json:"tracking_candidates"`
	TrackingSkipped    int  `json:"tracking_skipped"`
	TrackingFetched    int  `json:"tracking_fetched"`
	TrackingFailed     int  `json:"tracking_failed"`
	TrackingReloaded   bool `json:"tracking_reloaded"`

	DocumentCandidates   int  `json:"document_candidates"`
	DocumentSkipped      int  `json:"document_skipped"`
	DocumentsCreated     int  `json:"documents_created"`
	DocumentsFailed      int  `json:"documents_failed"`
	TerminalFailures     int  `json:"terminal_failures"`
	UnclassifiedFailures int  `json:"unclassified_failures"`
	DocumentsReloaded    bool `json:"documents_reloaded"`

	Shops    []dispatch.ShopReport `json:"shops,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// Scanner runs reconciliation scans against a session.
type Scanner struct {
	ops        Operations
	backend    backend.Backend
	dispatcher *dispatch.Dispatcher
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// One tracking call at a time across every scan this scanner runs.
	trackingLimit *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Scanner.
func New(ops Operations, be backend.Backend, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DocumentType == "" {
		cfg.DocumentType = gateway.ThermalAirWaybill
	}
	return &Scanner{
		ops:           ops,
		backend:       be,
		dispatcher:    dispatch.New("create_document", logger, m),
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		trackingLimit: semaphore.NewWeighted(1),
		inFlight:      make(map[string]struct{}),
		sleep:         sleepContext,
		now:           time.Now,
	}
}

// WithSleep replaces the delay function. Tests use it to skip waits.
func (s *Scanner) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Scanner {
	s.sleep = fn
	return s
}

// WithClock replaces the time source used for negative-cache expiry.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Scan runs Phase A then Phase B against the session's current bookings.
// The caller holds the session's exclusive lock. Only cancellation of ctx is
// returned as an error.
func (s *Scanner) Scan(ctx context.Context, sess *session.Session) (*Report, error) {
	start := time.Now()
	report := &Report{ScanID: uuid.NewString()}
	logger := s.logger.With(slog.String("scan_id", report.ScanID), slog.String("session_id", sess.ID))

	err := s.trackingPhase(ctx, sess, report, logger)
	if err == nil {
		err = s.documentPhase(ctx, sess, report, logger)
	}

	report.Duration = time.Since(start)
	s.metrics.RecordScan(err == nil, report.Duration)

	if err != nil {
		logger.WarnContext(ctx, "scan aborted", slog.String("error", err.Error()))
		return report, err
	}

	logger.InfoContext(ctx, "scan complete",
		slog.Int("tracking_fetched", report.TrackingFetched),
		slog.Int("tracking_failed", report.TrackingFailed),
		slog.Int("tracking_skipped", report.TrackingSkipped),
		slog.Int("documents_created", report.DocumentsCreated),
		slog.Int("documents_failed", report.DocumentsFailed),
		slog.Int("terminal_failures", report.TerminalFailures),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// === Phase A: tracking backfill ===

func (s *Scanner) trackingPhase(ctx context.Context, sess *session.Session, report *Report, logger *slog.Logger) error {
	cache := sess.TrackingFailures()
	plan := PlanTracking(sess.Store().Snapshot(), s.cached(ctx, cache, logger))
	report.TrackingCandidates = len(plan.Selected)
	report.TrackingSkipped = plan.Skipped

	for _, b := range plan.Selected {
		if err := s.trackingLimit.Acquire(ctx, 1); err != nil {
			return err
		}
		err := s.backfillTracking(ctx, sess, b)
		s.trackingLimit.Release(1)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.metrics.RecordTrackingFetch(err == nil)
		if err == nil {
			report.TrackingFetched++
			continue
		}

		report.TrackingFailed++
		logger.DebugContext(ctx, "tracking backfill failed",
			slog.String("booking_sn", b.BookingSN),
			slog.Int64("shop_id", b.ShopID),
			slog.String("error", err.Error()),
		)
		s.remember(ctx, cache, "tracking", b.BookingSN, s.trackingFailure(), logger)
	}

	if report.TrackingFetched == 0 {
		return nil
	}

	if err := s.sleep(ctx, s.cfg.TrackingSettle); err != nil {
		return err
	}
	if err := sess.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WarnContext(ctx, "reload after tracking backfill failed", slog.String("error", err.Error()))
		return nil
	}
	report.TrackingReloaded = true
	return nil
}

// backfillTracking fetches, persists and applies one tracking number.
func (s *Scanner) backfillTracking(ctx context.Context, sess *session.Session, b model.Booking) error {
	info, err := s.ops.TrackingNumber(ctx, b.ShopID, b.BookingSN, "")
	if err != nil {
		return err
	}
	if err := s.backend.UpdateTracking(ctx, b.ShopID, b.BookingSN, info.TrackingNumber); err != nil {
		return err
	}
	sess.Store().Patch(b.BookingSN, session.Patch{TrackingNumber: info.TrackingNumber})
	return nil
}

func (s *Scanner) trackingFailure() negcache.Failure {
	if s.cfg.NegativeTTL > 0 {
		return negcache.Transient(s.now().Add(s.cfg.NegativeTTL))
	}
	return negcache.Permanent()
}

// === Phase B: document backfill ===

func (s *Scanner) documentPhase(ctx context.Context, sess *session.Session, report *Report, logger *slog.Logger) error {
	cache := sess.DocumentFailures()
	isCached := s.cached(ctx, cache, logger)

	s.mu.Lock()
	plan := PlanDocuments(sess.Store().Snapshot(), func(sn string) bool {
		if _, busy := s.inFlight[sn]; busy {
			return true
		}
		return isCached(sn)
	})
	for _, b := range plan.Selected {
		s.inFlight[b.BookingSN] = struct{}{}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for _, b := range plan.Selected {
			delete(s.inFlight, b.BookingSN)
		}
		s.mu.Unlock()
	}()

	report.DocumentCandidates = len(plan.Selected)
	report.DocumentSkipped = plan.Skipped
	if plan.IsEmpty() {
		return nil
	}

	// One create call per shop batch. Never retried here.
	report.Shops = s.dispatcher.Dispatch(ctx, plan.Selected, func(ctx context.Context, shopID int64, batch []model.Booking) (dispatch.Outcome, error) {
		res, err := s.ops.CreateDocuments(ctx, shopID, gateway.ItemsFor(batch), s.cfg.DocumentType)
		if err != nil {
			return dispatch.Outcome{}, err
		}
		// Only bookings the platform confirmed are READY in the backend.
		out := dispatch.Outcome{Succeeded: append(make([]string, 0, len(res.Succeeded)), res.Succeeded...)}
		for _, r := range res.Failed {
			out.Failed = append(out.Failed, dispatch.ItemFailure{BookingSN: r.BookingSN, Code: r.FailError, Message: r.FailMessage})
		}
		return out, nil
	})

	for _, shop := range report.Shops {
		for _, sn := range shop.SucceededSNs {
			sess.Store().Patch(sn, session.Patch{DocumentStatus: model.DocumentReady})
		}
		report.DocumentsCreated += shop.Succeeded
		report.DocumentsFailed += shop.Failed

		for _, f := range shop.Failures {
			// A batch-level error cannot be pinned on one booking.
			class := model.Classify(f.Code)
			if !class.Terminal() || f.Shared {
				report.UnclassifiedFailures++
				logger.WarnContext(ctx, "document creation failed",
					slog.String("booking_sn", f.BookingSN),
					slog.Int64("shop_id", shop.ShopID),
					slog.String("fail_error", f.Code),
					slog.String("fail_message", f.Message),
				)
				continue
			}
			report.TerminalFailures++
			logger.InfoContext(ctx, "document creation refused",
				slog.String("booking_sn", f.BookingSN),
				slog.Int64("shop_id", shop.ShopID),
				slog.String("fail_error", f.Code),
			)
			s.remember(ctx, cache, "document", f.BookingSN, negcache.Permanent(), logger)
		}
	}
	s.metrics.RecordDocuments(report.DocumentsCreated, report.DocumentsFailed)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if report.DocumentsCreated == 0 {
		return nil
	}

	if err := s.sleep(ctx, s.cfg.DocumentReloadDelay); err != nil {
		return err
	}
	if err := sess.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WarnContext(ctx, "reload after document backfill failed", slog.String("error", err.Error()))
		return nil
	}
	report.DocumentsReloaded = true
	return nil
}

// === Helpers ===

// cached returns a SkipFunc backed by cache. A lookup error skips the
// booking for this scan.
func (s *Scanner) cached(ctx context.Context, cache negcache.Cache, logger *slog.Logger) SkipFunc {
	return func(sn string) bool {
		hit, err := cache.Contains(ctx, sn)
		if err != nil {
			logger.WarnContext(ctx, "negative cache lookup failed",
				slog.String("booking_sn", sn),
				slog.String("error", err.Error()),
			)
			return true
		}
		return hit
	}
}

func (s *Scanner) remember(ctx context.Context, cache negcache.Cache, name, sn string, f negcache.Failure, logger *slog.Logger) {
	if err := cache.Add(ctx, sn, f); err != nil {
		logger.WarnContext(ctx, "negative cache add failed",
			slog.String("cache", name),
			slog.String("booking_sn", sn),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordNegativeCacheAdd(name, f.IsPermanent())
}

// sleepContext waits d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCancelled reports whether err came from scan cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
