// Package worker runs reconciliation scans in the background, one at a time,
// whenever an operator loads a booking list.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"booking-proxy/internal/reconcile"
	"booking-proxy/internal/session"
)

// Scanner runs one reconciliation scan. The caller holds the session's
// exclusive lock.
type Scanner interface {
	Scan(ctx context.Context, sess *session.Session) (*reconcile.Report, error)
}

// Options tunes a Worker.
type Options struct {
	// PreDelay is waited after a trigger before the scan starts so the push
	// channel can land its updates first.
	PreDelay time.Duration

	// Interval reloads the last filter periodically, which triggers a scan.
	// Zero disables the backstop.
	Interval time.Duration
}

// Worker owns the scan loop for one session.
//
// Triggers are coalesced: while a scan is pending only one is queued. A load
// event arriving during a running scan queues exactly one follow-up, since
// the new list may not be covered by the running scan's reloads.
type Worker struct {
	sess    *session.Session
	scanner Scanner
	opts    Options
	logger  *slog.Logger

	trigger chan struct{}

	mu      sync.Mutex
	pending bool
	running bool
	last    *reconcile.Report
	lastErr error

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Worker and subscribes it to the session's load events.
func New(sess *session.Session, scanner Scanner, opts Options, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		sess:    sess,
		scanner: scanner,
		opts:    opts,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		sleep:   sleepContext,
	}
	sess.OnLoad(w.notify)
	return w
}

// WithSleep replaces the delay function. Tests use it to skip the pre-delay.
func (w *Worker) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Worker {
	w.sleep = fn
	return w
}

// notify handles a "booking list loaded" event.
func (w *Worker) notify(ev session.Event) {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = true
	w.mu.Unlock()

	w.logger.Debug("scan queued",
		slog.String("session_id", ev.SessionID),
		slog.Int("bookings", ev.Count),
	)
	w.signal()
}

// Trigger queues a manual scan. It returns false when a scan is already
// pending or running.
func (w *Worker) Trigger() bool {
	w.mu.Lock()
	if w.pending || w.running {
		w.mu.Unlock()
		return false
	}
	w.pending = true
	w.mu.Unlock()

	w.signal()
	return true
}

func (w *Worker) signal() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Busy reports whether a scan is pending or running.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending || w.running
}

// LastReport returns the most recent completed scan report, if any.
func (w *Worker) LastReport() (*reconcile.Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.lastErr
}

// Run processes triggers until ctx is cancelled. Cancellation aborts a scan
// in progress; no external call is issued after Run returns.
func (w *Worker) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.logger.Info("scan worker started",
		slog.String("session_id", w.sess.ID),
		slog.Duration("pre_delay", w.opts.PreDelay),
		slog.Duration("interval", w.opts.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("scan worker stopped", slog.String("session_id", w.sess.ID))
			return nil
		case <-tick:
			w.backstop(ctx)
		case <-w.trigger:
			if err := w.runOnce(ctx); err != nil && !reconcile.IsCancelled(err) {
				w.logger.Error("scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runOnce waits the pre-delay, takes the session lock and scans.
func (w *Worker) runOnce(ctx context.Context) error {
	if err := w.sleep(ctx, w.opts.PreDelay); err != nil {
		return err
	}

	release, err := w.sess.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer release()

	w.mu.Lock()
	w.pending = false
	w.running = true
	w.mu.Unlock()

	report, err := w.scanner.Scan(ctx, w.sess)

	w.mu.Lock()
	w.running = false
	if report != nil {
		w.last = report
	}
	w.lastErr = err
	w.mu.Unlock()

	return err
}

// backstop reloads the last filter under the session lock. The load event it
// emits queues the next scan.
func (w *Worker) backstop(ctx context.Context) {
	f, loaded := w.sess.Filter()
	if !loaded || w.Busy() {
		return
	}

	release, err := w.sess.Exclusive(ctx)
	if err != nil {
		return
	}
	defer release()

	if _, err := w.sess.Load(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("backstop reload failed", slog.String("error", err.Error()))
	}
}

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
