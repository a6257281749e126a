package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"booking-proxy/internal/backend"
	"booking-proxy/internal/model"
	"booking-proxy/internal/negcache"
)

// Loader lists bookings from the durable store.
type Loader interface {
	ListBookings(ctx context.Context, f backend.Filter) ([]model.Booking, error)
}

// ErrBusy is returned by TryExclusive when another exclusive holder is active.
var ErrBusy = errors.New("session busy")

// Session is one operator session: the loaded booking list, the negative
// caches that live as long as the session, and the exclusive lock that keeps
// the scanner and the print coordinator from interleaving.
type Session struct {
	ID string

	store     *Store
	loader    Loader
	tracking  negcache.Cache
	documents negcache.Cache
	logger    *slog.Logger

	exclusive *semaphore.Weighted

	mu        sync.Mutex
	filter    backend.Filter
	loaded    bool
	listeners []func(Event)
}

// Event is emitted when a booking list has been loaded by an operator.
type Event struct {
	SessionID string
	Filter    backend.Filter
	Count     int
}

// New creates a session. An empty id generates a random one.
func New(id string, loader Loader, tracking, documents negcache.Cache, logger *slog.Logger) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:        id,
		store:     NewStore(),
		loader:    loader,
		tracking:  tracking,
		documents: documents,
		logger:    logger,
		exclusive: semaphore.NewWeighted(1),
	}
}

// Store returns the session's booking store.
func (s *Session) Store() *Store { return s.store }

// TrackingFailures returns the negative cache for tracking fetches.
func (s *Session) TrackingFailures() negcache.Cache { return s.tracking }

// DocumentFailures returns the negative cache for terminal document failures.
func (s *Session) DocumentFailures() negcache.Cache { return s.documents }

// OnLoad registers fn to be called after every Load.
// fn runs synchronously and must not block.
func (s *Session) OnLoad(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load fetches bookings matching f, replaces the store and emits a load event.
func (s *Session) Load(ctx context.Context, f backend.Filter) ([]model.Booking, error) {
	bookings, err := s.loader.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("loading bookings: %w", err)
	}
	s.store.Replace(bookings)

	s.mu.Lock()
	s.filter = f
	s.loaded = true
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()

	ev := Event{SessionID: s.ID, Filter: f, Count: len(bookings)}
	for _, fn := range listeners {
		fn(ev)
	}
	return s.store.Snapshot(), nil
}

// Reload refreshes the store with the last filter without emitting an event.
// It is a no-op before the first Load.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	f, loaded := s.filter, s.loaded
	s.mu.Unlock()
	if !loaded {
		return nil
	}

	bookings, err := s.loader.ListBookings(ctx, f)
	if err != nil {
		return fmt.Errorf("reloading bookings: %w", err)
	}
	s.store.Replace(bookings)
	return nil
}

// Filter returns the last load filter and whether a load has happened.
func (s *Session) Filter() (backend.Filter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter, s.loaded
}

// Exclusive blocks until the session lock is held or ctx is done.
// Call the returned function to release.
func (s *Session) Exclusive(ctx context.Context) (func(), error) {
	if err := s.exclusive.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.exclusive.Release(1) }, nil
}

// TryExclusive takes the session lock without waiting.
func (s *Session) TryExclusive() (func(), error) {
	if !s.exclusive.TryAcquire(1) {
		return nil, ErrBusy
	}
	return func() { s.exclusive.Release(1) }, nil
}

// Reset ends the negative-cache lifetime: both caches are cleared.
func (s *Session) Reset(ctx context.Context) error {
	var errs []error
	if err := s.tracking.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.documents.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session reset", slog.String("session_id", s.ID))
	return nil
}
