// Package negcache remembers booking serials whose last external call failed
// so the reconciliation scanner does not hammer them again within a session.
package negcache

import (
	"context"
	"sync"
	"time"
)

// Failure describes how long a negative entry stays valid.
// The zero value is Permanent.
type Failure struct {
	expiresAt time.Time
}

// Permanent returns a failure that lasts until the cache is cleared.
func Permanent() Failure {
	return Failure{}
}

// Transient returns a failure that expires at the given instant.
func Transient(expiresAt time.Time) Failure {
	return Failure{expiresAt: expiresAt}
}

// IsPermanent reports whether the failure never expires on its own.
func (f Failure) IsPermanent() bool {
	return f.expiresAt.IsZero()
}

// ExpiresAt returns the expiry instant; zero for permanent failures.
func (f Failure) ExpiresAt() time.Time {
	return f.expiresAt
}

// Expired reports whether a transient failure has lapsed at now.
func (f Failure) Expired(now time.Time) bool {
	return !f.IsPermanent() && !now.Before(f.expiresAt)
}

// Cache is a set of booking serials with failure lifetimes.
// A serial present in the cache is excluded from the matching scanner phase.
type Cache interface {
	Add(ctx context.Context, bookingSN string, f Failure) error
	Contains(ctx context.Context, bookingSN string) (bool, error)
	Clear(ctx context.Context) error
}

// Memory is a process-local Cache. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Failure
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Failure),
		now:     time.Now,
	}
}

// WithClock overrides the time source used to expire transient entries.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Add records a failure for bookingSN, replacing any earlier entry.
func (m *Memory) Add(_ context.Context, bookingSN string, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[bookingSN] = f
	return nil
}

// Contains reports whether bookingSN holds an unexpired failure.
// Expired entries are dropped on lookup.
func (m *Memory) Contains(_ context.Context, bookingSN string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.entries[bookingSN]
	if !ok {
		return false, nil
	}
	if f.Expired(m.now()) {
		delete(m.entries, bookingSN)
		return false, nil
	}
	return true, nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Failure)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)
