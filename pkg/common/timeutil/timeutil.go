// Package timeutil abstracts the wall clock so time-dependent components can
// be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Provider supplies the current time and elapsed durations.
type Provider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type realProvider struct{}

// Default returns a Provider backed by the system clock.
func Default() Provider { return realProvider{} }

func (realProvider) Now() time.Time                  { return time.Now() }
func (realProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// FixedProvider is a settable clock for tests.
type FixedProvider struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a FixedProvider frozen at now.
func NewFixed(now time.Time) *FixedProvider { return &FixedProvider{now: now} }

func (f *FixedProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FixedProvider) Since(t time.Time) time.Duration { return f.Now().Sub(t) }

// Advance moves the clock forward by d.
func (f *FixedProvider) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
