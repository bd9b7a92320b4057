// Package ratelimit spaces out remote calls made on behalf of a single
// conversation. Callers are delayed, never rejected.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"chat-translator/internal/clock"
)

// DefaultInterval is the minimum gap between call starts when none is
// configured.
const DefaultInterval = 3 * time.Second

// Spacer enforces a minimum interval between successive call starts. Each
// conversation owns one Spacer; Spacers never block each other.
type Spacer struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewSpacer(interval time.Duration, clk clock.Clock) *Spacer {
	if interval < 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Spacer{clock: clk, interval: interval}
}

// reserve claims the next start slot and records it as the last call time in
// the same critical section, so two concurrent callers can never both observe
// that enough time has passed.
func (s *Spacer) reserve() (slot, previous time.Time, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	slot = now
	if !s.last.IsZero() {
		if next := s.last.Add(s.interval); next.After(now) {
			slot = next
		}
	}
	previous = s.last
	s.last = slot
	return slot, previous, slot.Sub(now)
}

// Wait blocks until the caller may start its call. If ctx ends first the
// reservation is released (when no later caller has stacked on it) and the
// context error is returned.
func (s *Spacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slot, previous, delay := s.reserve()
	if delay <= 0 {
		return nil
	}
	select {
	case <-s.clock.After(delay):
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.last.Equal(slot) {
			s.last = previous
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// LastCall returns the start time of the most recent reserved call, or the
// zero time if none has been made.
func (s *Spacer) LastCall() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Interval returns the configured minimum gap.
func (s *Spacer) Interval() time.Duration {
	return s.interval
}
