// Package clock abstracts the time operations used by the rate limiter and
// the retry loop so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the pipeline depends on.
// Production code uses Real; tests use Fake and advance it explicitly.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If d <= 0
	// the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
