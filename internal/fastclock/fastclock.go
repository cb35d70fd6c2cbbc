// Package fastclock resolves configured periodic intervals against the
// FAST_TEST environment variable, // section as the single switch that collapses every periodic interval for
// tests.
package fastclock

import (
	"os"
	"time"
)

// Interval returns d, unless FAST_TEST is set in the environment, in which
// case it returns a minimal nonzero interval so timers and tickers built
// from it still fire promptly instead of requiring every caller to
// special-case a zero duration.
func Interval(d time.Duration) time.Duration {
	if os.Getenv("FAST_TEST") != "" {
		return time.Millisecond
	}
	return d
}
