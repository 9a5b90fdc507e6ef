// Package ratelog throttles noisy repeated log lines (spec §7 "log once
// per minute per kind" for pool/port exhaustion) to a single occurrence per
// window, wrapping golang.org/x/time/rate.Sometimes.
package ratelog

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter runs its callback at most once per Interval.
type Limiter struct {
	s rate.Sometimes
}

// Every builds a Limiter that fires at most once per window, always firing
// the first time it is used.
func Every(window time.Duration) *Limiter {
	return &Limiter{s: rate.Sometimes{Interval: window}}
}

// Do runs f if the window has elapsed since the last time it ran.
func (l *Limiter) Do(f func()) {
	l.s.Do(f)
}
