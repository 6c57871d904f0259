// Package clock provides the monotonic-ish microsecond offsets and
// wall-clock seconds that the telemetry store uses as sort scores and
// bucket keys.
package clock

import "time"

// Source exposes the two time primitives the rule engine needs. The default
// implementation is backed by a fixed epoch; tests substitute a fake with a
// controllable "now".
type Source struct {
	epoch time.Time
	now   func() time.Time
}

// New returns a Source anchored at the given epoch (e.g. 2023-10-01T00:00:00Z).
// A zero epoch falls back to that default.
func New(epoch time.Time) *Source {
	if epoch.IsZero() {
		epoch = time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Source{epoch: epoch, now: time.Now}
}

// NewWithNow returns a Source driven by a caller-supplied clock, for tests.
func NewWithNow(epoch time.Time, now func() time.Time) *Source {
	s := New(epoch)
	s.now = now
	return s
}

// NowMicros returns microseconds elapsed since the epoch. It is derived from
// a time.Duration, so it stops advancing about 292 years after the epoch.
func (s *Source) NowMicros() int64 {
	return s.now().Sub(s.epoch).Microseconds()
}

// NowSeconds returns the current wall-clock time as Unix seconds.
func (s *Source) NowSeconds() int64 {
	return s.now().Unix()
}

// Now returns the current wall-clock time, for human-readable log lines.
func (s *Source) Now() time.Time {
	return s.now()
}
