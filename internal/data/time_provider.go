package data

import "time"

// TimeProvider is the clock seam used by repositories so lease expiry and
// staleness math can be driven deterministically in tests.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider is the production clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider is a settable test clock. Not safe for concurrent
// mutation; tests advance it from a single goroutine.
type FixedTimeProvider struct {
	fixedTime time.Time
}

// NewFixedTimeProvider returns a clock pinned at t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{fixedTime: t}
}

// Now returns the pinned time.
func (f *FixedTimeProvider) Now() time.Time {
	return f.fixedTime
}

// SetTime re-pins the clock to t.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.fixedTime = t
}

// AddTime advances the pinned time by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.fixedTime = f.fixedTime.Add(d)
}
