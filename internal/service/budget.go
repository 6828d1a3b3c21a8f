package service

import (
	"time"

	"github.com/feedsync/feedsync/internal/data"
)

// Budget enforces a soft deadline inside one invocation. It is polled at
// pagination-iteration boundaries only; a slow call inside one iteration can
// overrun, which is accepted as bounded and rare rather than engineering hard
// preemption.
type Budget struct {
	startedAt time.Time
	deadline  time.Duration
	clock     data.TimeProvider
}

// StartBudget begins a budget window now. A nil TimeProvider uses real time.
func StartBudget(deadline time.Duration, tp data.TimeProvider) *Budget {
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &Budget{startedAt: tp.Now(), deadline: deadline, clock: tp}
}

// StartedAt returns when the budget window opened.
func (b *Budget) StartedAt() time.Time {
	return b.startedAt
}

// Elapsed returns time spent since the window opened.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.startedAt)
}

// Remaining returns how much budget is left; negative once exceeded.
func (b *Budget) Remaining() time.Duration {
	return b.deadline - b.Elapsed()
}

// Exceeded reports whether the soft deadline has passed. A job seeing true
// must stop fetching immediately, persist its cursor and report a partial run.
func (b *Budget) Exceeded() bool {
	if b.deadline <= 0 {
		return false
	}
	return b.Remaining() <= 0
}
