// Package job holds invocation-scoped policy types shared by the sync runtime.
package job

import (
	"errors"
	"time"
)

// ErrInvalidBudget indicates the configured time budget is not positive.
var ErrInvalidBudget = errors.New("time budget must be positive")

// minMargin keeps the lease from expiring mid-run even for tiny budgets.
const minMargin = 30 * time.Second

// LeasePolicy derives a job's lease TTL from its soft time budget. The TTL
// must comfortably exceed the worst-case single invocation so a live lease
// always means a live run; self-expiry is the fallback, not the mechanism.
type LeasePolicy struct {
	budget time.Duration
	margin time.Duration
}

// NewLeasePolicy constructs a LeasePolicy for the given budget and margin.
// A margin below the minimum supported value is clamped.
func NewLeasePolicy(budget, margin time.Duration) (*LeasePolicy, error) {
	if budget <= 0 {
		return nil, ErrInvalidBudget
	}
	if margin < minMargin {
		margin = minMargin
	}
	return &LeasePolicy{budget: budget, margin: margin}, nil
}

// Budget returns the soft deadline the governor enforces.
func (p *LeasePolicy) Budget() time.Duration {
	if p == nil {
		return 0
	}
	return p.budget
}

// TTL returns the lease duration: budget plus margin.
func (p *LeasePolicy) TTL() time.Duration {
	if p == nil {
		return 0
	}
	return p.budget + p.margin
}
