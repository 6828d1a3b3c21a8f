package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobSpec is one static registry entry describing a feed that is expected to run
// on a schedule. Registry entries are configuration, not runtime state; the
// health aggregator uses them to detect feeds that should run but never have.
type JobSpec struct {
	// Name is the unique job identifier used for leases, checkpoints and run records.
	Name string `toml:"name"`
	// DisplayName is the human-readable label surfaced by the health endpoint.
	DisplayName string `toml:"display_name"`
	// ExpectedIntervalHours is the staleness threshold: a job whose last success
	// is older than this is flagged stale.
	ExpectedIntervalHours int `toml:"expected_interval_hours"`
	// Schedule is an optional cron expression for the in-process scheduler mode.
	Schedule string `toml:"schedule"`
	// PageSize overrides the default fetch page size for this feed.
	PageSize int `toml:"page_size"`
	// CoverageThreshold, when > 0, marks the run partial if the parent/child
	// coverage fraction falls below it even though no step errored.
	CoverageThreshold float64 `toml:"coverage_threshold"`
}

// ExpectedInterval returns the staleness threshold as a duration.
func (s JobSpec) ExpectedInterval() time.Duration {
	return time.Duration(s.ExpectedIntervalHours) * time.Hour
}

// Validate checks the spec for obviously broken configuration.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("job name is required")
	}
	if s.ExpectedIntervalHours <= 0 {
		return fmt.Errorf("job %s: expected_interval_hours must be positive", s.Name)
	}
	if s.CoverageThreshold < 0 || s.CoverageThreshold > 1 {
		return fmt.Errorf("job %s: coverage_threshold must be in [0, 1]", s.Name)
	}
	return nil
}

// Registry is the static catalogue of scheduled feeds plus the denylist of
// retired job names excluded from health aggregation.
type Registry struct {
	Jobs     []JobSpec `toml:"jobs"`
	Denylist []string  `toml:"denylist"`
}

// Validate checks every entry and rejects duplicate job names.
func (r *Registry) Validate() error {
	seen := make(map[string]struct{}, len(r.Jobs))
	for _, spec := range r.Jobs {
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("duplicate job name: %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}

// Lookup returns the spec for the given job name.
func (r *Registry) Lookup(name string) (JobSpec, bool) {
	for _, spec := range r.Jobs {
		if spec.Name == name {
			return spec, true
		}
	}
	return JobSpec{}, false
}

// Denied reports whether the job name is on the denylist.
func (r *Registry) Denied(name string) bool {
	for _, d := range r.Denylist {
		if d == name {
			return true
		}
	}
	return false
}
