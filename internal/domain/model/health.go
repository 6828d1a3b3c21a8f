package model

// JobHealthState classifies one job's condition, derived from its latest run
// record and the registry. Recomputed on every health query, never stored.
type JobHealthState string

const (
	// HealthNeverRan means the job is registered but has zero run records.
	// Always critical regardless of schedule.
	HealthNeverRan JobHealthState = "never_ran"
	// HealthStale means the latest success is older than the expected interval.
	HealthStale JobHealthState = "stale"
	// HealthFailed means the latest run ended with status failed.
	HealthFailed JobHealthState = "failed"
	// HealthPartial means the latest run was partial and the job is not yet stale.
	HealthPartial JobHealthState = "partial"
	// HealthOK means the latest run succeeded and the job is not stale.
	HealthOK JobHealthState = "healthy"
)

// OverallStatus is the worst-of rollup across all aggregated jobs.
type OverallStatus string

const (
	// StatusHealthy means every job is healthy.
	StatusHealthy OverallStatus = "healthy"
	// StatusWarning means at least one job is stale or partial.
	StatusWarning OverallStatus = "warning"
	// StatusCritical means at least one job never ran or failed outright.
	StatusCritical OverallStatus = "critical"
)

// JobHealth is the derived health view for a single job.
type JobHealth struct {
	JobName               string         `json:"job_name"`
	DisplayName           string         `json:"display_name,omitempty"`
	State                 JobHealthState `json:"state"`
	LastRun               *RunRecord     `json:"last_run,omitempty"`
	LastRunDuration       string         `json:"last_run_duration,omitempty"`
	HoursSinceLastSuccess *float64       `json:"hours_since_last_success,omitempty"`
	ExpectedIntervalHours int            `json:"expected_interval_hours,omitempty"`
	IsStale               bool           `json:"is_stale"`
	NeverRan              bool           `json:"never_ran"`
}

// HealthSummary is the rollup counts block in the health response.
type HealthSummary struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Stale    int `json:"stale"`
	Failed   int `json:"failed"`
	NeverRan int `json:"neverRan"`
}

// HealthView is the full derived health response.
type HealthView struct {
	Status  OverallStatus `json:"status"`
	Syncs   []JobHealth   `json:"syncs"`
	Summary HealthSummary `json:"summary"`
}
