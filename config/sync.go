package config

import (
	"strings"
	"time"
)

// SyncConfig contains the sync runtime configuration shared by every job:
// run budget, lease margin, retry policy, batch sizing, and health caching.
type SyncConfig struct {
	// RegistryPath is the path to the TOML job registry file.
	RegistryPath string `env:"SYNC_REGISTRY_PATH" envDefault:"jobs.toml"`

	// Budget is the soft deadline for a single sync run. A run that is
	// still fetching when the budget elapses stops after the current batch
	// and records a partial result. Zero disables the budget.
	Budget time.Duration `env:"SYNC_BUDGET" envDefault:"4m"`

	// LeaseMargin is added to the budget to size the lease TTL, so a
	// crashed holder's lease expires shortly after its budget would have.
	LeaseMargin time.Duration `env:"SYNC_LEASE_MARGIN" envDefault:"60s"`

	// MaxRetries is the number of retries after the first failed attempt
	// of a transient upstream call.
	MaxRetries int `env:"SYNC_MAX_RETRIES" envDefault:"3"`

	// RetryBaseDelay is the first backoff delay; subsequent delays double.
	RetryBaseDelay time.Duration `env:"SYNC_RETRY_BASE_DELAY" envDefault:"2s"`

	// AttemptTimeout bounds each individual upstream attempt.
	AttemptTimeout time.Duration `env:"SYNC_ATTEMPT_TIMEOUT" envDefault:"60s"`

	// BatchSize is the number of rows per upsert statement.
	BatchSize int `env:"SYNC_BATCH_SIZE" envDefault:"500"`

	// RecordSkips controls whether lease-contended runs append a skipped
	// row to the run log.
	RecordSkips bool `env:"SYNC_RECORD_SKIPS" envDefault:"false"`

	// HealthCacheTTL is how long the computed health view is cached in
	// Redis. Zero disables caching.
	HealthCacheTTL time.Duration `env:"SYNC_HEALTH_CACHE_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to sync configuration values.
func (s *SyncConfig) Sanitize() {
	s.RegistryPath = strings.TrimSpace(s.RegistryPath)
	if s.Budget < 0 {
		s.Budget = 0
	}
	if s.LeaseMargin < 30*time.Second {
		s.LeaseMargin = 30 * time.Second
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = 2 * time.Second
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 60 * time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.HealthCacheTTL < 0 {
		s.HealthCacheTTL = 0
	}
}
