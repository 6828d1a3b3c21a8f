package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server with the sync trigger and health endpoints.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the cron scheduler that fires syncs on their schedules.
	ServiceModeScheduler ServiceMode = "scheduler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains cron scheduler service configuration.
type SchedulerConfig struct {
	// Timezone is the IANA timezone the cron expressions are evaluated in.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`

	// StartupJitter delays the first scheduled fire after boot so a fleet
	// of restarting replicas does not stampede the upstream APIs.
	StartupJitter time.Duration `env:"SCHEDULER_STARTUP_JITTER" envDefault:"0s"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = "UTC"
	}
	if s.StartupJitter < 0 {
		s.StartupJitter = 0
	}
}
