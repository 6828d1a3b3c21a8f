package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownJob is returned when a trigger names a job nobody registered.
var ErrUnknownJob = errors.New("unknown job")

// JobRunner holds the registered job definitions and runs them through the
// shared syncer. The HTTP triggers and the cron scheduler both go through it.
type JobRunner struct {
	syncer *Syncer
	jobs   map[string]JobDefinition
}

// NewJobRunner creates a runner with no jobs registered.
func NewJobRunner(syncer *Syncer) (*JobRunner, error) {
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}
	return &JobRunner{
		syncer: syncer,
		jobs:   make(map[string]JobDefinition),
	}, nil
}

// Register adds a job definition. Duplicate names are a wiring bug.
func (r *JobRunner) Register(def JobDefinition) error {
	if def.Name == "" {
		return errors.New("job name is required")
	}
	if _, exists := r.jobs[def.Name]; exists {
		return fmt.Errorf("job %s already registered", def.Name)
	}
	r.jobs[def.Name] = def
	return nil
}

// RunJob executes the named job once. The returned outcome carries the run
// status; the error is only non-nil for unknown names.
func (r *JobRunner) RunJob(ctx context.Context, name string) (RunOutcome, error) {
	def, ok := r.jobs[name]
	if !ok {
		return RunOutcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.syncer.Run(ctx, def), nil
}

// Names returns the registered job names, sorted.
func (r *JobRunner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a job is registered.
func (r *JobRunner) Has(name string) bool {
	_, ok := r.jobs[name]
	return ok
}
