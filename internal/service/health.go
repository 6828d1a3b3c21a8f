package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/util"
)

// RunHistory is the read surface of the run log the aggregator depends on.
type RunHistory interface {
	LatestPerJob(ctx context.Context) ([]model.RunRecord, error)
	LatestSuccessPerJob(ctx context.Context) ([]model.RunRecord, error)
}

// HealthServiceOptions holds the dependencies for constructing a HealthService.
type HealthServiceOptions struct {
	Runs     RunHistory
	Registry *model.Registry
	Clock    data.TimeProvider
	Logger   *slog.Logger
	// Cache is optional; when set, derived views are cached briefly so the
	// endpoint is safe to poll at any frequency.
	Cache    redis.UniversalClient
	CacheTTL time.Duration
}

// HealthService derives per-job and overall health from the run log plus the
// static registry. It holds no state of its own: the view is recomputed (or
// served from a short-lived cache) on every query.
type HealthService struct {
	runs     RunHistory
	registry *model.Registry
	clock    data.TimeProvider
	logger   *slog.Logger
	cache    redis.UniversalClient
	cacheTTL time.Duration
}

const healthCacheKey = "feedsync:health:view"

// NewHealthService constructs a HealthService.
func NewHealthService(opts HealthServiceOptions) (*HealthService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run history is required")
	}
	if opts.Registry == nil {
		opts.Registry = &model.Registry{}
	}
	if opts.Clock == nil {
		opts.Clock = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &HealthService{
		runs:     opts.Runs,
		registry: opts.Registry,
		clock:    opts.Clock,
		logger:   opts.Logger,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
	}, nil
}

// View returns the derived health view, serving from cache when fresh.
// Cache failures degrade to recomputation, never to an error.
func (s *HealthService) View(ctx context.Context) (*model.HealthView, error) {
	if cached := s.fromCache(ctx); cached != nil {
		return cached, nil
	}

	view, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, view)
	return view, nil
}

func (s *HealthService) fromCache(ctx context.Context) *model.HealthView {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, healthCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "health cache read failed", "error", err)
		}
		return nil
	}
	var view model.HealthView
	if unmarshalErr := json.Unmarshal(raw, &view); unmarshalErr != nil {
		return nil
	}
	return &view
}

func (s *HealthService) toCache(ctx context.Context, view *model.HealthView) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if setErr := s.cache.Set(ctx, healthCacheKey, raw, s.cacheTTL).Err(); setErr != nil {
		s.logger.WarnContext(ctx, "health cache write failed", "error", setErr)
	}
}

// compute derives the view: one entry per job name appearing in either the run
// history or the registry, denylisted names excluded entirely so retired feeds
// don't raise permanent false alarms.
func (s *HealthService) compute(ctx context.Context) (*model.HealthView, error) {
	latest, err := s.runs.LatestPerJob(ctx)
	if err != nil {
		return nil, err
	}
	successes, err := s.runs.LatestSuccessPerJob(ctx)
	if err != nil {
		return nil, err
	}

	latestByJob := make(map[string]model.RunRecord, len(latest))
	for _, rec := range latest {
		latestByJob[rec.JobName] = rec
	}
	successByJob := make(map[string]model.RunRecord, len(successes))
	for _, rec := range successes {
		successByJob[rec.JobName] = rec
	}

	now := s.clock.Now()
	view := &model.HealthView{Status: model.StatusHealthy}

	for _, name := range s.jobNames(latestByJob) {
		spec, registered := s.registry.Lookup(name)
		health := s.deriveJob(deriveParams{
			name:       name,
			spec:       spec,
			registered: registered,
			latest:     latestByJob,
			success:    successByJob,
			now:        now,
		})
		view.Syncs = append(view.Syncs, health)
		tally(&view.Summary, health.State)
		view.Status = worstOf(view.Status, statusFor(health.State))
	}
	view.Summary.Total = len(view.Syncs)
	return view, nil
}

// jobNames returns the union of registry and history names, registry order
// first, denylist filtered.
func (s *HealthService) jobNames(latest map[string]model.RunRecord) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, spec := range s.registry.Jobs {
		if s.registry.Denied(spec.Name) {
			continue
		}
		seen[spec.Name] = struct{}{}
		names = append(names, spec.Name)
	}
	for name := range latest {
		if _, dup := seen[name]; dup {
			continue
		}
		if s.registry.Denied(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

type deriveParams struct {
	name       string
	spec       model.JobSpec
	registered bool
	latest     map[string]model.RunRecord
	success    map[string]model.RunRecord
	now        time.Time
}

func (s *HealthService) deriveJob(p deriveParams) model.JobHealth {
	health := model.JobHealth{
		JobName:               p.name,
		DisplayName:           p.spec.DisplayName,
		ExpectedIntervalHours: p.spec.ExpectedIntervalHours,
	}

	last, ran := p.latest[p.name]
	if !ran {
		// Registered but zero run records ever: critical regardless of schedule.
		health.State = model.HealthNeverRan
		health.NeverRan = true
		return health
	}
	lastCopy := last
	health.LastRun = &lastCopy
	health.LastRunDuration = util.FormatRunDuration(last.Duration())

	if lastSuccess, ok := p.success[p.name]; ok {
		hours := p.now.Sub(lastSuccess.CompletedAt).Hours()
		health.HoursSinceLastSuccess = &hours
		if p.registered && hours > float64(p.spec.ExpectedIntervalHours) {
			health.IsStale = true
		}
	} else if p.registered {
		// Has runs but zero successes: stale once the first interval passes.
		hours := p.now.Sub(last.StartedAt).Hours()
		if hours > float64(p.spec.ExpectedIntervalHours) {
			health.IsStale = true
		}
	}

	switch {
	case last.Status == model.RunStatusFailed:
		health.State = model.HealthFailed
	case health.IsStale:
		health.State = model.HealthStale
	case last.Status == model.RunStatusPartial:
		health.State = model.HealthPartial
	default:
		health.State = model.HealthOK
	}
	return health
}

func tally(summary *model.HealthSummary, state model.JobHealthState) {
	switch state {
	case model.HealthNeverRan:
		summary.NeverRan++
	case model.HealthStale:
		summary.Stale++
	case model.HealthFailed:
		summary.Failed++
	case model.HealthPartial:
		summary.Stale++ // partial counts toward the attention bucket
	case model.HealthOK:
		summary.Healthy++
	}
}

func statusFor(state model.JobHealthState) model.OverallStatus {
	switch state {
	case model.HealthNeverRan, model.HealthFailed:
		return model.StatusCritical
	case model.HealthStale, model.HealthPartial:
		return model.StatusWarning
	default:
		return model.StatusHealthy
	}
}

func worstOf(a, b model.OverallStatus) model.OverallStatus {
	rank := map[model.OverallStatus]int{
		model.StatusHealthy:  0,
		model.StatusWarning:  1,
		model.StatusCritical: 2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
