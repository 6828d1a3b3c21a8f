// Package metrics standardises the sync lifecycle metric shapes.
package metrics

import (
	"time"

	"github.com/feedsync/feedsync/internal/observability/statsd"
)

// SyncMetric captures details about one sync invocation for metric emission.
type SyncMetric struct {
	JobName   string
	Status    string
	ErrorType string
	Duration  time.Duration
	Fetched   int
	Upserted  int
	Dropped   int
}

// EmitSyncRun emits standardised sync run metrics. A nil sink is a no-op.
func EmitSyncRun(sink statsd.Sink, in SyncMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job":    in.JobName,
		"status": in.Status,
	}
	if in.ErrorType != "" {
		tags["error_type"] = in.ErrorType
	}

	sink.Count("sync.run", 1, tags)
	sink.Count("sync.records.fetched", int64(in.Fetched), tags)
	sink.Count("sync.records.upserted", int64(in.Upserted), tags)
	if in.Dropped > 0 {
		sink.Count("sync.records.dropped", int64(in.Dropped), tags)
	}
	if in.Duration > 0 {
		sink.Timing("sync.duration", in.Duration, tags)
	}
}
