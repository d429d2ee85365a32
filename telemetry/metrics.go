package telemetry

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var (
	MRunsStarted      = stats.Int64("weft/runs_started", "runs started", stats.UnitDimensionless)
	MRunsCompleted    = stats.Int64("weft/runs_completed", "runs completed", stats.UnitDimensionless)
	MRunsFailed       = stats.Int64("weft/runs_failed", "runs failed", stats.UnitDimensionless)
	MRunsCancelled    = stats.Int64("weft/runs_cancelled", "runs cancelled", stats.UnitDimensionless)
	MRunsRecovered    = stats.Int64("weft/runs_recovered", "runs recovered after restart", stats.UnitDimensionless)
	MTasksDispatched  = stats.Int64("weft/tasks_dispatched", "tasks dispatched", stats.UnitDimensionless)
	MTaskTimeouts     = stats.Int64("weft/task_timeouts", "task dispatch deadlines expired", stats.UnitDimensionless)
	MEventsAppended   = stats.Int64("weft/events_appended", "events appended to the log", stats.UnitDimensionless)
	MSnapshotsWritten = stats.Int64("weft/snapshots_written", "snapshots written", stats.UnitDimensionless)
)

// RegisterViews installs count views for all engine measures.
func RegisterViews() error {
	views := make([]*view.View, 0)
	for _, m := range []*stats.Int64Measure{
		MRunsStarted, MRunsCompleted, MRunsFailed, MRunsCancelled, MRunsRecovered,
		MTasksDispatched, MTaskTimeouts, MEventsAppended, MSnapshotsWritten,
	} {
		views = append(views, &view.View{
			Name:        m.Name(),
			Description: m.Description(),
			Measure:     m,
			Aggregation: view.Count(),
		})
	}
	return view.Register(views...)
}

// Count records n occurrences of measure m.
func Count(m *stats.Int64Measure, n int64) {
	stats.Record(context.Background(), m.M(n))
}
