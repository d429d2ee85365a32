package persistence

import (
	"errors"

	"github.com/weftlabs/weft/model"
)

// ErrNoSnapshot is returned by GetLatest when a run has never been
// snapshotted. Recovery then replays from sequence 0.
var ErrNoSnapshot = errors.New("no snapshot for run")

// EventLog is the append only, strictly ordered record of state changing
// occurrences for each run. It is the durable source of truth.
type EventLog interface {
	// Append persists a batch of events for one run. The batch is
	// all-or-nothing; sequences must continue the run's gapless,
	// strictly increasing sequence.
	Append(runID string, events []model.Event) error
	// Read returns events with sequence >= fromSequence in sequence
	// order.
	Read(runID string, fromSequence int64) ([]model.Event, error)
	// HighestSequence returns the highest persisted sequence for the
	// run, 0 when the run has no events.
	HighestSequence(runID string) (int64, error)
	// Runs lists run ids known to the log, for recovery sweeps.
	Runs() ([]string, error)
}

// SnapshotStore holds point in time captures of reconstructed run state.
// A snapshot is an optimization over full replay, never authoritative on
// its own; a newer snapshot supersedes older ones.
type SnapshotStore interface {
	Put(runID string, snapshot model.Snapshot) error
	GetLatest(runID string) (*model.Snapshot, error)
	Delete(runID string) error
}
