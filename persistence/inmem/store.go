// Package inmem holds the in process storage implementations used by the
// memory storage type and by tests.
package inmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
)

type Store struct {
	mu        sync.Mutex
	events    map[string][]model.Event
	snapshots map[string]model.Snapshot
}

var _ persistence.EventLog = new(Store)
var _ persistence.SnapshotStore = new(Store)

func NewStore() *Store {
	return &Store{
		events:    make(map[string][]model.Event),
		snapshots: make(map[string]model.Snapshot),
	}
}

func (s *Store) Append(runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.events[runID]
	next := int64(1)
	if len(existing) > 0 {
		next = existing[len(existing)-1].Sequence + 1
	}
	for i, ev := range events {
		if ev.Sequence != next+int64(i) {
			return model.StorageLayerError{Message: fmt.Sprintf("non contiguous sequence %d for run %s, expected %d", ev.Sequence, runID, next+int64(i))}
		}
	}
	s.events[runID] = append(existing, events...)
	return nil
}

func (s *Store) Read(runID string, fromSequence int64) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	idx := sort.Search(len(all), func(i int) bool {
		return all[i].Sequence >= fromSequence
	})
	out := make([]model.Event, len(all)-idx)
	copy(out, all[idx:])
	return out, nil
}

func (s *Store) HighestSequence(runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	if len(all) == 0 {
		return 0, nil
	}
	return all[len(all)-1].Sequence, nil
}

func (s *Store) Runs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for runID := range s.events {
		out = append(out, runID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Put(runID string, snapshot model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[runID] = snapshot
	return nil
}

func (s *Store) GetLatest(runID string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[runID]
	if !ok {
		return nil, persistence.ErrNoSnapshot
	}
	return &snap, nil
}

func (s *Store) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, runID)
	return nil
}
