// Package service is the run control surface: it owns the registry of
// live coordinators and exposes start, status, cancel, wait and
// recovery operations to callers such as the REST layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/weftlabs/weft/coordinator"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"go.uber.org/zap"
)

var ErrRunNotFound = errors.New("run not found")

// RunService starts and tracks runs. Coordinators for terminal runs are
// dropped from the registry; their status stays reachable through the
// snapshot store.
type RunService struct {
	deps coordinator.Deps
	opts coordinator.Options

	mu   sync.RWMutex
	runs map[string]*coordinator.Coordinator
}

func NewRunService(deps coordinator.Deps, opts coordinator.Options) *RunService {
	return &RunService{
		deps: deps,
		opts: opts,
		runs: map[string]*coordinator.Coordinator{},
	}
}

// StartRun creates a coordinator for a new run and returns its id.
func (s *RunService) StartRun(req model.RunRequest) (string, error) {
	runID := uuid.New().String()
	c := coordinator.New(runID, s.deps, s.opts)
	if err := c.Start(req.WorkflowID, req.WorkflowVersion, req.Input); err != nil {
		return "", err
	}
	s.track(c)
	return runID, nil
}

// GetStatus reports a live run from its coordinator, or a finished run
// from its last snapshot.
func (s *RunService) GetStatus(runID string) (model.RunStatus, error) {
	s.mu.RLock()
	c, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return c.Status(), nil
	}
	snap, err := s.deps.Snapshots.GetLatest(runID)
	if err != nil {
		if errors.Is(err, persistence.ErrNoSnapshot) {
			return model.RunStatus{}, ErrRunNotFound
		}
		return model.RunStatus{}, err
	}
	st := model.RunStatus{
		RunID:           runID,
		WorkflowID:      snap.WorkflowID,
		WorkflowVersion: snap.WorkflowVersion,
		State:           snap.State,
		Error:           snap.Error,
	}
	if snap.State == model.RUN_COMPLETED && snap.Context != nil {
		st.Output = model.CopyDocument(snap.Context.Output)
	}
	if !snap.State.Terminal() {
		st.CurrentNode = snap.Token.NodeID
	}
	return st, nil
}

// Cancel asks a live run to stop. Unknown or already archived runs
// report ErrRunNotFound.
func (s *RunService) Cancel(runID string) error {
	s.mu.RLock()
	c, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	c.Cancel()
	return nil
}

// Wait blocks until the run reaches a terminal state or ctx expires,
// then reports the final status.
func (s *RunService) Wait(ctx context.Context, runID string) (model.RunStatus, error) {
	s.mu.RLock()
	c, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		// already archived, answer from the snapshot
		return s.GetStatus(runID)
	}
	select {
	case <-c.Done():
		return c.Status(), nil
	case <-ctx.Done():
		return model.RunStatus{}, ctx.Err()
	}
}

// Recover rebuilds one run after a restart and resumes it if it was not
// finished.
func (s *RunService) Recover(runID string) error {
	s.mu.RLock()
	_, live := s.runs[runID]
	s.mu.RUnlock()
	if live {
		return nil
	}
	c, err := coordinator.Recover(runID, s.deps, s.opts)
	if err != nil {
		return err
	}
	s.track(c)
	return nil
}

// RecoverAll walks every run the event log knows and recovers each one.
// Individual failures are logged and skipped so one corrupt run cannot
// block the rest.
func (s *RunService) RecoverAll() error {
	runIDs, err := s.deps.EventLog.Runs()
	if err != nil {
		return fmt.Errorf("listing runs for recovery: %w", err)
	}
	for _, runID := range runIDs {
		if err := s.Recover(runID); err != nil {
			logger.Error("skipping unrecoverable run", zap.String("runId", runID), zap.Error(err))
		}
	}
	return nil
}

// track registers a coordinator and archives it when the run ends.
func (s *RunService) track(c *coordinator.Coordinator) {
	s.mu.Lock()
	s.runs[c.RunID()] = c
	s.mu.Unlock()
	go func() {
		<-c.Done()
		c.WaitIdle()
		s.mu.Lock()
		delete(s.runs, c.RunID())
		s.mu.Unlock()
	}()
}

// LiveRuns reports how many coordinators are currently registered.
func (s *RunService) LiveRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// DrainAndStop cancels every live run, used on shutdown.
func (s *RunService) DrainAndStop() {
	s.mu.RLock()
	live := make([]*coordinator.Coordinator, 0, len(s.runs))
	for _, c := range s.runs {
		live = append(live, c)
	}
	s.mu.RUnlock()
	for _, c := range live {
		c.Cancel()
		<-c.Done()
		c.WaitIdle()
	}
}
