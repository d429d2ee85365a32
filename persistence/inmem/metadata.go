package inmem

import (
	"fmt"
	"sync"

	"github.com/weftlabs/weft/metadata"
	"github.com/weftlabs/weft/model"
)

type MetadataStorage struct {
	mu        sync.Mutex
	workflows map[string]model.WorkflowDefinition
	tasks     map[string]model.TaskDefinition
}

var _ metadata.Storage = new(MetadataStorage)

func NewMetadataStorage() *MetadataStorage {
	return &MetadataStorage{
		workflows: make(map[string]model.WorkflowDefinition),
		tasks:     make(map[string]model.TaskDefinition),
	}
}

func defKey(id string, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func (s *MetadataStorage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[defKey(wf.ID, wf.Version)] = wf
	return nil
}

func (s *MetadataStorage) GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[defKey(id, version)]
	if !ok {
		return nil, fmt.Errorf("workflow %s version %d not found", id, version)
	}
	return &wf, nil
}

func (s *MetadataStorage) DeleteWorkflowDefinition(id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, defKey(id, version))
	return nil
}

func (s *MetadataStorage) SaveTaskDefinition(task model.TaskDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[defKey(task.ID, task.Version)] = task
	return nil
}

func (s *MetadataStorage) GetTaskDefinition(id string, version int) (*model.TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[defKey(id, version)]
	if !ok {
		return nil, fmt.Errorf("task %s version %d not found", id, version)
	}
	return &task, nil
}

func (s *MetadataStorage) DeleteTaskDefinition(id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, defKey(id, version))
	return nil
}
