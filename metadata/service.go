package metadata

import (
	"github.com/weftlabs/weft/definition"
	"github.com/weftlabs/weft/model"
)

// Service fronts definition storage with deploy time validation.
// Definitions are immutable once saved; a changed graph is a new version.
type Service struct {
	storage Storage
}

func NewService(storage Storage) *Service {
	return &Service{storage: storage}
}

func (s *Service) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	if err := definition.Validate(&wf); err != nil {
		return err
	}
	return s.storage.SaveWorkflowDefinition(wf)
}

func (s *Service) GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error) {
	return s.storage.GetWorkflowDefinition(id, version)
}

func (s *Service) SaveTaskDefinition(task model.TaskDefinition) error {
	if err := definition.ValidateTask(&task); err != nil {
		return err
	}
	return s.storage.SaveTaskDefinition(task)
}

func (s *Service) GetTaskDefinition(id string, version int) (*model.TaskDefinition, error) {
	return s.storage.GetTaskDefinition(id, version)
}

var _ definition.Loader = (*Service)(nil)
