package metadata

import "github.com/weftlabs/weft/model"

// Storage is the narrow read/write surface over externally authored,
// immutable, versioned definitions. The engine only reads; the write
// side exists for the deployment surface.
type Storage interface {
	SaveWorkflowDefinition(wf model.WorkflowDefinition) error
	GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error)
	DeleteWorkflowDefinition(id string, version int) error
	SaveTaskDefinition(task model.TaskDefinition) error
	GetTaskDefinition(id string, version int) (*model.TaskDefinition, error)
	DeleteTaskDefinition(id string, version int) error
}
