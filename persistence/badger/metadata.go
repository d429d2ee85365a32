package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/util"
)

// MetadataStorage keeps workflow and task definitions in the same
// badger database as the run data.
type MetadataStorage struct {
	db        *badger.DB
	wfCodec   util.EncoderDecoder[model.WorkflowDefinition]
	taskCodec util.EncoderDecoder[model.TaskDefinition]
}

func NewMetadataStorage(store *Store) *MetadataStorage {
	return &MetadataStorage{
		db:        store.db,
		wfCodec:   util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
		taskCodec: util.NewJsonEncoderDecoder[model.TaskDefinition](),
	}
}

func workflowKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("meta:wf:%s:%d", id, version))
}

func taskKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("meta:task:%s:%d", id, version))
}

func (m *MetadataStorage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	data, err := m.wfCodec.Encode(wf)
	if err != nil {
		return err
	}
	return m.set(workflowKey(wf.ID, wf.Version), data)
}

func (m *MetadataStorage) GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error) {
	var wf *model.WorkflowDefinition
	err := m.get(workflowKey(id, version), fmt.Sprintf("workflow definition %s:%d", id, version), func(val []byte) error {
		var derr error
		wf, derr = m.wfCodec.Decode(val)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (m *MetadataStorage) DeleteWorkflowDefinition(id string, version int) error {
	return m.delete(workflowKey(id, version))
}

func (m *MetadataStorage) SaveTaskDefinition(task model.TaskDefinition) error {
	data, err := m.taskCodec.Encode(task)
	if err != nil {
		return err
	}
	return m.set(taskKey(task.ID, task.Version), data)
}

func (m *MetadataStorage) GetTaskDefinition(id string, version int) (*model.TaskDefinition, error) {
	var task *model.TaskDefinition
	err := m.get(taskKey(id, version), fmt.Sprintf("task definition %s:%d", id, version), func(val []byte) error {
		var derr error
		task, derr = m.taskCodec.Decode(val)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (m *MetadataStorage) DeleteTaskDefinition(id string, version int) error {
	return m.delete(taskKey(id, version))
}

func (m *MetadataStorage) set(key, data []byte) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (m *MetadataStorage) get(key []byte, what string, decode func(val []byte) error) error {
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(decode)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s not found", what)
		}
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (m *MetadataStorage) delete(key []byte) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}
