package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/weftlabs/weft/metadata"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/util"
)

const METADATA_WF_KEY string = "METADATA_WF"
const METADATA_TASK_KEY string = "METADATA_TASK"

type redisMetadataStorage struct {
	baseDao
	wfEncDec   util.EncoderDecoder[model.WorkflowDefinition]
	taskEncDec util.EncoderDecoder[model.TaskDefinition]
}

var _ metadata.Storage = new(redisMetadataStorage)

func NewRedisMetadataStorage(conf Config) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:    *newBaseDao(conf),
		wfEncDec:   util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
		taskEncDec: util.NewJsonEncoderDecoder[model.TaskDefinition](),
	}
}

func versionedField(id string, version int) string {
	return id + ":" + strconv.Itoa(version)
}

func (rm *redisMetadataStorage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	key := rm.getNamespaceKey(METADATA_WF_KEY)
	data, err := rm.wfEncDec.Encode(wf)
	if err != nil {
		return err
	}
	if err := rm.redisClient.HSet(context.Background(), key, []string{versionedField(wf.ID, wf.Version), string(data)}).Err(); err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error) {
	key := rm.getNamespaceKey(METADATA_WF_KEY)
	raw, err := rm.redisClient.HGet(context.Background(), key, versionedField(id, version)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("workflow %s version %d not found", id, version)
		}
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return rm.wfEncDec.Decode([]byte(raw))
}

func (rm *redisMetadataStorage) DeleteWorkflowDefinition(id string, version int) error {
	key := rm.getNamespaceKey(METADATA_WF_KEY)
	if err := rm.redisClient.HDel(context.Background(), key, versionedField(id, version)).Err(); err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) SaveTaskDefinition(task model.TaskDefinition) error {
	key := rm.getNamespaceKey(METADATA_TASK_KEY)
	data, err := rm.taskEncDec.Encode(task)
	if err != nil {
		return err
	}
	if err := rm.redisClient.HSet(context.Background(), key, []string{versionedField(task.ID, task.Version), string(data)}).Err(); err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rm *redisMetadataStorage) GetTaskDefinition(id string, version int) (*model.TaskDefinition, error) {
	key := rm.getNamespaceKey(METADATA_TASK_KEY)
	raw, err := rm.redisClient.HGet(context.Background(), key, versionedField(id, version)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("task %s version %d not found", id, version)
		}
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return rm.taskEncDec.Decode([]byte(raw))
}

func (rm *redisMetadataStorage) DeleteTaskDefinition(id string, version int) error {
	key := rm.getNamespaceKey(METADATA_TASK_KEY)
	if err := rm.redisClient.HDel(context.Background(), key, versionedField(id, version)).Err(); err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}
