package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"github.com/weftlabs/weft/util"
	"go.uber.org/zap"
)

const SNAPSHOT_KEY string = "SNAPSHOT"

// redisSnapshotStore keeps the latest snapshot per run; a newer snapshot
// overwrites and thereby discards the stale one.
type redisSnapshotStore struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Snapshot]
}

var _ persistence.SnapshotStore = new(redisSnapshotStore)

func NewRedisSnapshotStore(conf Config) *redisSnapshotStore {
	return &redisSnapshotStore{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Snapshot](),
	}
}

func (rs *redisSnapshotStore) Put(runID string, snapshot model.Snapshot) error {
	key := rs.getNamespaceKey(SNAPSHOT_KEY)
	ctx := context.Background()
	data, err := rs.encoderDecoder.Encode(snapshot)
	if err != nil {
		return err
	}
	if err := rs.redisClient.HSet(ctx, key, []string{runID, string(data)}).Err(); err != nil {
		logger.Error("error saving snapshot", zap.String("runId", runID), zap.Error(err))
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisSnapshotStore) GetLatest(runID string) (*model.Snapshot, error) {
	key := rs.getNamespaceKey(SNAPSHOT_KEY)
	ctx := context.Background()
	raw, err := rs.redisClient.HGet(ctx, key, runID).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNoSnapshot
		}
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return rs.encoderDecoder.Decode([]byte(raw))
}

func (rs *redisSnapshotStore) Delete(runID string) error {
	key := rs.getNamespaceKey(SNAPSHOT_KEY)
	ctx := context.Background()
	if err := rs.redisClient.HDel(ctx, key, runID).Err(); err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}
