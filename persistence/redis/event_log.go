package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"github.com/weftlabs/weft/util"
	"go.uber.org/zap"
)

const EVENTS_KEY string = "EVENTS"
const RUNS_KEY string = "RUNS"

// redisEventLog keeps one sorted set per run, scored by sequence number.
// A batch append goes through a transactional pipeline so the gapless
// sequence invariant survives a crash mid batch.
type redisEventLog struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Event]
}

var _ persistence.EventLog = new(redisEventLog)

func NewRedisEventLog(conf Config) *redisEventLog {
	return &redisEventLog{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Event](),
	}
}

func (re *redisEventLog) Append(runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	key := re.getNamespaceKey(EVENTS_KEY, runID)
	runsKey := re.getNamespaceKey(RUNS_KEY)
	ctx := context.Background()
	members := make([]rd.Z, 0, len(events))
	for _, ev := range events {
		data, err := re.encoderDecoder.Encode(ev)
		if err != nil {
			return err
		}
		members = append(members, rd.Z{Score: float64(ev.Sequence), Member: string(data)})
	}
	_, err := re.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZAdd(ctx, key, members...)
		pipe.SAdd(ctx, runsKey, runID)
		return nil
	})
	if err != nil {
		logger.Error("error appending events", zap.String("runId", runID), zap.Error(err))
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (re *redisEventLog) Read(runID string, fromSequence int64) ([]model.Event, error) {
	key := re.getNamespaceKey(EVENTS_KEY, runID)
	ctx := context.Background()
	raw, err := re.redisClient.ZRangeByScore(ctx, key, &rd.ZRangeBy{
		Min: strconv.FormatInt(fromSequence, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []model.Event{}, nil
		}
		logger.Error("error reading events", zap.String("runId", runID), zap.Error(err))
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	events := make([]model.Event, 0, len(raw))
	for _, item := range raw {
		ev, err := re.encoderDecoder.Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

func (re *redisEventLog) HighestSequence(runID string) (int64, error) {
	key := re.getNamespaceKey(EVENTS_KEY, runID)
	ctx := context.Background()
	res, err := re.redisClient.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, nil
		}
		return 0, model.StorageLayerError{Message: err.Error()}
	}
	if len(res) == 0 {
		return 0, nil
	}
	return int64(res[0].Score), nil
}

func (re *redisEventLog) Runs() ([]string, error) {
	ctx := context.Background()
	runs, err := re.redisClient.SMembers(ctx, re.getNamespaceKey(RUNS_KEY)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return runs, nil
}
