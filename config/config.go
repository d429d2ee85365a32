package config

import (
	"github.com/weftlabs/weft/analytics"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_BADGER StorageType = "badger"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig      RedisStorageConfig
	BadgerConfig     BadgerStorageConfig
	HttpPort         int
	StorageType      StorageType
	SnapshotEvery    int64
	SnapshotEveryMs  int
	EventBatchSize   int
	EventFlushMs     int
	TaskGraceMs      int
	TimerTickMs      int
	TimerWheelSize   int64
	RecoverOnStartup bool
	AnalyticsConfig  analytics.DataCollectorConfig
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type BadgerStorageConfig struct {
	DataDir string
}
