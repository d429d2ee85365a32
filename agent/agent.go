// Package agent assembles a weft node from configuration: storage,
// action registry, run service and the http surface, with ordered
// setup and shutdown.
package agent

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/weftlabs/weft/action"
	"github.com/weftlabs/weft/analytics"
	"github.com/weftlabs/weft/config"
	"github.com/weftlabs/weft/coordinator"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/metadata"
	"github.com/weftlabs/weft/persistence"
	storebadger "github.com/weftlabs/weft/persistence/badger"
	"github.com/weftlabs/weft/persistence/inmem"
	storeredis "github.com/weftlabs/weft/persistence/redis"
	"github.com/weftlabs/weft/rest"
	"github.com/weftlabs/weft/service"
	"github.com/weftlabs/weft/telemetry"
	"github.com/weftlabs/weft/timers"
)

type Agent struct {
	Config config.Config

	eventLog        persistence.EventLog
	snapshots       persistence.SnapshotStore
	metadataService *metadata.Service
	actions         *action.Registry
	timerManager    *timers.TimerManager
	runService      *service.RunService
	httpServer      *rest.Server
	closeStorage    func() error

	shutdown     bool
	shutdownLock sync.Mutex
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config: config,
	}
	setup := []func() error{
		a.setupTelemetry,
		a.setupAnalytics,
		a.setupStorage,
		a.setupActionRegistry,
		a.setupTimerManager,
		a.setupRunService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupTelemetry() error {
	return telemetry.RegisterViews()
}

func (a *Agent) setupAnalytics() error {
	return analytics.InitDataCollector(a.Config.AnalyticsConfig)
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		conf := storeredis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.eventLog = storeredis.NewRedisEventLog(conf)
		a.snapshots = storeredis.NewRedisSnapshotStore(conf)
		a.metadataService = metadata.NewService(storeredis.NewRedisMetadataStorage(conf))
	case config.STORAGE_TYPE_BADGER:
		store, err := storebadger.NewStore(a.Config.BadgerConfig.DataDir)
		if err != nil {
			return err
		}
		a.eventLog = store
		a.snapshots = store
		a.metadataService = metadata.NewService(storebadger.NewMetadataStorage(store))
		a.closeStorage = store.Close
	case config.STORAGE_TYPE_INMEM:
		store := inmem.NewStore()
		a.eventLog = store
		a.snapshots = store
		a.metadataService = metadata.NewService(inmem.NewMetadataStorage())
	default:
		return fmt.Errorf("unknown storage implementation %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupActionRegistry() error {
	a.actions = action.NewRegistry()
	return nil
}

// Actions exposes the registry so embedders can add their own actions
// before Start.
func (a *Agent) Actions() *action.Registry {
	return a.actions
}

func (a *Agent) RunService() *service.RunService {
	return a.runService
}

func (a *Agent) Metadata() *metadata.Service {
	return a.metadataService
}

func (a *Agent) setupTimerManager() error {
	tick := time.Duration(a.Config.TimerTickMs) * time.Millisecond
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	size := a.Config.TimerWheelSize
	if size <= 0 {
		size = 512
	}
	a.timerManager = timers.NewTimerManager(tick, size)
	a.timerManager.Start()
	return nil
}

func (a *Agent) setupRunService() error {
	deps := coordinator.Deps{
		Loader:    a.metadataService,
		EventLog:  a.eventLog,
		Snapshots: a.snapshots,
		Invoker:   a.actions,
		Timers:    a.timerManager,
	}
	opts := coordinator.Options{
		SnapshotEvery:    a.Config.SnapshotEvery,
		SnapshotInterval: time.Duration(a.Config.SnapshotEveryMs) * time.Millisecond,
		EventBatchSize:   a.Config.EventBatchSize,
		EventFlushEvery:  time.Duration(a.Config.EventFlushMs) * time.Millisecond,
		TaskGracePeriod:  time.Duration(a.Config.TaskGraceMs) * time.Millisecond,
	}
	a.runService = service.NewRunService(deps, opts)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.runService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	if a.Config.RecoverOnStartup {
		if err := a.runService.RecoverAll(); err != nil {
			return err
		}
	}
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.runService.DrainAndStop()
			return nil
		},
		func() error {
			a.timerManager.Stop()
			return nil
		},
		func() error {
			analytics.StopDataCollector()
			return nil
		},
	}
	if a.closeStorage != nil {
		shutdown = append(shutdown, a.closeStorage)
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
