package definition

import (
	"fmt"
	"time"

	c "github.com/patrickmn/go-cache"
	"github.com/weftlabs/weft/model"
)

// Loader is the read only definition surface the engine consumes.
// Definitions are authored and versioned externally.
type Loader interface {
	GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error)
	GetTaskDefinition(id string, version int) (*model.TaskDefinition, error)
}

// CachingLoader caches definitions for the lifetime of one run. Each run
// gets its own instance at start, discarded at run end, so no definition
// state is shared across runs.
type CachingLoader struct {
	delegate Loader
	cache    *c.Cache
}

func NewCachingLoader(delegate Loader) *CachingLoader {
	return &CachingLoader{
		delegate: delegate,
		cache:    c.New(c.NoExpiration, 10*time.Minute),
	}
}

func (l *CachingLoader) GetWorkflowDefinition(id string, version int) (*model.WorkflowDefinition, error) {
	key := fmt.Sprintf("wf:%s:%d", id, version)
	if cached, found := l.cache.Get(key); found {
		return cached.(*model.WorkflowDefinition), nil
	}
	wf, err := l.delegate.GetWorkflowDefinition(id, version)
	if err != nil {
		return nil, err
	}
	l.cache.Set(key, wf, c.NoExpiration)
	return wf, nil
}

func (l *CachingLoader) GetTaskDefinition(id string, version int) (*model.TaskDefinition, error) {
	key := fmt.Sprintf("task:%s:%d", id, version)
	if cached, found := l.cache.Get(key); found {
		return cached.(*model.TaskDefinition), nil
	}
	task, err := l.delegate.GetTaskDefinition(id, version)
	if err != nil {
		return nil, err
	}
	l.cache.Set(key, task, c.NoExpiration)
	return task, nil
}
