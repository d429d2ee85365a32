package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftlabs/weft/model"
)

// Invoker executes one external capability. Failures are classified
// retryable or not via model.ActionError. Dispatch is at-least-once
// across recovery, so invokers must tolerate duplicate invocation; the
// dispatch key identifies duplicates.
type Invoker interface {
	Invoke(ctx context.Context, ref string, input map[string]any) (map[string]any, error)
}

// Action is one atomic capability registered under a name.
type Action interface {
	Name() string
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

type dispatchKeyType struct{}

// WithDispatchKey threads the idempotency key (run:node:attempt) through
// an invocation.
func WithDispatchKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, dispatchKeyType{}, key)
}

func DispatchKey(ctx context.Context) string {
	key, _ := ctx.Value(dispatchKeyType{}).(string)
	return key
}

// Registry is an Invoker over named in process actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

var _ Invoker = new(Registry)

func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	r.Register(noopAction{})
	return r
}

func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

func (r *Registry) Invoke(ctx context.Context, ref string, input map[string]any) (map[string]any, error) {
	r.mu.RLock()
	a, ok := r.actions[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ActionError{Action: ref, Message: fmt.Sprintf("no action registered for ref %q", ref), Retryable: false}
	}
	return a.Execute(ctx, input)
}

// noopAction passes its input through, used to stitch graphs together
// and in tests.
type noopAction struct{}

func (noopAction) Name() string { return "noop" }

func (noopAction) Execute(_ context.Context, input map[string]any) (map[string]any, error) {
	return input, nil
}
