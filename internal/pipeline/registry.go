// Package pipeline runs stage chains: ordered sequences of asynchronous
// stages owned by synchronizers, advanced on a clock tick and accounted for
// in a task ledger.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/datosgobar/catalog-sync/internal/queue"
)

// JobFunc is a registered stage callable. Args are the job's string
// arguments as scheduled on the queue.
type JobFunc func(ctx context.Context, args map[string]string) error

// Registry maps callable references to functions and holds the closed set
// of task types. Stages persist only the reference; resolution happens at
// dispatch time, so a stage row can never smuggle in arbitrary code.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]JobFunc
	taskTypes map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		callables: make(map[string]JobFunc),
		taskTypes: make(map[string]bool),
	}
}

// Register binds a callable reference to a function.
func (r *Registry) Register(ref string, fn JobFunc) error {
	if ref == "" {
		return fmt.Errorf("callable ref is required")
	}
	if fn == nil {
		return fmt.Errorf("callable %s is nil", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callables[ref]; exists {
		return fmt.Errorf("callable %s already registered", ref)
	}
	r.callables[ref] = fn
	return nil
}

// RegisterTaskType adds a task type to the closed set stages may use.
func (r *Registry) RegisterTaskType(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskTypes[name] = true
}

// Resolve looks up a registered callable.
func (r *Registry) Resolve(ref string) (JobFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[ref]
	return fn, ok
}

// KnownTaskType reports whether the task type is registered.
func (r *Registry) KnownTaskType(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskTypes[name]
}

// Dispatch resolves a job's callable and runs it. Satisfies queue.Dispatcher.
func (r *Registry) Dispatch(ctx context.Context, job queue.Job) error {
	fn, ok := r.Resolve(job.Ref)
	if !ok {
		return fmt.Errorf("unknown callable: %s", job.Ref)
	}
	return fn(ctx, job.Args)
}

var _ queue.Dispatcher = (*Registry)(nil)
