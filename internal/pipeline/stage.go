package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/queue"
)

// Store is the orchestration persistence boundary. *database.Client
// satisfies it; MemStore backs tests.
type Store interface {
	GetStage(ctx context.Context, id string) (*database.Stage, error)
	GetStageByName(ctx context.Context, name string) (*database.Stage, error)
	ListStages(ctx context.Context) ([]*database.Stage, error)
	SaveStage(ctx context.Context, st *database.Stage) (*database.Stage, error)

	GetSynchronizer(ctx context.Context, id string) (*database.Synchronizer, error)
	ListSynchronizers(ctx context.Context, status *database.SynchronizerStatus) ([]*database.Synchronizer, error)
	SaveSynchronizer(ctx context.Context, syn *database.Synchronizer) (*database.Synchronizer, error)

	CreateTask(ctx context.Context, taskType, mode string) (*database.Task, error)
	LatestRunningTask(ctx context.Context, taskType string) (*database.Task, error)
	FinishRunningTasks(ctx context.Context, taskType string) error
}

var (
	// ErrAlreadyRunning reports a start attempt on a running synchronizer.
	ErrAlreadyRunning = errors.New("synchronizer is already running")
	// ErrNotRunning reports an advance attempt on an idle synchronizer.
	ErrNotRunning = errors.New("synchronizer is not running")
	// ErrStageCycle reports a stage chain that loops back on itself.
	ErrStageCycle = errors.New("stage chain contains a cycle")
)

// Runner drives stage chains over an explicit queue. It never reaches for
// global queue state; everything it touches is injected.
type Runner struct {
	store    Store
	queue    queue.Queue
	registry *Registry
	lanes    []string

	now func() time.Time
}

// NewRunner wires a runner. lanes is the set of configured queue lanes used
// to validate stage configuration; an empty slice disables the lane check.
func NewRunner(store Store, q queue.Queue, registry *Registry, lanes []string) *Runner {
	return &Runner{store: store, queue: q, registry: registry, lanes: lanes, now: time.Now}
}

// ValidateStage checks a stage's configuration against the registry and the
// configured lanes. Invalid stages are rejected at save time, not at run time.
func (r *Runner) ValidateStage(st *database.Stage) error {
	if st.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if _, ok := r.registry.Resolve(st.CallableRef); !ok {
		return fmt.Errorf("stage %s: unknown callable %s", st.Name, st.CallableRef)
	}
	if st.TaskType != "" && !r.registry.KnownTaskType(st.TaskType) {
		return fmt.Errorf("stage %s: unknown task type %s", st.Name, st.TaskType)
	}
	if len(r.lanes) > 0 && !r.laneConfigured(st.Queue) {
		return fmt.Errorf("stage %s: lane %s is not configured", st.Name, st.Queue)
	}
	if st.NextStageID.Valid && st.ID != "" && st.NextStageID.String == st.ID {
		return fmt.Errorf("stage %s: next stage references itself", st.Name)
	}
	return nil
}

// SaveStage validates and persists a stage.
func (r *Runner) SaveStage(ctx context.Context, st *database.Stage) (*database.Stage, error) {
	if err := r.ValidateStage(st); err != nil {
		return nil, err
	}
	return r.store.SaveStage(ctx, st)
}

// OpenStage marks the stage active, opens a ledger entry for it and
// schedules its callable on the stage's lane. The task ID rides along in
// the job arguments so the worker can append progress to the right ledger
// entry. A stage without a task type runs ledger-less and returns a nil
// task.
func (r *Runner) OpenStage(ctx context.Context, st *database.Stage, mode string, args map[string]string) (*database.Task, error) {
	if !st.Active {
		st.Active = true
		saved, err := r.store.SaveStage(ctx, st)
		if err != nil {
			return nil, err
		}
		*st = *saved
	}

	jobArgs := map[string]string{"mode": mode}
	var task *database.Task
	if st.TaskType != "" {
		var err error
		task, err = r.store.CreateTask(ctx, st.TaskType, mode)
		if err != nil {
			return nil, err
		}
		jobArgs["task_id"] = task.ID
		jobArgs["mode"] = task.Mode
	}
	for k, v := range args {
		jobArgs[k] = v
	}
	job := queue.Job{Ref: st.CallableRef, Args: jobArgs}
	if err := r.queue.Schedule(ctx, st.Queue, job); err != nil {
		return nil, fmt.Errorf("failed to open stage %s: %w", st.Name, err)
	}
	return task, nil
}

// CloseStage marks the stage inactive and force-finishes every running
// ledger entry of its type, a safety net against tasks that never
// self-closed.
func (r *Runner) CloseStage(ctx context.Context, st *database.Stage) error {
	if st.Active {
		st.Active = false
		saved, err := r.store.SaveStage(ctx, st)
		if err != nil {
			return err
		}
		*st = *saved
	}
	if st.TaskType == "" {
		return nil
	}
	return r.store.FinishRunningTasks(ctx, st.TaskType)
}

// StageComplete reports whether the stage has fully drained its lane. The
// open ledger entry is not consulted here: closing it is CloseStage's job
// once the drain is observed.
func (r *Runner) StageComplete(ctx context.Context, st *database.Stage) (bool, error) {
	busy, err := r.queue.HasPendingOrRunning(ctx, st.Queue)
	if err != nil {
		return false, err
	}
	return !busy, nil
}

func (r *Runner) laneConfigured(lane string) bool {
	for _, l := range r.lanes {
		if l == lane {
			return true
		}
	}
	return false
}
