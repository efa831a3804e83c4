package pipeline

import (
	"context"
	"errors"
	"log"

	"github.com/datosgobar/catalog-sync/internal/database"
)

// Upkeep is one scheduler tick: start stand-by synchronizers that are due,
// advance running ones whose current stage drained, and sweep orphaned
// ledger entries. Per-synchronizer failures are logged and skipped so one
// bad schedule never stalls the rest.
func (r *Runner) Upkeep(ctx context.Context) error {
	if err := r.startDue(ctx); err != nil {
		return err
	}
	if err := r.advanceRunning(ctx); err != nil {
		return err
	}
	return r.sweepOrphanedTasks(ctx)
}

func (r *Runner) startDue(ctx context.Context) error {
	standBy := database.SynchronizerStandBy
	syns, err := r.store.ListSynchronizers(ctx, &standBy)
	if err != nil {
		return err
	}

	now := r.now()
	for _, syn := range syns {
		due, err := ShouldStart(syn, now)
		if err != nil {
			log.Printf("upkeep: skipping synchronizer %s: %v", syn.Name, err)
			continue
		}
		if !due {
			continue
		}
		if err := r.Start(ctx, syn); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.Printf("upkeep: failed to start synchronizer %s: %v", syn.Name, err)
		}
	}
	return nil
}

func (r *Runner) advanceRunning(ctx context.Context) error {
	running := database.SynchronizerRunning
	syns, err := r.store.ListSynchronizers(ctx, &running)
	if err != nil {
		return err
	}

	for _, syn := range syns {
		if _, err := r.Advance(ctx, syn); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Printf("upkeep: failed to advance synchronizer %s: %v", syn.Name, err)
		}
	}
	return nil
}

// sweepOrphanedTasks closes RUNNING ledger entries for stages whose lane is
// idle and which no running synchronizer currently occupies. Those entries
// belong to workers that died without closing their run.
func (r *Runner) sweepOrphanedTasks(ctx context.Context) error {
	stages, err := r.store.ListStages(ctx)
	if err != nil {
		return err
	}

	running := database.SynchronizerRunning
	syns, err := r.store.ListSynchronizers(ctx, &running)
	if err != nil {
		return err
	}
	occupied := make(map[string]bool)
	for _, syn := range syns {
		if syn.ActualStageID.Valid {
			occupied[syn.ActualStageID.String] = true
		}
	}

	for _, st := range stages {
		if st.TaskType == "" || occupied[st.ID] {
			continue
		}
		task, err := r.store.LatestRunningTask(ctx, st.TaskType)
		if err != nil {
			return err
		}
		if task == nil {
			continue
		}
		busy, err := r.queue.HasPendingOrRunning(ctx, st.Queue)
		if err != nil {
			return err
		}
		if busy {
			continue
		}
		log.Printf("upkeep: closing orphaned %s tasks", st.TaskType)
		if err := r.store.FinishRunningTasks(ctx, st.TaskType); err != nil {
			return err
		}
	}
	return nil
}
