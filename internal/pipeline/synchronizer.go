package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datosgobar/catalog-sync/internal/database"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Start moves a stand-by synchronizer to RUNNING and opens its first stage.
// Starting a running synchronizer is an error, not a no-op: the caller is
// about to double-schedule work and must know.
func (r *Runner) Start(ctx context.Context, syn *database.Synchronizer) error {
	return r.BeginStage(ctx, syn, nil)
}

// BeginStage opens the given stage under the synchronizer, or its start
// stage when nil. Without an explicit stage a running synchronizer refuses
// to begin; with one the call is a chain continuation and the guard does
// not apply.
func (r *Runner) BeginStage(ctx context.Context, syn *database.Synchronizer, stage *database.Stage) error {
	if stage == nil {
		if syn.Status == database.SynchronizerRunning {
			return fmt.Errorf("%s: %w", syn.Name, ErrAlreadyRunning)
		}
		var err error
		stage, err = r.store.GetStage(ctx, syn.StartStageID)
		if err != nil {
			return err
		}
		if stage == nil {
			return fmt.Errorf("synchronizer %s: start stage %s not found", syn.Name, syn.StartStageID)
		}
	}

	syn.Status = database.SynchronizerRunning
	syn.ActualStageID = sql.NullString{String: stage.ID, Valid: true}
	syn.LastTimeRan = r.now()
	saved, err := r.store.SaveSynchronizer(ctx, syn)
	if err != nil {
		return err
	}
	*syn = *saved

	mode := syn.Mode
	if mode == "" {
		mode = database.ModeComplete
	}
	if _, err := r.OpenStage(ctx, stage, mode, r.stageArgs(syn)); err != nil {
		return err
	}
	return nil
}

// Advance checks the running synchronizer's current stage and, when it has
// drained, closes it and opens the next one; the last stage returns the
// synchronizer to stand-by. Reports whether a transition happened.
func (r *Runner) Advance(ctx context.Context, syn *database.Synchronizer) (bool, error) {
	if syn.Status != database.SynchronizerRunning {
		return false, fmt.Errorf("%s: %w", syn.Name, ErrNotRunning)
	}
	if !syn.ActualStageID.Valid {
		return false, fmt.Errorf("synchronizer %s is running without a current stage", syn.Name)
	}

	stage, err := r.store.GetStage(ctx, syn.ActualStageID.String)
	if err != nil {
		return false, err
	}
	if stage == nil {
		return false, fmt.Errorf("synchronizer %s: stage %s not found", syn.Name, syn.ActualStageID.String)
	}

	complete, err := r.StageComplete(ctx, stage)
	if err != nil {
		return false, err
	}
	if !complete {
		return false, nil
	}

	if err := r.CloseStage(ctx, stage); err != nil {
		return false, err
	}

	if !stage.NextStageID.Valid {
		// End of the chain: back to stand-by, and the one-shot node override
		// does not carry into the next run.
		syn.Status = database.SynchronizerStandBy
		syn.ActualStageID = sql.NullString{}
		syn.TargetNode = sql.NullString{}
		saved, err := r.store.SaveSynchronizer(ctx, syn)
		if err != nil {
			return false, err
		}
		*syn = *saved
		return true, nil
	}

	next, err := r.store.GetStage(ctx, stage.NextStageID.String)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, fmt.Errorf("synchronizer %s: next stage %s not found", syn.Name, stage.NextStageID.String)
	}

	if err := r.BeginStage(ctx, syn, next); err != nil {
		return false, err
	}
	return true, nil
}

// NextStartDate computes the next scheduled run strictly after the
// synchronizer's last run, from its frequency, scheduled time and week days.
func NextStartDate(syn *database.Synchronizer) (time.Time, error) {
	scheduled, err := time.Parse("15:04", syn.ScheduledTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("synchronizer %s: bad scheduled time %q: %w",
			syn.Name, syn.ScheduledTime, err)
	}

	days := "*"
	if syn.Frequency == database.FrequencyWeekDays {
		if len(syn.WeekDays) == 0 {
			return time.Time{}, fmt.Errorf("synchronizer %s: weekly frequency without week days", syn.Name)
		}
		days = strings.Join(syn.WeekDays, ",")
	}

	spec := fmt.Sprintf("%d %d * * %s", scheduled.Minute(), scheduled.Hour(), days)
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("synchronizer %s: bad schedule %q: %w", syn.Name, spec, err)
	}
	return schedule.Next(syn.LastTimeRan), nil
}

// ShouldStart reports whether a stand-by synchronizer is due at the given time.
func ShouldStart(syn *database.Synchronizer, now time.Time) (bool, error) {
	if syn.Status != database.SynchronizerStandBy {
		return false, nil
	}
	next, err := NextStartDate(syn)
	if err != nil {
		return false, err
	}
	return !now.Before(next), nil
}

// Stages walks the synchronizer's chain from its start stage. A chain that
// revisits a stage is corrupt configuration and fails with ErrStageCycle.
func (r *Runner) Stages(ctx context.Context, syn *database.Synchronizer) ([]*database.Stage, error) {
	var chain []*database.Stage
	visited := make(map[string]bool)

	id := syn.StartStageID
	for id != "" {
		if visited[id] {
			return nil, fmt.Errorf("synchronizer %s: %w", syn.Name, ErrStageCycle)
		}
		visited[id] = true

		stage, err := r.store.GetStage(ctx, id)
		if err != nil {
			return nil, err
		}
		if stage == nil {
			return nil, fmt.Errorf("synchronizer %s: stage %s not found", syn.Name, id)
		}
		chain = append(chain, stage)

		id = ""
		if stage.NextStageID.Valid {
			id = stage.NextStageID.String
		}
	}
	return chain, nil
}

func (r *Runner) stageArgs(syn *database.Synchronizer) map[string]string {
	args := map[string]string{}
	if syn.TargetNode.Valid {
		args["node"] = syn.TargetNode.String
	}
	return args
}
