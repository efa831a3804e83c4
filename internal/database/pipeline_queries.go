package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// =============================================================================
// STAGE QUERIES
// =============================================================================

// GetStage retrieves a stage by ID. Returns nil when absent.
func (c *Client) GetStage(ctx context.Context, id string) (*Stage, error) {
	return scanStage(c.db.QueryRowContext(ctx, `
		SELECT id, name, callable_ref, queue, task_type, next_stage_id, active,
		       created_at, updated_at
		FROM stages
		WHERE id = $1
	`, id))
}

// GetStageByName retrieves a stage by its unique name. Returns nil when absent.
func (c *Client) GetStageByName(ctx context.Context, name string) (*Stage, error) {
	return scanStage(c.db.QueryRowContext(ctx, `
		SELECT id, name, callable_ref, queue, task_type, next_stage_id, active,
		       created_at, updated_at
		FROM stages
		WHERE name = $1
	`, name))
}

// ListStages retrieves every configured stage.
func (c *Client) ListStages(ctx context.Context) ([]*Stage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, callable_ref, queue, task_type, next_stage_id, active,
		       created_at, updated_at
		FROM stages
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		var st Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.CallableRef, &st.Queue, &st.TaskType,
			&st.NextStageID, &st.Active, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, &st)
	}
	return stages, rows.Err()
}

// SaveStage creates or updates a stage keyed by its unique name.
// Configuration validation happens in the pipeline package before this call.
func (c *Client) SaveStage(ctx context.Context, st *Stage) (*Stage, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}

	var result Stage
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO stages (id, name, callable_ref, queue, task_type, next_stage_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			callable_ref = EXCLUDED.callable_ref,
			queue = EXCLUDED.queue,
			task_type = EXCLUDED.task_type,
			next_stage_id = EXCLUDED.next_stage_id,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id, name, callable_ref, queue, task_type, next_stage_id, active,
		          created_at, updated_at
	`, st.ID, st.Name, st.CallableRef, st.Queue, st.TaskType, st.NextStageID, st.Active).Scan(
		&result.ID, &result.Name, &result.CallableRef, &result.Queue, &result.TaskType,
		&result.NextStageID, &result.Active, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stage: %w", err)
	}
	return &result, nil
}

func scanStage(row *sql.Row) (*Stage, error) {
	var st Stage
	err := row.Scan(&st.ID, &st.Name, &st.CallableRef, &st.Queue, &st.TaskType,
		&st.NextStageID, &st.Active, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}
	return &st, nil
}

// =============================================================================
// SYNCHRONIZER QUERIES
// =============================================================================

// GetSynchronizer retrieves a synchronizer by ID. Returns nil when absent.
func (c *Client) GetSynchronizer(ctx context.Context, id string) (*Synchronizer, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, status, start_stage_id, actual_stage_id, frequency, scheduled_time,
		       week_days, last_time_ran, mode, target_node, created_at, updated_at
		FROM synchronizers
		WHERE id = $1
	`, id)

	var syn Synchronizer
	err := row.Scan(&syn.ID, &syn.Name, &syn.Status, &syn.StartStageID, &syn.ActualStageID,
		&syn.Frequency, &syn.ScheduledTime, pq.Array(&syn.WeekDays), &syn.LastTimeRan,
		&syn.Mode, &syn.TargetNode, &syn.CreatedAt, &syn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synchronizer: %w", err)
	}
	return &syn, nil
}

// ListSynchronizers retrieves synchronizers, optionally filtered by status.
func (c *Client) ListSynchronizers(ctx context.Context, status *SynchronizerStatus) ([]*Synchronizer, error) {
	query := `
		SELECT id, name, status, start_stage_id, actual_stage_id, frequency, scheduled_time,
		       week_days, last_time_ran, mode, target_node, created_at, updated_at
		FROM synchronizers
	`
	args := []any{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY name"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list synchronizers: %w", err)
	}
	defer rows.Close()

	var syns []*Synchronizer
	for rows.Next() {
		var syn Synchronizer
		if err := rows.Scan(&syn.ID, &syn.Name, &syn.Status, &syn.StartStageID, &syn.ActualStageID,
			&syn.Frequency, &syn.ScheduledTime, pq.Array(&syn.WeekDays), &syn.LastTimeRan,
			&syn.Mode, &syn.TargetNode, &syn.CreatedAt, &syn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan synchronizer: %w", err)
		}
		syns = append(syns, &syn)
	}
	return syns, rows.Err()
}

// SaveSynchronizer creates or updates a synchronizer keyed by its unique name.
func (c *Client) SaveSynchronizer(ctx context.Context, syn *Synchronizer) (*Synchronizer, error) {
	if syn.ID == "" {
		syn.ID = uuid.New().String()
	}
	if syn.Status == "" {
		syn.Status = SynchronizerStandBy
	}
	if syn.Frequency == "" {
		syn.Frequency = FrequencyDaily
	}
	if syn.LastTimeRan.IsZero() {
		syn.LastTimeRan = time.Now()
	}
	if syn.Mode == "" {
		syn.Mode = ModeComplete
	}

	var result Synchronizer
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO synchronizers (id, name, status, start_stage_id, actual_stage_id,
		                           frequency, scheduled_time, week_days, last_time_ran, mode, target_node)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO UPDATE SET
			status = EXCLUDED.status,
			start_stage_id = EXCLUDED.start_stage_id,
			actual_stage_id = EXCLUDED.actual_stage_id,
			frequency = EXCLUDED.frequency,
			scheduled_time = EXCLUDED.scheduled_time,
			week_days = EXCLUDED.week_days,
			last_time_ran = EXCLUDED.last_time_ran,
			mode = EXCLUDED.mode,
			target_node = EXCLUDED.target_node,
			updated_at = NOW()
		RETURNING id, name, status, start_stage_id, actual_stage_id, frequency, scheduled_time,
		          week_days, last_time_ran, mode, target_node, created_at, updated_at
	`, syn.ID, syn.Name, syn.Status, syn.StartStageID, syn.ActualStageID,
		syn.Frequency, syn.ScheduledTime, pq.Array(syn.WeekDays), syn.LastTimeRan, syn.Mode, syn.TargetNode).Scan(
		&result.ID, &result.Name, &result.Status, &result.StartStageID, &result.ActualStageID,
		&result.Frequency, &result.ScheduledTime, pq.Array(&result.WeekDays), &result.LastTimeRan,
		&result.Mode, &result.TargetNode, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert synchronizer: %w", err)
	}
	return &result, nil
}
