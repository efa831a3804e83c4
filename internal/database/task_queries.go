package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK LEDGER QUERIES
// =============================================================================

// CreateTask opens a new RUNNING ledger entry for the given task type.
func (c *Client) CreateTask(ctx context.Context, taskType, mode string) (*Task, error) {
	id := uuid.New().String()
	if mode == "" {
		mode = ModeComplete
	}

	var task Task
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, type, status, mode, logs)
		VALUES ($1, $2, 'RUNNING', $3, '')
		RETURNING id, type, status, mode, created, finished, logs
	`, id, taskType, mode).Scan(
		&task.ID, &task.Type, &task.Status, &task.Mode, &task.Created, &task.Finished, &task.Logs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &task, nil
}

// GetTask retrieves a ledger entry by ID. Returns nil when absent.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, mode, created, finished, logs
		FROM tasks
		WHERE id = $1
	`, id)

	var task Task
	err := row.Scan(&task.ID, &task.Type, &task.Status, &task.Mode, &task.Created,
		&task.Finished, &task.Logs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// LatestRunningTask retrieves the most recent RUNNING ledger entry of the
// given type. Returns nil when none is running.
func (c *Client) LatestRunningTask(ctx context.Context, taskType string) (*Task, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, mode, created, finished, logs
		FROM tasks
		WHERE type = $1 AND status = 'RUNNING'
		ORDER BY created DESC
		LIMIT 1
	`, taskType)

	var task Task
	err := row.Scan(&task.ID, &task.Type, &task.Status, &task.Mode, &task.Created,
		&task.Finished, &task.Logs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest running task: %w", err)
	}
	return &task, nil
}

// FinishTask transitions one ledger entry to FINISHED.
func (c *Client) FinishTask(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'FINISHED', finished = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// FinishRunningTasks force-finishes every RUNNING ledger entry of the given
// type. Safety net for tasks that never self-closed.
func (c *Client) FinishRunningTasks(ctx context.Context, taskType string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'FINISHED', finished = NOW()
		WHERE type = $1 AND status = 'RUNNING'
	`, taskType)
	if err != nil {
		return fmt.Errorf("failed to finish running tasks: %w", err)
	}
	return nil
}

// AppendTaskLog appends one line to a ledger's log. Multiple workers append
// against the same run, so the read-modify-write happens under a row lock
// inside one transaction.
func (c *Client) AppendTaskLog(ctx context.Context, id, msg string) error {
	return c.Transaction(ctx, func(tx *sql.Tx) error {
		var logs string
		if err := tx.QueryRowContext(ctx, `
			SELECT logs FROM tasks WHERE id = $1 FOR UPDATE
		`, id).Scan(&logs); err != nil {
			return fmt.Errorf("failed to lock task row: %w", err)
		}

		logs += msg + "\n"
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET logs = $2 WHERE id = $1
		`, id, logs); err != nil {
			return fmt.Errorf("failed to append task log: %w", err)
		}
		return nil
	})
}

// ListTasks retrieves ledger entries of a type, newest first.
func (c *Client) ListTasks(ctx context.Context, taskType string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, type, status, mode, created, finished, logs
		FROM tasks
		WHERE type = $1
		ORDER BY created DESC
		LIMIT $2
	`, taskType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.Type, &task.Status, &task.Mode, &task.Created,
			&task.Finished, &task.Logs); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// StaleRunningTasks retrieves RUNNING entries older than the cutoff,
// regardless of type. Used by operators to spot runs that never closed.
func (c *Client) StaleRunningTasks(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, type, status, mode, created, finished, logs
		FROM tasks
		WHERE status = 'RUNNING' AND created < $1
		ORDER BY created
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.Type, &task.Status, &task.Mode, &task.Created,
			&task.Finished, &task.Logs); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}
