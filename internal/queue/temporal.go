package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// TemporalQueue implements Queue on a Temporal cluster. Lanes map to task
// queues; a job's ref names the workflow registered by the worker.
type TemporalQueue struct {
	client    client.Client
	namespace string
}

// NewTemporalQueue wraps an existing Temporal client.
func NewTemporalQueue(c client.Client, namespace string) *TemporalQueue {
	return &TemporalQueue{client: c, namespace: namespace}
}

func (q *TemporalQueue) Schedule(ctx context.Context, lane string, job Job) error {
	if job.Ref == "" {
		return fmt.Errorf("job ref is required")
	}
	options := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-%s", job.Ref, uuid.New().String()),
		TaskQueue: lane,
	}
	if _, err := q.client.ExecuteWorkflow(ctx, options, job.Ref, job.Args); err != nil {
		return fmt.Errorf("failed to schedule %s on %s: %w", job.Ref, lane, err)
	}
	return nil
}

func (q *TemporalQueue) HasPendingOrRunning(ctx context.Context, lane string) (bool, error) {
	resp, err := q.client.CountWorkflow(ctx, &workflowservice.CountWorkflowExecutionsRequest{
		Namespace: q.namespace,
		Query:     fmt.Sprintf("TaskQueue = '%s' AND ExecutionStatus = 'Running'", lane),
	})
	if err != nil {
		return false, fmt.Errorf("failed to count workflows on %s: %w", lane, err)
	}
	return resp.GetCount() > 0, nil
}
