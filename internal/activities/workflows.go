package activities

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow shims let the scheduler start stage work by callable reference:
// each workflow is registered under its callable name and runs the matching
// activity on the worker that picked it up.

func activityContext(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Minute,
			MaximumAttempts: 3,
		},
	})
}

// ReadCatalogsWorkflow wraps the catalog.read callable.
func ReadCatalogsWorkflow(ctx workflow.Context, args map[string]string) error {
	ctx = activityContext(ctx)
	return workflow.ExecuteActivity(ctx, "ReadCatalogs", args).Get(ctx, nil)
}

// CloseReadTasksWorkflow wraps the catalog.close callable.
func CloseReadTasksWorkflow(ctx workflow.Context, args map[string]string) error {
	ctx = activityContext(ctx)
	return workflow.ExecuteActivity(ctx, "CloseReadTasks", args).Get(ctx, nil)
}
