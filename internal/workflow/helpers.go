package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

// defaultActivityCtx applies the standard short-activity options: database
// updates, orchestrator calls and other operations that finish in seconds.
func defaultActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// longActivityCtx covers minutes-scale operations: readiness polls, dump
// jobs, cluster provisioning.
func longActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// setInstanceFailed parks an instance in error with the failure message.
// Callers typically ignore the returned error since the primary error is
// more important.
func setInstanceFailed(ctx workflow.Context, instanceID string, err error) error {
	return workflow.ExecuteActivity(defaultActivityCtx(ctx), "UpdateInstanceStatus", activity.UpdateInstanceStatusParams{
		ID:           instanceID,
		Status:       model.InstanceStatusError,
		ErrorMessage: err.Error(),
	}).Get(ctx, nil)
}

// setInstanceStatus writes a plain status change.
func setInstanceStatus(ctx workflow.Context, instanceID, status string) error {
	return workflow.ExecuteActivity(defaultActivityCtx(ctx), "UpdateInstanceStatus", activity.UpdateInstanceStatusParams{
		ID:     instanceID,
		Status: status,
	}).Get(ctx, nil)
}

// notify dispatches a fire-and-forget event notification. Failures are
// logged and swallowed; notifications never fail a workflow.
func notify(ctx workflow.Context, params activity.NotifyParams) {
	err := workflow.ExecuteActivity(defaultActivityCtx(ctx), "Notify", params).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("notification dispatch failed", "event", params.Event, "error", err)
	}
}
