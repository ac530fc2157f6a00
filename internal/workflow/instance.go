package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

// StartInstanceWorkflow scales an instance's deployment up and waits for it
// to become ready. A deployment whose container vanished out from under the
// platform is flagged container_missing instead of error.
func StartInstanceWorkflow(ctx workflow.Context, instanceID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	var exists bool
	err = workflow.ExecuteActivity(actx, "DeploymentExists", inst.DeploymentName).Get(ctx, &exists)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}
	if !exists {
		return flagContainerMissing(ctx, inst.ID, inst.DeploymentName)
	}

	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 1,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentReady", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	return setInstanceStatus(ctx, inst.ID, model.InstanceStatusRunning)
}

// StopInstanceWorkflow scales an instance's deployment to zero and waits for
// its pods to terminate.
func StopInstanceWorkflow(ctx workflow.Context, instanceID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 0,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentStopped", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	return setInstanceStatus(ctx, inst.ID, model.InstanceStatusStopped)
}

// RestartInstanceWorkflow bounces an instance's deployment. When the
// container is gone entirely it is recreated around the existing data volume
// and config, which is the recovery path out of container_missing.
func RestartInstanceWorkflow(ctx workflow.Context, instanceID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	var exists bool
	err = workflow.ExecuteActivity(actx, "DeploymentExists", inst.DeploymentName).Get(ctx, &exists)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	if !exists {
		err = workflow.ExecuteActivity(actx, "RecreateInstanceDeployment", activity.RecreateDeploymentParams{
			InstanceID:    inst.ID,
			Name:          inst.DeploymentName,
			CPULimit:      inst.CPULimit,
			MemoryLimitMB: inst.MemoryLimitMB,
		}).Get(ctx, nil)
		if err != nil {
			_ = setInstanceFailed(ctx, instanceID, err)
			return err
		}
	} else {
		err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
			Name:     inst.DeploymentName,
			Replicas: 0,
		}).Get(ctx, nil)
		if err != nil {
			_ = setInstanceFailed(ctx, instanceID, err)
			return err
		}
		err = workflow.ExecuteActivity(lctx, "WaitForDeploymentStopped", inst.DeploymentName).Get(ctx, nil)
		if err != nil {
			_ = setInstanceFailed(ctx, instanceID, err)
			return err
		}
	}

	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 1,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentReady", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	return setInstanceStatus(ctx, inst.ID, model.InstanceStatusRunning)
}

// UnpauseInstanceWorkflow resumes a paused instance.
func UnpauseInstanceWorkflow(ctx workflow.Context, instanceID string) error {
	return StartInstanceWorkflow(ctx, instanceID)
}

// UpdateInstanceWorkflow replaces an instance's deployment with a new image.
// The container is stopped, removed, and recreated; the data volume and
// config survive untouched.
func UpdateInstanceWorkflow(ctx workflow.Context, instanceID, image string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 0,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentStopped", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(actx, "RemoveDeployment", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(actx, "RecreateInstanceDeployment", activity.RecreateDeploymentParams{
		InstanceID:    inst.ID,
		Name:          inst.DeploymentName,
		Image:         image,
		CPULimit:      inst.CPULimit,
		MemoryLimitMB: inst.MemoryLimitMB,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentReady", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	if err := setInstanceStatus(ctx, inst.ID, model.InstanceStatusRunning); err != nil {
		return err
	}

	notify(ctx, activity.NotifyParams{
		Event:      "instance.updated",
		InstanceID: inst.ID,
		Detail:     map[string]any{"image": image},
	})
	return nil
}

// flagContainerMissing marks the instance as container_missing, which only
// restart and terminate can leave.
func flagContainerMissing(ctx workflow.Context, instanceID, deployment string) error {
	err := workflow.ExecuteActivity(defaultActivityCtx(ctx), "UpdateInstanceStatus", activity.UpdateInstanceStatusParams{
		ID:           instanceID,
		Status:       model.InstanceStatusContainerMissing,
		ErrorMessage: "deployment " + deployment + " no longer exists",
	}).Get(ctx, nil)
	if err != nil {
		return err
	}
	notify(ctx, activity.NotifyParams{
		Event:      "instance.container_missing",
		InstanceID: instanceID,
		Detail:     map[string]any{"deployment": deployment},
	})
	return nil
}
