package workflow

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/model"
)

// ProvisionInstanceWorkflow takes a freshly created instance all the way to
// running: allocate a tenant database, create the app deployment with the
// generated credential, and wait for it to come up. The credential exists
// only inside this workflow's state and the deployment's config file.
func ProvisionInstanceWorkflow(ctx workflow.Context, instanceID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	// Allocate the tenant database. Dedicated tiers block on server
	// provisioning; shared tiers pick a pool synchronously.
	var allocation *core.Allocation
	allocParams := core.AllocateParams{
		InstanceID: inst.ID,
		CustomerID: inst.CustomerID,
		PlanTier:   inst.PlanTier,
	}
	if model.DedicatedTier(inst.PlanTier) {
		err = workflow.ExecuteActivity(lctx, "AllocateDedicatedDatabase", allocParams).Get(ctx, &allocation)
		if err != nil {
			_ = setInstanceFailed(ctx, instanceID, err)
			return err
		}
	} else {
		var result core.AllocationResult
		err = workflow.ExecuteActivity(actx, "AllocateDatabase", allocParams).Get(ctx, &result)
		if err != nil {
			_ = setInstanceFailed(ctx, instanceID, err)
			return err
		}
		if result.Pending {
			pendingErr := fmt.Errorf("no database capacity: %s", result.Reason)
			_ = setInstanceFailed(ctx, instanceID, pendingErr)
			notify(ctx, activity.NotifyParams{
				Event:      "instance.allocation_pending",
				InstanceID: instanceID,
				Detail:     map[string]any{"reason": result.Reason},
			})
			return pendingErr
		}
		allocation = result.Allocated
	}

	// Persist the connection coordinates. The password is deliberately left
	// out.
	err = workflow.ExecuteActivity(actx, "UpdateInstanceConnection", activity.UpdateInstanceConnectionParams{
		ID:          inst.ID,
		DBServerID:  allocation.ServerID,
		DBHost:      allocation.Host,
		DBPort:      allocation.Port,
		DBName:      allocation.DBName,
		DBUser:      allocation.DBUser,
		DedicatedDB: model.DedicatedTier(inst.PlanTier),
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	var deployment activity.CreateInstanceDeploymentResult
	err = workflow.ExecuteActivity(actx, "CreateInstanceDeployment", activity.CreateInstanceDeploymentParams{
		InstanceID:    inst.ID,
		Name:          inst.Name,
		CPULimit:      inst.CPULimit,
		MemoryLimitMB: inst.MemoryLimitMB,
		DBHost:        allocation.Host,
		DBPort:        allocation.Port,
		DBName:        allocation.DBName,
		DBUser:        allocation.DBUser,
		DBPassword:    allocation.DBPassword,
	}).Get(ctx, &deployment)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(actx, "UpdateInstanceDeployment", activity.UpdateInstanceDeploymentParams{
		ID:             inst.ID,
		DeploymentName: deployment.DeploymentName,
		ServiceName:    deployment.ServiceName,
		InternalURL:    deployment.InternalURL,
		ExternalURL:    deployment.ExternalURL,
	}).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentReady", deployment.DeploymentName).Get(ctx, nil)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	if err := setInstanceStatus(ctx, inst.ID, model.InstanceStatusRunning); err != nil {
		return err
	}

	notify(ctx, activity.NotifyParams{
		Event:      "instance.provisioned",
		InstanceID: inst.ID,
		Detail:     map[string]any{"external_url": deployment.ExternalURL},
	})
	return nil
}
