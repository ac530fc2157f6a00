package workflow

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

// MigrateToDedicatedWorkflow moves an instance's tenant database from its
// shared pool onto a dedicated server. The steps run strictly in order with
// no automatic rollback: a failure leaves the instance in error naming the
// failed step, and the fresh backup taken before any data moves is the
// manual recovery anchor. The source database is only dropped after the
// instance is serving from the target, so the data survives any earlier
// failure.
func MigrateToDedicatedWorkflow(ctx workflow.Context, instanceID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	fail := func(step string, err error) error {
		stepErr := fmt.Errorf("migration step %s: %w", step, err)
		_ = setInstanceFailed(ctx, instanceID, stepErr)
		notify(ctx, activity.NotifyParams{
			Event:      "instance.migration_failed",
			InstanceID: instanceID,
			Detail:     map[string]any{"step": step, "error": err.Error()},
		})
		return stepErr
	}

	var inst model.Instance
	err := workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		return fail("load_instance", err)
	}
	if inst.DedicatedDB {
		return nil
	}
	if inst.DBServerID == nil {
		return fail("load_instance", fmt.Errorf("instance %s has no database server", instanceID))
	}

	var source model.DBServer
	err = workflow.ExecuteActivity(actx, "GetDBServerByID", *inst.DBServerID).Get(ctx, &source)
	if err != nil {
		return fail("load_source_server", err)
	}

	if err := setInstanceStatus(ctx, instanceID, model.InstanceStatusMaintenance); err != nil {
		return err
	}

	// Stop the app so no writes land on the source past the checkpoint.
	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 0,
	}).Get(ctx, nil)
	if err != nil {
		return fail("stop_instance", err)
	}
	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentStopped", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		return fail("stop_instance", err)
	}

	// Fresh backup of the source database. This is the consistency
	// checkpoint the restore below works from, and what an operator falls
	// back to if a later step fails.
	var backup model.Backup
	err = workflow.ExecuteActivity(actx, "CreateBackupRecord", instanceID).Get(ctx, &backup)
	if err != nil {
		return fail("backup", err)
	}
	err = workflow.ExecuteActivity(actx, "UpdateBackupRecord", activity.UpdateBackupRecordParams{
		ID:     backup.ID,
		Status: model.BackupStatusRunning,
	}).Get(ctx, nil)
	if err != nil {
		return fail("backup", err)
	}
	var dump activity.RunBackupJobResult
	err = workflow.ExecuteActivity(lctx, "RunBackupJob", activity.RunBackupJobParams{
		BackupID:        backup.ID,
		Host:            source.Host,
		Port:            source.Port,
		AdminSecretName: source.AdminSecretName,
		DBName:          inst.DBName,
	}).Get(ctx, &dump)
	if err != nil {
		_ = setBackupFailed(ctx, backup.ID)
		return fail("backup", err)
	}
	err = workflow.ExecuteActivity(actx, "UpdateBackupRecord", activity.UpdateBackupRecordParams{
		ID:               backup.ID,
		Status:           model.BackupStatusCompleted,
		DumpPath:         dump.DumpPath,
		ArchivePath:      dump.ArchivePath,
		DumpSizeBytes:    dump.DumpSizeBytes,
		ArchiveSizeBytes: dump.ArchiveSizeBytes,
	}).Get(ctx, nil)
	if err != nil {
		return fail("backup", err)
	}

	// Provision the dedicated server. Re-runs reuse the registry row keyed
	// on the deterministic name.
	var target model.DBServer
	err = workflow.ExecuteActivity(lctx, "EnsureDedicatedServer", activity.EnsureDedicatedServerParams{
		InstanceID: inst.ID,
		CustomerID: inst.CustomerID,
	}).Get(ctx, &target)
	if err != nil {
		return fail("provision_dedicated_server", err)
	}

	// Claim the dedicated server's single slot.
	var reserved bool
	err = workflow.ExecuteActivity(actx, "ReserveServerSlot", target.ID).Get(ctx, &reserved)
	if err != nil {
		return fail("claim_target_slot", err)
	}
	if !reserved {
		return fail("claim_target_slot", fmt.Errorf("dedicated server %s already claimed", target.Name))
	}

	// Repoint the instance record and flip its database tier.
	err = workflow.ExecuteActivity(actx, "SetInstanceDedicated", activity.SetInstanceDedicatedParams{
		InstanceID: inst.ID,
		ServerID:   target.ID,
		Host:       target.Host,
		Port:       target.Port,
	}).Get(ctx, nil)
	if err != nil {
		return fail("repoint_instance", err)
	}

	// Recreate the role on the target with the credential read back from
	// the deployment's persisted config. Regenerating would invalidate the
	// config the application already holds.
	var cfg activity.DeploymentConfig
	err = workflow.ExecuteActivity(actx, "ReadDeploymentConfig", inst.DeploymentName).Get(ctx, &cfg)
	if err != nil {
		return fail("read_config", err)
	}
	err = workflow.ExecuteActivity(actx, "RecreateTenantRole", activity.RecreateTenantRoleParams{
		Server:   activity.TargetFromServer(target),
		DBUser:   inst.DBUser,
		Password: cfg.DBPassword,
	}).Get(ctx, nil)
	if err != nil {
		return fail("recreate_role", err)
	}
	err = workflow.ExecuteActivity(actx, "CreateTenantDatabase", activity.CreateTenantDatabaseParams{
		Server:   activity.TargetFromServer(target),
		DBName:   inst.DBName,
		DBUser:   inst.DBUser,
		Password: cfg.DBPassword,
	}).Get(ctx, nil)
	if err != nil {
		return fail("create_target_database", err)
	}

	// Restore the checkpoint backup onto the target.
	err = workflow.ExecuteActivity(lctx, "RunRestoreJob", activity.RunRestoreJobParams{
		BackupID:        backup.ID,
		ArchivePath:     dump.ArchivePath,
		Host:            target.Host,
		Port:            target.Port,
		AdminSecretName: target.AdminSecretName,
		DBName:          inst.DBName,
	}).Get(ctx, nil)
	if err != nil {
		return fail("restore_backup", err)
	}

	// Point the app config at the target. The credential is untouched.
	err = workflow.ExecuteActivity(actx, "RewriteDeploymentConfig", activity.RewriteDeploymentConfigParams{
		Name: inst.DeploymentName,
		Values: map[string]any{
			"db_host": target.Host,
			"db_port": target.Port,
		},
	}).Get(ctx, nil)
	if err != nil {
		return fail("rewrite_config", err)
	}

	// Start the app against the dedicated server.
	err = workflow.ExecuteActivity(actx, "ScaleDeployment", activity.ScaleDeploymentParams{
		Name:     inst.DeploymentName,
		Replicas: 1,
	}).Get(ctx, nil)
	if err != nil {
		return fail("start_instance", err)
	}
	err = workflow.ExecuteActivity(lctx, "WaitForDeploymentReady", inst.DeploymentName).Get(ctx, nil)
	if err != nil {
		return fail("start_instance", err)
	}

	if err := setInstanceStatus(ctx, instanceID, model.InstanceStatusRunning); err != nil {
		return err
	}

	// Only now release the shared capacity and drop the source copy.
	err = workflow.ExecuteActivity(actx, "ReleaseServerSlot", source.ID).Get(ctx, nil)
	if err != nil {
		return fail("release_source_slot", err)
	}
	err = workflow.ExecuteActivity(actx, "DropTenantDatabase", activity.DropTenantDatabaseParams{
		Server: activity.TargetFromServer(source),
		DBName: inst.DBName,
		DBUser: inst.DBUser,
	}).Get(ctx, nil)
	if err != nil {
		// The instance is healthy on the target; a leftover source copy is
		// an operator cleanup, not a migration failure.
		workflow.GetLogger(ctx).Warn("drop source database failed",
			"instance_id", inst.ID, "server_id", source.ID, "error", err)
	}

	notify(ctx, activity.NotifyParams{
		Event:      "instance.migrated_to_dedicated",
		InstanceID: inst.ID,
		ServerID:   target.ID,
	})
	return nil
}
