package workflow

import (
	"errors"
	"fmt"
	"path"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

// CreateBackupWorkflow dumps an instance's tenant database, compresses the
// dump, and uploads the archive off-host when object storage is configured.
// The instance keeps serving throughout; only the backup record tracks
// progress.
func CreateBackupWorkflow(ctx workflow.Context, backupID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var backup model.Backup
	err := workflow.ExecuteActivity(actx, "GetBackupByID", backupID).Get(ctx, &backup)
	if err != nil {
		return err
	}

	var inst model.Instance
	err = workflow.ExecuteActivity(actx, "GetInstanceByID", backup.InstanceID).Get(ctx, &inst)
	if err != nil {
		_ = setBackupFailed(ctx, backupID)
		return err
	}
	if inst.DBServerID == nil {
		_ = setBackupFailed(ctx, backupID)
		return fmt.Errorf("instance %s has no database server", inst.ID)
	}

	var srv model.DBServer
	err = workflow.ExecuteActivity(actx, "GetDBServerByID", *inst.DBServerID).Get(ctx, &srv)
	if err != nil {
		_ = setBackupFailed(ctx, backupID)
		return err
	}

	err = workflow.ExecuteActivity(actx, "UpdateBackupRecord", activity.UpdateBackupRecordParams{
		ID:     backupID,
		Status: model.BackupStatusRunning,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	var result activity.RunBackupJobResult
	err = workflow.ExecuteActivity(lctx, "RunBackupJob", activity.RunBackupJobParams{
		BackupID:        backupID,
		Host:            srv.Host,
		Port:            srv.Port,
		AdminSecretName: srv.AdminSecretName,
		DBName:          inst.DBName,
	}).Get(ctx, &result)
	if err != nil {
		_ = setBackupFailed(ctx, backupID)
		return err
	}

	// Off-host copy is best effort; the on-host artifacts already satisfy
	// the backup.
	var objectKey string
	err = workflow.ExecuteActivity(lctx, "UploadBackupArchive", result.ArchivePath).Get(ctx, &objectKey)
	if err != nil {
		workflow.GetLogger(ctx).Warn("backup archive upload failed", "backup_id", backupID, "error", err)
	}

	err = workflow.ExecuteActivity(actx, "UpdateBackupRecord", activity.UpdateBackupRecordParams{
		ID:               backupID,
		Status:           model.BackupStatusCompleted,
		DumpPath:         result.DumpPath,
		ArchivePath:      result.ArchivePath,
		DumpSizeBytes:    result.DumpSizeBytes,
		ArchiveSizeBytes: result.ArchiveSizeBytes,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	notify(ctx, activity.NotifyParams{
		Event:      "backup.completed",
		InstanceID: inst.ID,
		Detail:     map[string]any{"backup_id": backupID},
	})
	return nil
}

// RestoreInstanceWorkflow stops an instance, restores a backup into its
// tenant database, and starts it again. A locally missing archive is fetched
// from object storage before giving up.
func RestoreInstanceWorkflow(ctx workflow.Context, instanceID, backupID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var backup model.Backup
	err := workflow.ExecuteActivity(actx, "GetBackupByID", backupID).Get(ctx, &backup)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}

	var inst model.Instance
	err = workflow.ExecuteActivity(actx, "GetInstanceByID", instanceID).Get(ctx, &inst)
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
	}
	if inst.DBServerID == nil {
		noServerErr := fmt.Errorf("instance %s has no database server", instanceID)
		_ = setInstanceFailed(ctx, instanceID, noServerErr)
		return noServerErr
	}

	var srv model.DBServer
	err = workflow.ExecuteActivity(actx, "GetDBServerByID", *inst.DBServerID).Get(ctx, &srv)
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

	restoreParams := activity.RunRestoreJobParams{
		BackupID:        backupID,
		ArchivePath:     backup.ArchivePath,
		Host:            srv.Host,
		Port:            srv.Port,
		AdminSecretName: srv.AdminSecretName,
		DBName:          inst.DBName,
	}
	err = workflow.ExecuteActivity(lctx, "RunRestoreJob", restoreParams).Get(ctx, nil)
	if err != nil && isArchiveNotFound(err) {
		// On-host artifacts were cleaned up; pull the archive back from
		// object storage and retry once.
		key := "backups/" + path.Base(backup.ArchivePath)
		dlErr := workflow.ExecuteActivity(lctx, "DownloadBackupArchive", activity.DownloadBackupArchiveParams{
			Key:       key,
			LocalPath: backup.ArchivePath,
		}).Get(ctx, nil)
		if dlErr != nil {
			_ = setInstanceFailed(ctx, instanceID, dlErr)
			return dlErr
		}
		err = workflow.ExecuteActivity(lctx, "RunRestoreJob", restoreParams).Get(ctx, nil)
	}
	if err != nil {
		_ = setInstanceFailed(ctx, instanceID, err)
		return err
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

	if err := setInstanceStatus(ctx, instanceID, model.InstanceStatusRunning); err != nil {
		return err
	}

	notify(ctx, activity.NotifyParams{
		Event:      "instance.restored",
		InstanceID: instanceID,
		Detail:     map[string]any{"backup_id": backupID},
	})
	return nil
}

// CleanupOldBackupsWorkflow runs on a cron schedule and deletes completed
// backups past the retention window, on-host artifacts and object copies
// included.
func CleanupOldBackupsWorkflow(ctx workflow.Context, retentionDays int) error {
	actx := defaultActivityCtx(ctx)

	var expired []model.Backup
	err := workflow.ExecuteActivity(actx, "ListExpiredBackups", retentionDays).Get(ctx, &expired)
	if err != nil {
		return fmt.Errorf("list expired backups: %w", err)
	}

	for _, backup := range expired {
		if err := workflow.ExecuteActivity(actx, "DeleteBackupArtifacts", backup.ID).Get(ctx, nil); err != nil {
			workflow.GetLogger(ctx).Warn("delete backup artifacts failed", "backup_id", backup.ID, "error", err)
			continue
		}
		if backup.ArchivePath != "" {
			key := "backups/" + path.Base(backup.ArchivePath)
			if err := workflow.ExecuteActivity(actx, "DeleteBackupObject", key).Get(ctx, nil); err != nil {
				workflow.GetLogger(ctx).Warn("delete backup object failed", "backup_id", backup.ID, "error", err)
				continue
			}
		}
		if err := workflow.ExecuteActivity(actx, "MarkBackupDeleted", backup.ID).Get(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

func setBackupFailed(ctx workflow.Context, backupID string) error {
	return workflow.ExecuteActivity(defaultActivityCtx(ctx), "UpdateBackupRecord", activity.UpdateBackupRecordParams{
		ID:     backupID,
		Status: model.BackupStatusFailed,
	}).Get(ctx, nil)
}

func isArchiveNotFound(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == "ARCHIVE_NOT_FOUND"
}
