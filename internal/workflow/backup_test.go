package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

func makeBackup(status string) model.Backup {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return model.Backup{
		ID:          "test-backup-1",
		Name:        "backup-20260801-120000",
		InstanceID:  "test-instance-1",
		ArchivePath: "/var/lib/erphost/backups/test-backup-1.tar.gz",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ---------- CreateBackupWorkflow ----------

type CreateBackupWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CreateBackupWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CreateBackupWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CreateBackupWorkflowTestSuite) TestSuccess() {
	backup := makeBackup(model.BackupStatusPending)
	inst := makeInstance(model.InstanceStatusRunning)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: backup.ID, Status: model.BackupStatusRunning,
	}).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, activity.RunBackupJobParams{
		BackupID:        backup.ID,
		Host:            srv.Host,
		Port:            srv.Port,
		AdminSecretName: srv.AdminSecretName,
		DBName:          inst.DBName,
	}).Return(&activity.RunBackupJobResult{
		DumpPath:         "/var/lib/erphost/backups/test-backup-1.dump",
		ArchivePath:      backup.ArchivePath,
		DumpSizeBytes:    1 << 20,
		ArchiveSizeBytes: 1 << 18,
	}, nil)
	s.env.OnActivity("UploadBackupArchive", mock.Anything, backup.ArchivePath).
		Return("backups/test-backup-1.tar.gz", nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID:               backup.ID,
		Status:           model.BackupStatusCompleted,
		DumpPath:         "/var/lib/erphost/backups/test-backup-1.dump",
		ArchivePath:      backup.ArchivePath,
		DumpSizeBytes:    1 << 20,
		ArchiveSizeBytes: 1 << 18,
	}).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("backup.completed")).Return(nil)

	s.env.ExecuteWorkflow(CreateBackupWorkflow, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CreateBackupWorkflowTestSuite) TestJobFails_MarksBackupFailed() {
	backup := makeBackup(model.BackupStatusPending)
	inst := makeInstance(model.InstanceStatusRunning)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: backup.ID, Status: model.BackupStatusRunning,
	}).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("pg_dump exited 1"))
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: backup.ID, Status: model.BackupStatusFailed,
	}).Return(nil)

	s.env.ExecuteWorkflow(CreateBackupWorkflow, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *CreateBackupWorkflowTestSuite) TestUploadFailureIsNotFatal() {
	backup := makeBackup(model.BackupStatusPending)
	inst := makeInstance(model.InstanceStatusRunning)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: backup.ID, Status: model.BackupStatusRunning,
	}).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, mock.Anything).
		Return(&activity.RunBackupJobResult{ArchivePath: backup.ArchivePath}, nil)
	s.env.OnActivity("UploadBackupArchive", mock.Anything, backup.ArchivePath).
		Return("", fmt.Errorf("bucket unreachable"))
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID:          backup.ID,
		Status:      model.BackupStatusCompleted,
		ArchivePath: backup.ArchivePath,
	}).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("backup.completed")).Return(nil)

	s.env.ExecuteWorkflow(CreateBackupWorkflow, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestCreateBackupWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(CreateBackupWorkflowTestSuite))
}

// ---------- RestoreInstanceWorkflow ----------

type RestoreInstanceWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *RestoreInstanceWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *RestoreInstanceWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *RestoreInstanceWorkflowTestSuite) TestSuccess() {
	backup := makeBackup(model.BackupStatusCompleted)
	inst := makeInstance(model.InstanceStatusMaintenance)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 0,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("RunRestoreJob", mock.Anything, activity.RunRestoreJobParams{
		BackupID:        backup.ID,
		ArchivePath:     backup.ArchivePath,
		Host:            srv.Host,
		Port:            srv.Port,
		AdminSecretName: srv.AdminSecretName,
		DBName:          inst.DBName,
	}).Return(nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 1,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentReady", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusRunning,
	}).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.restored")).Return(nil)

	s.env.ExecuteWorkflow(RestoreInstanceWorkflow, inst.ID, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *RestoreInstanceWorkflowTestSuite) TestMissingArchiveFetchedFromObjectStorage() {
	backup := makeBackup(model.BackupStatusCompleted)
	inst := makeInstance(model.InstanceStatusMaintenance)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 0,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)

	// First attempt finds no on-host archive; the workflow pulls it back
	// from the bucket and retries once.
	s.env.OnActivity("RunRestoreJob", mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("backup archive not found", "ARCHIVE_NOT_FOUND", nil)).Once()
	s.env.OnActivity("DownloadBackupArchive", mock.Anything, activity.DownloadBackupArchiveParams{
		Key:       "backups/test-backup-1.tar.gz",
		LocalPath: backup.ArchivePath,
	}).Return(nil)
	s.env.OnActivity("RunRestoreJob", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 1,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentReady", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusRunning,
	}).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.restored")).Return(nil)

	s.env.ExecuteWorkflow(RestoreInstanceWorkflow, inst.ID, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *RestoreInstanceWorkflowTestSuite) TestRestoreFails_SetsError() {
	backup := makeBackup(model.BackupStatusCompleted)
	inst := makeInstance(model.InstanceStatusMaintenance)
	srv := makeServer("test-server-1", model.ServerTypeShared)

	s.env.OnActivity("GetBackupByID", mock.Anything, backup.ID).Return(&backup, nil)
	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, srv.ID).Return(&srv, nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("RunRestoreJob", mock.Anything, mock.Anything).
		Return(fmt.Errorf("pg_restore exited 1"))
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, matchFailedStatus(inst.ID)).Return(nil)

	s.env.ExecuteWorkflow(RestoreInstanceWorkflow, inst.ID, backup.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestRestoreInstanceWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(RestoreInstanceWorkflowTestSuite))
}

// ---------- CleanupOldBackupsWorkflow ----------

type CleanupOldBackupsWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CleanupOldBackupsWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CleanupOldBackupsWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CleanupOldBackupsWorkflowTestSuite) TestDeletesExpired() {
	expired := makeBackup(model.BackupStatusCompleted)

	s.env.OnActivity("ListExpiredBackups", mock.Anything, 30).
		Return([]model.Backup{expired}, nil)
	s.env.OnActivity("DeleteBackupArtifacts", mock.Anything, expired.ID).Return(nil)
	s.env.OnActivity("DeleteBackupObject", mock.Anything, "backups/test-backup-1.tar.gz").Return(nil)
	s.env.OnActivity("MarkBackupDeleted", mock.Anything, expired.ID).Return(nil)

	s.env.ExecuteWorkflow(CleanupOldBackupsWorkflow, 30)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CleanupOldBackupsWorkflowTestSuite) TestArtifactFailureSkipsRecord() {
	expired := makeBackup(model.BackupStatusCompleted)

	s.env.OnActivity("ListExpiredBackups", mock.Anything, 30).
		Return([]model.Backup{expired}, nil)
	s.env.OnActivity("DeleteBackupArtifacts", mock.Anything, expired.ID).
		Return(fmt.Errorf("permission denied"))

	// The record stays undeleted for the next run to retry.
	s.env.ExecuteWorkflow(CleanupOldBackupsWorkflow, 30)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.env.AssertNotCalled(s.T(), "MarkBackupDeleted", mock.Anything, expired.ID)
}

func (s *CleanupOldBackupsWorkflowTestSuite) TestNothingExpired() {
	s.env.OnActivity("ListExpiredBackups", mock.Anything, 30).
		Return([]model.Backup{}, nil)

	s.env.ExecuteWorkflow(CleanupOldBackupsWorkflow, 30)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestCleanupOldBackupsWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(CleanupOldBackupsWorkflowTestSuite))
}
