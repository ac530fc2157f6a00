package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

type MigrateToDedicatedWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *MigrateToDedicatedWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *MigrateToDedicatedWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *MigrateToDedicatedWorkflowTestSuite) TestSuccess() {
	inst := makeInstance(model.InstanceStatusMaintenance)
	source := makeServer("test-server-1", model.ServerTypeShared)
	target := makeServer("test-server-9", model.ServerTypeDedicated)
	target.Host = "10.0.1.9"
	target.MaxInstances = 1

	checkpoint := makeBackup(model.BackupStatusPending)

	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, source.ID).Return(&source, nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusMaintenance,
	}).Return(nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 0,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)

	// The checkpoint backup of the source database.
	s.env.OnActivity("CreateBackupRecord", mock.Anything, inst.ID).Return(&checkpoint, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: checkpoint.ID, Status: model.BackupStatusRunning,
	}).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, activity.RunBackupJobParams{
		BackupID:        checkpoint.ID,
		Host:            source.Host,
		Port:            source.Port,
		AdminSecretName: source.AdminSecretName,
		DBName:          inst.DBName,
	}).Return(&activity.RunBackupJobResult{
		DumpPath:         "/var/lib/erphost/backups/test-backup-1.dump",
		ArchivePath:      checkpoint.ArchivePath,
		DumpSizeBytes:    1 << 20,
		ArchiveSizeBytes: 1 << 18,
	}, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID:               checkpoint.ID,
		Status:           model.BackupStatusCompleted,
		DumpPath:         "/var/lib/erphost/backups/test-backup-1.dump",
		ArchivePath:      checkpoint.ArchivePath,
		DumpSizeBytes:    1 << 20,
		ArchiveSizeBytes: 1 << 18,
	}).Return(nil)

	s.env.OnActivity("EnsureDedicatedServer", mock.Anything, activity.EnsureDedicatedServerParams{
		InstanceID: inst.ID, CustomerID: inst.CustomerID,
	}).Return(&target, nil)
	s.env.OnActivity("ReserveServerSlot", mock.Anything, target.ID).Return(true, nil)
	s.env.OnActivity("SetInstanceDedicated", mock.Anything, activity.SetInstanceDedicatedParams{
		InstanceID: inst.ID,
		ServerID:   target.ID,
		Host:       target.Host,
		Port:       target.Port,
	}).Return(nil)

	// The role on the target carries the credential read back from the
	// deployment's config file, not a fresh one.
	s.env.OnActivity("ReadDeploymentConfig", mock.Anything, inst.DeploymentName).
		Return(&activity.DeploymentConfig{
			DBHost:     source.Host,
			DBPort:     source.Port,
			DBName:     inst.DBName,
			DBUser:     inst.DBUser,
			DBPassword: "existing-secret",
		}, nil)
	s.env.OnActivity("RecreateTenantRole", mock.Anything, activity.RecreateTenantRoleParams{
		Server:   activity.TargetFromServer(target),
		DBUser:   inst.DBUser,
		Password: "existing-secret",
	}).Return(nil)
	s.env.OnActivity("CreateTenantDatabase", mock.Anything, activity.CreateTenantDatabaseParams{
		Server:   activity.TargetFromServer(target),
		DBName:   inst.DBName,
		DBUser:   inst.DBUser,
		Password: "existing-secret",
	}).Return(nil)
	s.env.OnActivity("RunRestoreJob", mock.Anything, activity.RunRestoreJobParams{
		BackupID:        checkpoint.ID,
		ArchivePath:     checkpoint.ArchivePath,
		Host:            target.Host,
		Port:            target.Port,
		AdminSecretName: target.AdminSecretName,
		DBName:          inst.DBName,
	}).Return(nil)

	// Only host and port change in the config; the credential is untouched.
	s.env.OnActivity("RewriteDeploymentConfig", mock.Anything, activity.RewriteDeploymentConfigParams{
		Name: inst.DeploymentName,
		Values: map[string]any{
			"db_host": target.Host,
			"db_port": target.Port,
		},
	}).Return(nil)

	s.env.OnActivity("ScaleDeployment", mock.Anything, activity.ScaleDeploymentParams{
		Name: inst.DeploymentName, Replicas: 1,
	}).Return(nil)
	s.env.OnActivity("WaitForDeploymentReady", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusRunning,
	}).Return(nil)
	s.env.OnActivity("ReleaseServerSlot", mock.Anything, source.ID).Return(nil)
	s.env.OnActivity("DropTenantDatabase", mock.Anything, activity.DropTenantDatabaseParams{
		Server: activity.TargetFromServer(source),
		DBName: inst.DBName,
		DBUser: inst.DBUser,
	}).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.migrated_to_dedicated")).Return(nil)

	s.env.ExecuteWorkflow(MigrateToDedicatedWorkflow, inst.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *MigrateToDedicatedWorkflowTestSuite) TestAlreadyDedicatedIsNoOp() {
	inst := makeInstance(model.InstanceStatusRunning)
	inst.DedicatedDB = true

	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)

	s.env.ExecuteWorkflow(MigrateToDedicatedWorkflow, inst.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.env.AssertNotCalled(s.T(), "EnsureDedicatedServer", mock.Anything, mock.Anything)
}

func (s *MigrateToDedicatedWorkflowTestSuite) TestBackupFails_NothingMoves() {
	inst := makeInstance(model.InstanceStatusMaintenance)
	source := makeServer("test-server-1", model.ServerTypeShared)
	checkpoint := makeBackup(model.BackupStatusPending)

	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, source.ID).Return(&source, nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusMaintenance,
	}).Return(nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("CreateBackupRecord", mock.Anything, inst.ID).Return(&checkpoint, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: checkpoint.ID, Status: model.BackupStatusRunning,
	}).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("pg_dump exited 1"))
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, activity.UpdateBackupRecordParams{
		ID: checkpoint.ID, Status: model.BackupStatusFailed,
	}).Return(nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, matchFailedStatus(inst.ID)).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.migration_failed")).Return(nil)

	s.env.ExecuteWorkflow(MigrateToDedicatedWorkflow, inst.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	s.Contains(s.env.GetWorkflowError().Error(), "backup")

	// Without a checkpoint nothing is provisioned or moved.
	s.env.AssertNotCalled(s.T(), "EnsureDedicatedServer", mock.Anything, mock.Anything)
	s.env.AssertNotCalled(s.T(), "SetInstanceDedicated", mock.Anything, mock.Anything)
	s.env.AssertNotCalled(s.T(), "RunRestoreJob", mock.Anything, mock.Anything)
}

func (s *MigrateToDedicatedWorkflowTestSuite) TestRestoreFails_SourceSurvives() {
	inst := makeInstance(model.InstanceStatusMaintenance)
	source := makeServer("test-server-1", model.ServerTypeShared)
	target := makeServer("test-server-9", model.ServerTypeDedicated)
	checkpoint := makeBackup(model.BackupStatusPending)

	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, source.ID).Return(&source, nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusMaintenance,
	}).Return(nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("CreateBackupRecord", mock.Anything, inst.ID).Return(&checkpoint, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, mock.Anything).
		Return(&activity.RunBackupJobResult{ArchivePath: checkpoint.ArchivePath}, nil)
	s.env.OnActivity("EnsureDedicatedServer", mock.Anything, mock.Anything).Return(&target, nil)
	s.env.OnActivity("ReserveServerSlot", mock.Anything, target.ID).Return(true, nil)
	s.env.OnActivity("SetInstanceDedicated", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("ReadDeploymentConfig", mock.Anything, inst.DeploymentName).
		Return(&activity.DeploymentConfig{DBPassword: "existing-secret"}, nil)
	s.env.OnActivity("RecreateTenantRole", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("CreateTenantDatabase", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("RunRestoreJob", mock.Anything, mock.Anything).
		Return(fmt.Errorf("pg_restore exited 1"))
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, matchFailedStatus(inst.ID)).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.migration_failed")).Return(nil)

	s.env.ExecuteWorkflow(MigrateToDedicatedWorkflow, inst.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	s.Contains(s.env.GetWorkflowError().Error(), "restore_backup")

	// The source database and its capacity slot are untouched on failure;
	// the checkpoint backup is the recovery anchor.
	s.env.AssertNotCalled(s.T(), "DropTenantDatabase", mock.Anything, mock.Anything)
	s.env.AssertNotCalled(s.T(), "ReleaseServerSlot", mock.Anything, mock.Anything)
}

func (s *MigrateToDedicatedWorkflowTestSuite) TestSlotAlreadyClaimed_Fails() {
	inst := makeInstance(model.InstanceStatusMaintenance)
	source := makeServer("test-server-1", model.ServerTypeShared)
	target := makeServer("test-server-9", model.ServerTypeDedicated)
	checkpoint := makeBackup(model.BackupStatusPending)

	s.env.OnActivity("GetInstanceByID", mock.Anything, inst.ID).Return(&inst, nil)
	s.env.OnActivity("GetDBServerByID", mock.Anything, source.ID).Return(&source, nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, activity.UpdateInstanceStatusParams{
		ID: inst.ID, Status: model.InstanceStatusMaintenance,
	}).Return(nil)
	s.env.OnActivity("ScaleDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("WaitForDeploymentStopped", mock.Anything, inst.DeploymentName).Return(nil)
	s.env.OnActivity("CreateBackupRecord", mock.Anything, inst.ID).Return(&checkpoint, nil)
	s.env.OnActivity("UpdateBackupRecord", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("RunBackupJob", mock.Anything, mock.Anything).
		Return(&activity.RunBackupJobResult{ArchivePath: checkpoint.ArchivePath}, nil)
	s.env.OnActivity("EnsureDedicatedServer", mock.Anything, mock.Anything).Return(&target, nil)
	s.env.OnActivity("ReserveServerSlot", mock.Anything, target.ID).Return(false, nil)
	s.env.OnActivity("UpdateInstanceStatus", mock.Anything, matchFailedStatus(inst.ID)).Return(nil)
	s.env.OnActivity("Notify", mock.Anything, matchEvent("instance.migration_failed")).Return(nil)

	s.env.ExecuteWorkflow(MigrateToDedicatedWorkflow, inst.ID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	s.Contains(s.env.GetWorkflowError().Error(), "claim_target_slot")
	s.env.AssertNotCalled(s.T(), "SetInstanceDedicated", mock.Anything, mock.Anything)
}

func TestMigrateToDedicatedWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(MigrateToDedicatedWorkflowTestSuite))
}
