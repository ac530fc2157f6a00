package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/matteo/erphost/internal/model"
)

func scanBackupRow(b model.Backup) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = b.ID
		*(dest[1].(*string)) = b.Name
		*(dest[2].(*string)) = b.InstanceID
		*(dest[3].(*string)) = b.DumpPath
		*(dest[4].(*string)) = b.ArchivePath
		*(dest[5].(*int64)) = b.DumpSizeBytes
		*(dest[6].(*int64)) = b.ArchiveSizeBytes
		*(dest[7].(*string)) = b.Status
		*(dest[8].(**time.Time)) = b.StartedAt
		*(dest[9].(**time.Time)) = b.CompletedAt
		*(dest[10].(*time.Time)) = b.CreatedAt
		*(dest[11].(*time.Time)) = b.UpdatedAt
		return nil
	}
}

func TestBackupService_CreateForInstance(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(db, tc)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	wfRun := &temporalmocks.WorkflowRun{}
	wfRun.On("GetID").Return("mock-wf-id")
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "CreateBackupWorkflow", mock.AnythingOfType("string")).
		Return(wfRun, nil)

	backup, err := svc.CreateForInstance(ctx, "test-instance-1")
	require.NoError(t, err)
	assert.Equal(t, "test-instance-1", backup.InstanceID)
	assert.Equal(t, model.BackupStatusPending, backup.Status)
	assert.NotEmpty(t, backup.ID)
	assert.Contains(t, backup.Name, "backup-")
	db.AssertExpectations(t)
	tc.AssertExpectations(t)
}

func TestBackupService_CreateForInstance_InsertError(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(db, tc)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("db error"))

	_, err := svc.CreateForInstance(ctx, "test-instance-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert backup")
	tc.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBackupService_GetByID(t *testing.T) {
	db := &mockDB{}
	svc := NewBackupService(db, &temporalmocks.Client{})
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	want := model.Backup{
		ID:         "test-backup-1",
		Name:       "backup-20260829-120000",
		InstanceID: "test-instance-1",
		Status:     model.BackupStatusCompleted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: scanBackupRow(want)})

	backup, err := svc.GetByID(ctx, "test-backup-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, backup.ID)
	assert.Equal(t, model.BackupStatusCompleted, backup.Status)
}

func TestBackupService_ListForInstance(t *testing.T) {
	db := &mockDB{}
	svc := NewBackupService(db, &temporalmocks.Client{})
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(
			scanBackupRow(model.Backup{ID: "test-backup-2", InstanceID: "test-instance-1", Status: model.BackupStatusCompleted, CreatedAt: now, UpdatedAt: now}),
			scanBackupRow(model.Backup{ID: "test-backup-1", InstanceID: "test-instance-1", Status: model.BackupStatusCompleted, CreatedAt: now, UpdatedAt: now}),
		), nil)

	backups, err := svc.ListForInstance(ctx, "test-instance-1")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "test-backup-2", backups[0].ID)
}
