package core

import (
	"context"
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/platform"
)

const backupColumns = `id, name, instance_id, dump_path, archive_path, dump_size_bytes,
	archive_size_bytes, status, started_at, completed_at, created_at, updated_at`

// BackupService records backups and drives their execution through workflows.
type BackupService struct {
	db DB
	tc temporalclient.Client
}

func NewBackupService(db DB, tc temporalclient.Client) *BackupService {
	return &BackupService{db: db, tc: tc}
}

// CreateForInstance inserts a pending backup record and starts the workflow
// that produces the dump and archive.
func (s *BackupService) CreateForInstance(ctx context.Context, instanceID string) (*model.Backup, error) {
	now := time.Now().UTC()
	backup := &model.Backup{
		ID:         platform.NewID(),
		Name:       fmt.Sprintf("backup-%s", now.Format("20060102-150405")),
		InstanceID: instanceID,
		Status:     model.BackupStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO backups (id, name, instance_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		backup.ID, backup.Name, backup.InstanceID, backup.Status, backup.CreatedAt, backup.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}

	workflowID := fmt.Sprintf("backup-%s", backup.ID)
	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "CreateBackupWorkflow", backup.ID)
	if err != nil {
		return nil, fmt.Errorf("start CreateBackupWorkflow: %w", err)
	}

	return backup, nil
}

func scanBackup(row interface{ Scan(...any) error }) (*model.Backup, error) {
	var b model.Backup
	err := row.Scan(&b.ID, &b.Name, &b.InstanceID, &b.DumpPath, &b.ArchivePath,
		&b.DumpSizeBytes, &b.ArchiveSizeBytes, &b.Status, &b.StartedAt, &b.CompletedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BackupService) GetByID(ctx context.Context, id string) (*model.Backup, error) {
	backup, err := scanBackup(s.db.QueryRow(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return backup, nil
}

func (s *BackupService) ListForInstance(ctx context.Context, instanceID string) ([]model.Backup, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE instance_id = $1 AND status != $2 ORDER BY created_at DESC`,
		instanceID, model.BackupStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return backups, nil
}
