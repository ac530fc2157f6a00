package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/platform"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CoreDB contains activities that read from and update the core database.
type CoreDB struct {
	db DB
}

// NewCoreDB creates a new CoreDB activity struct.
func NewCoreDB(db DB) *CoreDB {
	return &CoreDB{db: db}
}

// UpdateInstanceStatusParams holds the parameters for UpdateInstanceStatus.
type UpdateInstanceStatusParams struct {
	ID           string
	Status       string
	ErrorMessage string
}

// UpdateInstanceStatus sets the status of an instance. A non-empty
// ErrorMessage is recorded alongside; otherwise any previous message is
// cleared.
func (a *CoreDB) UpdateInstanceStatus(ctx context.Context, params UpdateInstanceStatusParams) error {
	var errMsg *string
	if params.ErrorMessage != "" {
		errMsg = &params.ErrorMessage
	}
	_, err := a.db.Exec(ctx,
		`UPDATE instances SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		params.Status, errMsg, params.ID)
	return err
}

// GetInstanceByID retrieves an instance by its ID.
func (a *CoreDB) GetInstanceByID(ctx context.Context, id string) (*model.Instance, error) {
	var i model.Instance
	err := a.db.QueryRow(ctx,
		`SELECT id, customer_id, subscription_id, name, plan_tier, status, billing_status,
			provisioning_status, db_server_id, db_host, db_port, db_name, db_user,
			dedicated_db, cpu_limit, memory_limit_mb, deployment_name, service_name,
			internal_url, external_url, error_message, created_at, updated_at
		 FROM instances WHERE id = $1`, id,
	).Scan(&i.ID, &i.CustomerID, &i.SubscriptionID, &i.Name, &i.PlanTier, &i.Status,
		&i.BillingStatus, &i.ProvisioningStatus, &i.DBServerID, &i.DBHost, &i.DBPort,
		&i.DBName, &i.DBUser, &i.DedicatedDB, &i.CPULimit, &i.MemoryLimitMB,
		&i.DeploymentName, &i.ServiceName, &i.InternalURL, &i.ExternalURL,
		&i.ErrorMessage, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get instance by id: %w", err)
	}
	return &i, nil
}

// UpdateInstanceConnectionParams holds the database connection fields written
// after an allocation or migration. The password is deliberately absent; only
// non-secret coordinates are persisted.
type UpdateInstanceConnectionParams struct {
	ID          string
	DBServerID  string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DedicatedDB bool
}

// UpdateInstanceConnection points an instance at its database.
func (a *CoreDB) UpdateInstanceConnection(ctx context.Context, params UpdateInstanceConnectionParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE instances SET db_server_id = $1, db_host = $2, db_port = $3,
			db_name = $4, db_user = $5, dedicated_db = $6, updated_at = now()
		 WHERE id = $7`,
		params.DBServerID, params.DBHost, params.DBPort, params.DBName,
		params.DBUser, params.DedicatedDB, params.ID)
	return err
}

// UpdateInstanceDeploymentParams holds the orchestrator-facing fields written
// during provisioning.
type UpdateInstanceDeploymentParams struct {
	ID             string
	DeploymentName string
	ServiceName    string
	InternalURL    string
	ExternalURL    string
}

// UpdateInstanceDeployment records the deployment coordinates of an instance.
func (a *CoreDB) UpdateInstanceDeployment(ctx context.Context, params UpdateInstanceDeploymentParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE instances SET deployment_name = $1, service_name = $2,
			internal_url = $3, external_url = $4, provisioning_status = 'completed',
			updated_at = now()
		 WHERE id = $5`,
		params.DeploymentName, params.ServiceName, params.InternalURL,
		params.ExternalURL, params.ID)
	return err
}

// GetDBServerByID retrieves a database server by its ID.
func (a *CoreDB) GetDBServerByID(ctx context.Context, id string) (*model.DBServer, error) {
	var s model.DBServer
	err := a.db.QueryRow(ctx,
		`SELECT id, name, host, port, server_type, max_instances, current_instances,
			status, health_status, health_check_failures, allocation_strategy, priority,
			dedicated_customer_id, dedicated_instance_id, admin_secret_name,
			last_health_check_at, created_at, updated_at
		 FROM db_servers WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.ServerType, &s.MaxInstances,
		&s.CurrentInstances, &s.Status, &s.HealthStatus, &s.HealthCheckFailures,
		&s.AllocationStrategy, &s.Priority, &s.DedicatedCustomerID, &s.DedicatedInstanceID,
		&s.AdminSecretName, &s.LastHealthCheckAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get db server by id: %w", err)
	}
	return &s, nil
}

// ListServersForHealthCheck returns allocatable-tracked servers ordered by
// how stale their last probe is.
func (a *CoreDB) ListServersForHealthCheck(ctx context.Context, limit int) ([]model.DBServer, error) {
	rows, err := a.db.Query(ctx,
		`SELECT id, name, host, port, server_type, max_instances, current_instances,
			status, health_status, health_check_failures, allocation_strategy, priority,
			dedicated_customer_id, dedicated_instance_id, admin_secret_name,
			last_health_check_at, created_at, updated_at
		 FROM db_servers
		 WHERE status IN ('active', 'full', 'initializing', 'error')
		 ORDER BY last_health_check_at ASC NULLS FIRST
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list servers for health check: %w", err)
	}
	defer rows.Close()

	var servers []model.DBServer
	for rows.Next() {
		var s model.DBServer
		err := rows.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.ServerType, &s.MaxInstances,
			&s.CurrentInstances, &s.Status, &s.HealthStatus, &s.HealthCheckFailures,
			&s.AllocationStrategy, &s.Priority, &s.DedicatedCustomerID, &s.DedicatedInstanceID,
			&s.AdminSecretName, &s.LastHealthCheckAt, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan db server: %w", err)
		}
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate db servers: %w", err)
	}
	return servers, nil
}

// RecordServerHealthParams holds the outcome of one health probe.
type RecordServerHealthParams struct {
	ID           string
	Status       string
	HealthStatus string
	Failures     int
}

// RecordServerHealth writes the probe outcome and stamps the check time.
func (a *CoreDB) RecordServerHealth(ctx context.Context, params RecordServerHealthParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE db_servers SET status = $1, health_status = $2,
			health_check_failures = $3, last_health_check_at = now(), updated_at = now()
		 WHERE id = $4`,
		params.Status, params.HealthStatus, params.Failures, params.ID)
	return err
}

// MarkServerActiveParams holds the endpoint written once a provisioned
// server is reachable.
type MarkServerActiveParams struct {
	ID              string
	Host            string
	Port            int
	AdminSecretName string
}

// MarkServerActive promotes a provisioning server to active with its
// endpoint and admin secret reference.
func (a *CoreDB) MarkServerActive(ctx context.Context, params MarkServerActiveParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE db_servers SET status = 'active', health_status = 'healthy',
			host = $1, port = $2, admin_secret_name = $3, updated_at = now()
		 WHERE id = $4`,
		params.Host, params.Port, params.AdminSecretName, params.ID)
	return err
}

// MarkServerError parks a server in error.
func (a *CoreDB) MarkServerError(ctx context.Context, id string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE db_servers SET status = 'error', updated_at = now() WHERE id = $1`, id)
	return err
}

// CreateBackupRecord inserts a pending backup record for an instance and
// returns it. Used by workflows that take a backup as one of their steps,
// outside the standalone backup flow.
func (a *CoreDB) CreateBackupRecord(ctx context.Context, instanceID string) (*model.Backup, error) {
	now := time.Now().UTC()
	backup := &model.Backup{
		ID:         platform.NewID(),
		Name:       fmt.Sprintf("backup-%s", now.Format("20060102-150405")),
		InstanceID: instanceID,
		Status:     model.BackupStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := a.db.Exec(ctx,
		`INSERT INTO backups (id, name, instance_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		backup.ID, backup.Name, backup.InstanceID, backup.Status, backup.CreatedAt, backup.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	return backup, nil
}

// UpdateBackupRecordParams holds the fields written as a backup progresses.
type UpdateBackupRecordParams struct {
	ID               string
	Status           string
	DumpPath         string
	ArchivePath      string
	DumpSizeBytes    int64
	ArchiveSizeBytes int64
}

// UpdateBackupRecord advances a backup record. Paths and sizes are only
// written when non-zero so partial updates keep earlier values.
func (a *CoreDB) UpdateBackupRecord(ctx context.Context, params UpdateBackupRecordParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE backups SET status = $1,
			dump_path = COALESCE(NULLIF($2, ''), dump_path),
			archive_path = COALESCE(NULLIF($3, ''), archive_path),
			dump_size_bytes = CASE WHEN $4 > 0 THEN $4 ELSE dump_size_bytes END,
			archive_size_bytes = CASE WHEN $5 > 0 THEN $5 ELSE archive_size_bytes END,
			started_at = CASE WHEN $1 = 'running' THEN now() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN now() ELSE completed_at END,
			updated_at = now()
		 WHERE id = $6`,
		params.Status, params.DumpPath, params.ArchivePath,
		params.DumpSizeBytes, params.ArchiveSizeBytes, params.ID)
	return err
}

// GetBackupByID retrieves a backup by its ID.
func (a *CoreDB) GetBackupByID(ctx context.Context, id string) (*model.Backup, error) {
	var b model.Backup
	err := a.db.QueryRow(ctx,
		`SELECT id, name, instance_id, dump_path, archive_path, dump_size_bytes,
			archive_size_bytes, status, started_at, completed_at, created_at, updated_at
		 FROM backups WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.InstanceID, &b.DumpPath, &b.ArchivePath, &b.DumpSizeBytes,
		&b.ArchiveSizeBytes, &b.Status, &b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get backup by id: %w", err)
	}
	return &b, nil
}

// ListExpiredBackups returns completed backups older than the retention
// window.
func (a *CoreDB) ListExpiredBackups(ctx context.Context, retentionDays int) ([]model.Backup, error) {
	rows, err := a.db.Query(ctx,
		`SELECT id, name, instance_id, dump_path, archive_path, dump_size_bytes,
			archive_size_bytes, status, started_at, completed_at, created_at, updated_at
		 FROM backups
		 WHERE status = 'completed' AND completed_at < now() - make_interval(days => $1)`,
		retentionDays)
	if err != nil {
		return nil, fmt.Errorf("list expired backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		var b model.Backup
		err := rows.Scan(&b.ID, &b.Name, &b.InstanceID, &b.DumpPath, &b.ArchivePath,
			&b.DumpSizeBytes, &b.ArchiveSizeBytes, &b.Status, &b.StartedAt, &b.CompletedAt,
			&b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return backups, nil
}

// MarkBackupDeleted finalizes a retention deletion.
func (a *CoreDB) MarkBackupDeleted(ctx context.Context, id string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE backups SET status = 'deleted', updated_at = now() WHERE id = $1`, id)
	return err
}

// SetInstanceDedicatedParams finalizes a migration to a dedicated server.
type SetInstanceDedicatedParams struct {
	InstanceID string
	ServerID   string
	Host       string
	Port       int
}

// SetInstanceDedicated repoints the instance at its dedicated server and
// flips the dedicated flag.
func (a *CoreDB) SetInstanceDedicated(ctx context.Context, params SetInstanceDedicatedParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE instances SET db_server_id = $1, db_host = $2, db_port = $3,
			dedicated_db = TRUE, updated_at = now()
		 WHERE id = $4`,
		params.ServerID, params.Host, params.Port, params.InstanceID)
	return err
}

// ReserveServerSlot books one capacity slot on a server. Returns false when
// the server is already full; the conditional update is the only arbiter.
func (a *CoreDB) ReserveServerSlot(ctx context.Context, serverID string) (bool, error) {
	tag, err := a.db.Exec(ctx,
		`UPDATE db_servers
		 SET current_instances = current_instances + 1,
			 status = CASE WHEN current_instances + 1 >= max_instances THEN 'full' ELSE status END,
			 updated_at = now()
		 WHERE id = $1 AND current_instances < max_instances`,
		serverID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseServerSlot decrements a pool's occupancy after a tenant leaves it.
func (a *CoreDB) ReleaseServerSlot(ctx context.Context, serverID string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE db_servers
		 SET current_instances = current_instances - 1,
			 status = CASE WHEN status = 'full' THEN 'active' ELSE status END,
			 updated_at = now()
		 WHERE id = $1 AND current_instances > 0`,
		serverID)
	return err
}
