package core

import (
	"context"
	"fmt"
	"time"

	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/platform"
)

const dbServerColumns = `id, name, host, port, server_type, max_instances, current_instances,
	status, health_status, health_check_failures, allocation_strategy, priority,
	dedicated_customer_id, dedicated_instance_id, admin_secret_name,
	last_health_check_at, created_at, updated_at`

// DBServerService is the pool registry: durable records of database servers,
// their capacity counters and health state. The conditional counter updates
// here are the sole mutual-exclusion point for allocation capacity.
type DBServerService struct {
	db DB
}

func NewDBServerService(db DB) *DBServerService {
	return &DBServerService{db: db}
}

func scanDBServer(row interface{ Scan(...any) error }) (*model.DBServer, error) {
	var s model.DBServer
	err := row.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.ServerType, &s.MaxInstances,
		&s.CurrentInstances, &s.Status, &s.HealthStatus, &s.HealthCheckFailures,
		&s.AllocationStrategy, &s.Priority, &s.DedicatedCustomerID, &s.DedicatedInstanceID,
		&s.AdminSecretName, &s.LastHealthCheckAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *DBServerService) GetByID(ctx context.Context, id string) (*model.DBServer, error) {
	srv, err := scanDBServer(s.db.QueryRow(ctx,
		`SELECT `+dbServerColumns+` FROM db_servers WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get db server %s: %w", id, err)
	}
	return srv, nil
}

func (s *DBServerService) GetByName(ctx context.Context, name string) (*model.DBServer, error) {
	srv, err := scanDBServer(s.db.QueryRow(ctx,
		`SELECT `+dbServerColumns+` FROM db_servers WHERE name = $1`, name))
	if err != nil {
		return nil, fmt.Errorf("get db server %q: %w", name, err)
	}
	return srv, nil
}

func (s *DBServerService) List(ctx context.Context) ([]model.DBServer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+dbServerColumns+` FROM db_servers WHERE status != $1 ORDER BY priority, name`,
		model.ServerStatusDeprovisioned)
	if err != nil {
		return nil, fmt.Errorf("list db servers: %w", err)
	}
	defer rows.Close()

	var servers []model.DBServer
	for rows.Next() {
		srv, err := scanDBServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan db server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate db servers: %w", err)
	}
	return servers, nil
}

// ListAllocatable returns shared pools eligible for a new tenant database,
// preferred pools first, then least-loaded among equal priority. The read is
// advisory only; ReserveSlot arbitrates under concurrency.
func (s *DBServerService) ListAllocatable(ctx context.Context) ([]model.DBServer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+dbServerColumns+` FROM db_servers
		 WHERE server_type = $1 AND status = $2
		   AND health_status IN ($3, $4)
		   AND current_instances < max_instances
		   AND allocation_strategy = $5
		 ORDER BY priority ASC, current_instances ASC`,
		model.ServerTypeShared, model.ServerStatusActive,
		model.HealthHealthy, model.HealthUnknown, model.AllocationAuto)
	if err != nil {
		return nil, fmt.Errorf("list allocatable servers: %w", err)
	}
	defer rows.Close()

	var servers []model.DBServer
	for rows.Next() {
		srv, err := scanDBServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan db server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate db servers: %w", err)
	}
	return servers, nil
}

// ReserveSlot increments current_instances if, and only if, the server is
// still active with spare capacity. Returns false when the slot was lost to
// a concurrent allocation or a status change; that is "no capacity", not an
// error. A server reaching max flips to full.
func (s *DBServerService) ReserveSlot(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE db_servers
		 SET current_instances = current_instances + 1,
		     status = CASE WHEN current_instances + 1 >= max_instances THEN $1 ELSE status END,
		     updated_at = now()
		 WHERE id = $2 AND status = $3 AND current_instances < max_instances`,
		model.ServerStatusFull, id, model.ServerStatusActive)
	if err != nil {
		return false, fmt.Errorf("reserve slot on %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSlot decrements current_instances, un-flipping full back to active.
// The guard keeps the counter non-negative if a release is replayed.
func (s *DBServerService) ReleaseSlot(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE db_servers
		 SET current_instances = current_instances - 1,
		     status = CASE WHEN status = $1 THEN $2 ELSE status END,
		     updated_at = now()
		 WHERE id = $3 AND current_instances > 0`,
		model.ServerStatusFull, model.ServerStatusActive, id)
	if err != nil {
		return fmt.Errorf("release slot on %s: %w", id, err)
	}
	return nil
}

// UpsertProvisioningParams holds the identity of a server row to create or
// reuse before cluster creation begins.
type UpsertProvisioningParams struct {
	Name                string
	ServerType          string
	MaxInstances        int
	Priority            int
	DedicatedCustomerID *string
	DedicatedInstanceID *string
}

// UpsertProvisioning creates the registry row for a server about to be
// provisioned, keyed by its deterministic name. If the row already exists it
// is reused: an error row is reset to provisioning so the workflow can rerun
// from the top, and any other row is returned as-is. This makes provisioning
// safe to re-execute after a crash between steps.
func (s *DBServerService) UpsertProvisioning(ctx context.Context, params UpsertProvisioningParams) (*model.DBServer, error) {
	now := time.Now()
	srv, err := scanDBServer(s.db.QueryRow(ctx,
		`INSERT INTO db_servers (id, name, server_type, max_instances, priority,
			dedicated_customer_id, dedicated_instance_id, status, health_status,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (name) DO UPDATE SET
			status = CASE WHEN db_servers.status = $11 THEN $8 ELSE db_servers.status END,
			health_status = CASE WHEN db_servers.status = $11 THEN $9 ELSE db_servers.health_status END,
			health_check_failures = CASE WHEN db_servers.status = $11 THEN 0 ELSE db_servers.health_check_failures END,
			updated_at = $10
		 RETURNING `+dbServerColumns,
		platform.NewID(), params.Name, params.ServerType, params.MaxInstances,
		params.Priority, params.DedicatedCustomerID, params.DedicatedInstanceID,
		model.ServerStatusProvisioning, model.HealthUnknown, now, model.ServerStatusError))
	if err != nil {
		return nil, fmt.Errorf("upsert provisioning server %q: %w", params.Name, err)
	}
	return srv, nil
}

// MarkActive records the endpoint and credential reference of a successfully
// provisioned server and opens it for allocation.
func (s *DBServerService) MarkActive(ctx context.Context, id, host string, port int, adminSecretName string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE db_servers
		 SET status = $1, health_status = $2, health_check_failures = 0,
		     host = $3, port = $4, admin_secret_name = $5, updated_at = now()
		 WHERE id = $6`,
		model.ServerStatusActive, model.HealthHealthy, host, port, adminSecretName, id)
	if err != nil {
		return fmt.Errorf("mark server %s active: %w", id, err)
	}
	return nil
}

// MarkError parks a server in error/unhealthy after a provisioning failure.
func (s *DBServerService) MarkError(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE db_servers SET status = $1, health_status = $2, updated_at = now() WHERE id = $3`,
		model.ServerStatusError, model.HealthUnhealthy, id)
	if err != nil {
		return fmt.Errorf("mark server %s error: %w", id, err)
	}
	return nil
}

// ListForHealthCheck returns probe candidates, least recently checked first.
func (s *DBServerService) ListForHealthCheck(ctx context.Context, limit int) ([]model.DBServer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+dbServerColumns+` FROM db_servers
		 WHERE status IN ($1, $2, $3, $4)
		 ORDER BY last_health_check_at ASC NULLS FIRST
		 LIMIT $5`,
		model.ServerStatusActive, model.ServerStatusFull,
		model.ServerStatusInitializing, model.ServerStatusError, limit)
	if err != nil {
		return nil, fmt.Errorf("list servers for health check: %w", err)
	}
	defer rows.Close()

	var servers []model.DBServer
	for rows.Next() {
		srv, err := scanDBServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan db server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate db servers: %w", err)
	}
	return servers, nil
}

// RecordHealth writes the outcome of one probe cycle for a server.
func (s *DBServerService) RecordHealth(ctx context.Context, id, status, healthStatus string, failures int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE db_servers
		 SET status = $1, health_status = $2, health_check_failures = $3,
		     last_health_check_at = now(), updated_at = now()
		 WHERE id = $4`,
		status, healthStatus, failures, id)
	if err != nil {
		return fmt.Errorf("record health for %s: %w", id, err)
	}
	return nil
}

// NextPoolSequence returns the next sequence number for naming a shared pool.
func (s *DBServerService) NextPoolSequence(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM db_servers WHERE server_type = $1`, model.ServerTypeShared,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count shared pools: %w", err)
	}
	return n + 1, nil
}
