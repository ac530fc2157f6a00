package core

import (
	"context"
	"fmt"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/matteo/erphost/internal/crypto"
	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/orchestrator"
	"github.com/matteo/erphost/internal/platform"
	"github.com/matteo/erphost/internal/pooldb"
)

// AllocateParams identifies the instance a tenant database is requested for.
type AllocateParams struct {
	InstanceID       string
	CustomerID       string
	PlanTier         string
	RequireDedicated *bool
}

// Allocation is a successful assignment. DBPassword exists only in memory
// for the duration of the call and is handed directly to the requesting
// workflow; it is never persisted.
type Allocation struct {
	ServerID   string `json:"server_id"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	DBName     string `json:"db_name"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
}

// AllocationResult is either an Allocation or Pending with a reason.
// Pending is an expected condition the caller polls or resolves by
// requesting provisioning; it is not a failure.
type AllocationResult struct {
	Allocated *Allocation `json:"allocated,omitempty"`
	Pending   bool        `json:"pending"`
	Reason    string      `json:"reason,omitempty"`
}

// TenantDatabases is the SQL-level surface the allocator needs on the
// database servers themselves. *pooldb.Client satisfies this interface.
type TenantDatabases interface {
	CreateTenantDatabase(ctx context.Context, admin pooldb.AdminConn, dbName, roleName, rolePassword string) error
	DropTenantDatabase(ctx context.Context, admin pooldb.AdminConn, dbName, roleName string) error
}

// AllocatorService selects a pool for a new tenant database, creates the
// database and owning role on it, and books the capacity. It also drives
// pool and dedicated-server provisioning through ProvisionServerWorkflow.
type AllocatorService struct {
	db      DB
	servers *DBServerService
	pools   TenantDatabases
	orch    orchestrator.Client
	tc      temporalclient.Client

	defaultPoolCapacity int
}

func NewAllocatorService(db DB, servers *DBServerService, pools TenantDatabases, orch orchestrator.Client, tc temporalclient.Client, defaultPoolCapacity int) *AllocatorService {
	return &AllocatorService{
		db:                  db,
		servers:             servers,
		pools:               pools,
		orch:                orch,
		tc:                  tc,
		defaultPoolCapacity: defaultPoolCapacity,
	}
}

// needsDedicated decides the database tier: explicit override wins, then
// plan-tier policy.
func needsDedicated(params AllocateParams) bool {
	if params.RequireDedicated != nil {
		return *params.RequireDedicated
	}
	return model.DedicatedTier(params.PlanTier)
}

// Allocate assigns a pool to the instance's database and creates the
// database and role on it. A dedicated requirement always returns Pending:
// the caller must request dedicated provisioning separately. For shared
// tiers, candidates are tried preferred-first; the conditional ReserveSlot
// update is the concurrency arbiter, and a lost race moves on to the next
// pool. DDL happens before the counter update, so a DDL failure never
// corrupts capacity bookkeeping.
func (s *AllocatorService) Allocate(ctx context.Context, params AllocateParams) (*AllocationResult, error) {
	if params.InstanceID == "" || params.CustomerID == "" {
		return nil, fmt.Errorf("instance_id and customer_id are required")
	}

	if needsDedicated(params) {
		return &AllocationResult{
			Pending: true,
			Reason:  "dedicated server provisioning required",
		}, nil
	}

	candidates, err := s.servers.ListAllocatable(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &AllocationResult{Pending: true, Reason: "no eligible pool, provisioning required"}, nil
	}

	dbName := platform.TenantDatabaseName(params.CustomerID, params.InstanceID)
	roleName := platform.TenantRoleName(params.CustomerID, params.InstanceID)

	password, err := crypto.GeneratePassword(32)
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}

	for i := range candidates {
		srv := &candidates[i]

		admin, err := s.adminConn(ctx, srv)
		if err != nil {
			// Credential lookup failure for one pool should not fail the
			// whole allocation; the health monitor will catch a sick pool.
			continue
		}

		if err := s.pools.CreateTenantDatabase(ctx, admin, dbName, roleName, password); err != nil {
			continue
		}

		reserved, err := s.servers.ReserveSlot(ctx, srv.ID)
		if err != nil {
			return nil, err
		}
		if !reserved {
			// Lost the capacity race after DDL succeeded. Undo the DDL
			// best-effort and move on; the next pool gets a fresh attempt.
			_ = s.pools.DropTenantDatabase(ctx, admin, dbName, roleName)
			continue
		}

		return &AllocationResult{
			Allocated: &Allocation{
				ServerID:   srv.ID,
				Host:       srv.Host,
				Port:       srv.Port,
				DBName:     dbName,
				DBUser:     roleName,
				DBPassword: password,
			},
		}, nil
	}

	return &AllocationResult{Pending: true, Reason: "all eligible pools exhausted, provisioning required"}, nil
}

// Deallocate releases the instance's capacity slot on its pool. Dropping the
// tenant database itself is a separate cleanup concern.
func (s *AllocatorService) Deallocate(ctx context.Context, serverID string) error {
	return s.servers.ReleaseSlot(ctx, serverID)
}

// ProvisionPool starts provisioning of a new shared pool and returns the
// registry row immediately; the workflow drives it to active/healthy.
func (s *AllocatorService) ProvisionPool(ctx context.Context, priority int) (*model.DBServer, error) {
	seq, err := s.servers.NextPoolSequence(ctx)
	if err != nil {
		return nil, err
	}
	name := platform.PoolName(seq)

	srv, err := s.servers.UpsertProvisioning(ctx, UpsertProvisioningParams{
		Name:         name,
		ServerType:   model.ServerTypeShared,
		MaxInstances: s.defaultPoolCapacity,
		Priority:     priority,
	})
	if err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("provision-server-%s", name)
	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "ProvisionServerWorkflow", srv.ID)
	if err != nil {
		return nil, fmt.Errorf("start ProvisionServerWorkflow: %w", err)
	}

	return srv, nil
}

// ProvisionDedicated provisions a dedicated server for the instance and
// blocks until the workflow completes. Callers should expect minutes-scale
// latency; the deterministic name makes re-invocation reuse the same row.
func (s *AllocatorService) ProvisionDedicated(ctx context.Context, instanceID, customerID string) (*model.DBServer, error) {
	name := platform.DedicatedServerName(customerID, instanceID)

	srv, err := s.servers.UpsertProvisioning(ctx, UpsertProvisioningParams{
		Name:                name,
		ServerType:          model.ServerTypeDedicated,
		MaxInstances:        1,
		Priority:            0,
		DedicatedCustomerID: &customerID,
		DedicatedInstanceID: &instanceID,
	})
	if err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("provision-server-%s", name)
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "ProvisionServerWorkflow", srv.ID)
	if err != nil {
		return nil, fmt.Errorf("start ProvisionServerWorkflow: %w", err)
	}

	if err := run.Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("provision dedicated server %q: %w", name, err)
	}

	return s.servers.GetByID(ctx, srv.ID)
}

// AllocateDedicated provisions (or reuses) the instance's dedicated server,
// creates the tenant database on it, and books its single slot. Blocks until
// the server is active.
func (s *AllocatorService) AllocateDedicated(ctx context.Context, params AllocateParams) (*Allocation, error) {
	srv, err := s.ProvisionDedicated(ctx, params.InstanceID, params.CustomerID)
	if err != nil {
		return nil, err
	}

	dbName := platform.TenantDatabaseName(params.CustomerID, params.InstanceID)
	roleName := platform.TenantRoleName(params.CustomerID, params.InstanceID)

	password, err := crypto.GeneratePassword(32)
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}

	admin, err := s.adminConn(ctx, srv)
	if err != nil {
		return nil, err
	}
	if err := s.pools.CreateTenantDatabase(ctx, admin, dbName, roleName, password); err != nil {
		return nil, fmt.Errorf("create tenant database on dedicated server %s: %w", srv.Name, err)
	}

	reserved, err := s.servers.ReserveSlot(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	if !reserved && srv.DedicatedInstanceID != nil && *srv.DedicatedInstanceID != params.InstanceID {
		return nil, fmt.Errorf("dedicated server %s already claimed", srv.Name)
	}

	return &Allocation{
		ServerID:   srv.ID,
		Host:       srv.Host,
		Port:       srv.Port,
		DBName:     dbName,
		DBUser:     roleName,
		DBPassword: password,
	}, nil
}

// adminConn resolves a server's admin credential reference from the platform
// secret store and pairs it with the server endpoint.
func (s *AllocatorService) adminConn(ctx context.Context, srv *model.DBServer) (pooldb.AdminConn, error) {
	if srv.AdminSecretName == "" {
		return pooldb.AdminConn{}, fmt.Errorf("server %s has no admin credential reference", srv.ID)
	}
	password, err := s.orch.ReadSecret(ctx, srv.AdminSecretName)
	if err != nil {
		return pooldb.AdminConn{}, err
	}
	return pooldb.AdminConn{
		Host:     srv.Host,
		Port:     srv.Port,
		User:     "postgres",
		Password: password,
	}, nil
}
