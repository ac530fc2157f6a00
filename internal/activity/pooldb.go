package activity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/orchestrator"
	"github.com/matteo/erphost/internal/pooldb"
)

// probeConcurrency bounds the health-probe fan-out.
const probeConcurrency = 8

// PoolDB contains activities that speak SQL to the pooled and dedicated
// database servers themselves. Admin credentials are read from the secret
// store per call and never persisted.
type PoolDB struct {
	pools *pooldb.Client
	orch  orchestrator.Client
}

// NewPoolDB creates a new PoolDB activity struct.
func NewPoolDB(pools *pooldb.Client, orch orchestrator.Client) *PoolDB {
	return &PoolDB{pools: pools, orch: orch}
}

func (a *PoolDB) adminConn(ctx context.Context, srv ServerTarget) (pooldb.AdminConn, error) {
	password, err := a.orch.ReadSecret(ctx, srv.AdminSecretName)
	if err != nil {
		return pooldb.AdminConn{}, fmt.Errorf("read admin secret %s: %w", srv.AdminSecretName, err)
	}
	return pooldb.AdminConn{
		Host:     srv.Host,
		Port:     srv.Port,
		User:     "postgres",
		Password: password,
	}, nil
}

// ServerTarget identifies a database server for direct SQL activities.
type ServerTarget struct {
	ID              string
	Host            string
	Port            int
	AdminSecretName string
}

// ProbeResult is the outcome of one server probe.
type ProbeResult struct {
	ServerID string
	OK       bool
	Error    string
}

// ProbeServers pings each server concurrently and reports per-server
// outcomes. A probe failure is an outcome, not an activity error.
func (a *PoolDB) ProbeServers(ctx context.Context, targets []ServerTarget) ([]ProbeResult, error) {
	results := make([]ProbeResult, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = ProbeResult{ServerID: target.ID}
			conn, err := a.adminConn(ctx, target)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			if err := a.pools.Ping(ctx, conn); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].OK = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CreateTenantDatabaseParams holds parameters for creating a tenant database
// on a target server. The password arrives through workflow state and is the
// instance's existing credential; it lives only in workflow history, never
// in a table.
type CreateTenantDatabaseParams struct {
	Server   ServerTarget
	DBName   string
	DBUser   string
	Password string
}

// CreateTenantDatabase creates the tenant database on the target server,
// owned by the tenant role.
func (a *PoolDB) CreateTenantDatabase(ctx context.Context, params CreateTenantDatabaseParams) error {
	conn, err := a.adminConn(ctx, params.Server)
	if err != nil {
		return err
	}

	if err := a.pools.CreateTenantDatabase(ctx, conn, params.DBName, params.DBUser, params.Password); err != nil {
		return fmt.Errorf("create tenant database %s: %w", params.DBName, err)
	}
	return nil
}

// RecreateTenantRoleParams holds parameters for recreating a tenant role on
// a target server with the instance's existing password.
type RecreateTenantRoleParams struct {
	Server   ServerTarget
	DBUser   string
	Password string
}

// RecreateTenantRole creates the tenant role on the target server carrying
// the credential the application already holds, so the migration does not
// invalidate its config.
func (a *PoolDB) RecreateTenantRole(ctx context.Context, params RecreateTenantRoleParams) error {
	conn, err := a.adminConn(ctx, params.Server)
	if err != nil {
		return err
	}

	if err := a.pools.RecreateRole(ctx, conn, params.DBUser, params.Password); err != nil {
		return fmt.Errorf("recreate role %s: %w", params.DBUser, err)
	}
	return nil
}

// DropTenantDatabaseParams holds parameters for dropping a tenant database.
type DropTenantDatabaseParams struct {
	Server ServerTarget
	DBName string
	DBUser string
}

// DropTenantDatabase removes a tenant database and its role from the target
// server.
func (a *PoolDB) DropTenantDatabase(ctx context.Context, params DropTenantDatabaseParams) error {
	conn, err := a.adminConn(ctx, params.Server)
	if err != nil {
		return err
	}
	if err := a.pools.DropTenantDatabase(ctx, conn, params.DBName, params.DBUser); err != nil {
		return fmt.Errorf("drop tenant database %s: %w", params.DBName, err)
	}
	return nil
}

// TargetFromServer builds a ServerTarget from a registry row.
func TargetFromServer(s model.DBServer) ServerTarget {
	return ServerTarget{ID: s.ID, Host: s.Host, Port: s.Port, AdminSecretName: s.AdminSecretName}
}
