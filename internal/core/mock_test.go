package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/matteo/erphost/internal/orchestrator"
	"github.com/matteo/erphost/internal/pooldb"
)

// ---------- Mock DB ----------

// mockDB implements the DB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Mock orchestrator client ----------

// mockOrchestrator implements orchestrator.Client for testing.
type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) CreateDeployment(ctx context.Context, spec orchestrator.DeploymentSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *mockOrchestrator) DeleteDeployment(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *mockOrchestrator) ScaleDeployment(ctx context.Context, name string, replicas int) error {
	args := m.Called(ctx, name, replicas)
	return args.Error(0)
}

func (m *mockOrchestrator) DeploymentStatus(ctx context.Context, name string) (*orchestrator.DeploymentStatus, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.DeploymentStatus), args.Error(1)
}

func (m *mockOrchestrator) ExecInDeployment(ctx context.Context, name string, cmd []string) (*orchestrator.ExecResult, error) {
	args := m.Called(ctx, name, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ExecResult), args.Error(1)
}

func (m *mockOrchestrator) RunJob(ctx context.Context, spec orchestrator.JobSpec) (*orchestrator.ExecResult, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ExecResult), args.Error(1)
}

func (m *mockOrchestrator) CreateVolume(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *mockOrchestrator) DeleteVolume(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *mockOrchestrator) CreateDatabaseCluster(ctx context.Context, name string) (*orchestrator.ClusterInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ClusterInfo), args.Error(1)
}

func (m *mockOrchestrator) DatabaseClusterReady(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrchestrator) ReadSecret(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

// ---------- Mock tenant DDL ----------

// mockTenantDBs implements TenantDatabases for testing.
type mockTenantDBs struct {
	mock.Mock
}

func (m *mockTenantDBs) CreateTenantDatabase(ctx context.Context, admin pooldb.AdminConn, dbName, roleName, rolePassword string) error {
	args := m.Called(ctx, admin, dbName, roleName, rolePassword)
	return args.Error(0)
}

func (m *mockTenantDBs) DropTenantDatabase(ctx context.Context, admin pooldb.AdminConn, dbName, roleName string) error {
	args := m.Called(ctx, admin, dbName, roleName)
	return args.Error(0)
}
