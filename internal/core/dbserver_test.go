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

	"github.com/matteo/erphost/internal/model"
)

func scanServerRow(srv model.DBServer) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = srv.ID
		*(dest[1].(*string)) = srv.Name
		*(dest[2].(*string)) = srv.Host
		*(dest[3].(*int)) = srv.Port
		*(dest[4].(*string)) = srv.ServerType
		*(dest[5].(*int)) = srv.MaxInstances
		*(dest[6].(*int)) = srv.CurrentInstances
		*(dest[7].(*string)) = srv.Status
		*(dest[8].(*string)) = srv.HealthStatus
		*(dest[9].(*int)) = srv.HealthCheckFailures
		*(dest[10].(*string)) = srv.AllocationStrategy
		*(dest[11].(*int)) = srv.Priority
		*(dest[12].(**string)) = srv.DedicatedCustomerID
		*(dest[13].(**string)) = srv.DedicatedInstanceID
		*(dest[14].(*string)) = srv.AdminSecretName
		*(dest[15].(**time.Time)) = srv.LastHealthCheckAt
		*(dest[16].(*time.Time)) = srv.CreatedAt
		*(dest[17].(*time.Time)) = srv.UpdatedAt
		return nil
	}
}

func sharedServer(id string, current, max int) model.DBServer {
	now := time.Now().Truncate(time.Microsecond)
	return model.DBServer{
		ID:                 id,
		Name:               "pool-" + id,
		Host:               "10.0.0.1",
		Port:               5432,
		ServerType:         model.ServerTypeShared,
		MaxInstances:       max,
		CurrentInstances:   current,
		Status:             model.ServerStatusActive,
		HealthStatus:       model.HealthHealthy,
		AllocationStrategy: model.AllocationAuto,
		AdminSecretName:    "pool-" + id + "-admin",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestDBServerService_GetByID(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	want := sharedServer("test-server-1", 3, 50)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: scanServerRow(want)})

	srv, err := svc.GetByID(ctx, "test-server-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, srv.ID)
	assert.Equal(t, want.Host, srv.Host)
	assert.Equal(t, 3, srv.CurrentInstances)
	db.AssertExpectations(t)
}

func TestDBServerService_ListAllocatable(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(
			scanServerRow(sharedServer("test-server-1", 10, 50)),
			scanServerRow(sharedServer("test-server-2", 40, 50)),
		), nil)

	servers, err := svc.ListAllocatable(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "test-server-1", servers[0].ID)
	db.AssertExpectations(t)
}

func TestDBServerService_ListAllocatable_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newEmptyMockRows(), nil)

	servers, err := svc.ListAllocatable(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestDBServerService_ReserveSlot_Won(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	reserved, err := svc.ReserveSlot(ctx, "test-server-1")
	require.NoError(t, err)
	assert.True(t, reserved)
	db.AssertExpectations(t)
}

func TestDBServerService_ReserveSlot_Lost(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	// Zero rows means the conditional update did not match: the pool filled
	// up or left active between the read and the write. Not an error.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	reserved, err := svc.ReserveSlot(ctx, "test-server-1")
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestDBServerService_ReserveSlot_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	reserved, err := svc.ReserveSlot(ctx, "test-server-1")
	require.Error(t, err)
	assert.False(t, reserved)
	assert.Contains(t, err.Error(), "reserve slot")
}

func TestDBServerService_ReleaseSlot(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := svc.ReleaseSlot(ctx, "test-server-1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestDBServerService_NextPoolSequence(t *testing.T) {
	db := &mockDB{}
	svc := NewDBServerService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = 4
			return nil
		}})

	seq, err := svc.NextPoolSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, seq)
}

func TestDBServerAllocatable(t *testing.T) {
	srv := sharedServer("test-server-1", 10, 50)
	assert.True(t, srv.Allocatable())

	full := srv
	full.CurrentInstances = full.MaxInstances
	assert.False(t, full.Allocatable())

	unhealthy := srv
	unhealthy.HealthStatus = model.HealthUnhealthy
	assert.False(t, unhealthy.Allocatable())

	degraded := srv
	degraded.HealthStatus = model.HealthDegraded
	assert.False(t, degraded.Allocatable())

	unknown := srv
	unknown.HealthStatus = model.HealthUnknown
	assert.True(t, unknown.Allocatable())

	manual := srv
	manual.AllocationStrategy = model.AllocationManual
	assert.False(t, manual.Allocatable())

	dedicated := srv
	dedicated.ServerType = model.ServerTypeDedicated
	assert.False(t, dedicated.Allocatable())
}
