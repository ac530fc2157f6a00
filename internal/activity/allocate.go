package activity

import (
	"context"

	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/model"
)

// Allocator contains activities that wrap the capacity allocator so
// provisioning and migration workflows share its slot bookkeeping. Generated
// credentials flow back through workflow state only.
type Allocator struct {
	svc *core.AllocatorService
}

// NewAllocator creates a new Allocator activity struct.
func NewAllocator(svc *core.AllocatorService) *Allocator {
	return &Allocator{svc: svc}
}

// AllocateDatabase assigns a shared pool and creates the tenant database.
func (a *Allocator) AllocateDatabase(ctx context.Context, params core.AllocateParams) (*core.AllocationResult, error) {
	return a.svc.Allocate(ctx, params)
}

// AllocateDedicatedDatabase provisions the instance's dedicated server and
// creates the tenant database on it. Long-running; the caller sets a
// minutes-scale timeout.
func (a *Allocator) AllocateDedicatedDatabase(ctx context.Context, params core.AllocateParams) (*core.Allocation, error) {
	return a.svc.AllocateDedicated(ctx, params)
}

// EnsureDedicatedServerParams identifies the instance a dedicated server is
// provisioned for.
type EnsureDedicatedServerParams struct {
	InstanceID string
	CustomerID string
}

// EnsureDedicatedServer provisions (or reuses) a dedicated server for the
// instance and blocks until it is active.
func (a *Allocator) EnsureDedicatedServer(ctx context.Context, params EnsureDedicatedServerParams) (*model.DBServer, error) {
	return a.svc.ProvisionDedicated(ctx, params.InstanceID, params.CustomerID)
}
