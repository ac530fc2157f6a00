package core

import (
	temporalclient "go.temporal.io/sdk/client"

	"github.com/matteo/erphost/internal/orchestrator"
	"github.com/matteo/erphost/internal/pooldb"
)

// TaskQueue is the Temporal task queue shared by the API and the worker.
const TaskQueue = "erphost-tasks"

type Services struct {
	DBServer  *DBServerService
	Allocator *AllocatorService
	Instance  *InstanceService
	Backup    *BackupService
	Stats     *StatsService
}

type ServicesConfig struct {
	DefaultPoolCapacity int
}

func NewServices(db DB, tc temporalclient.Client, orch orchestrator.Client, cfg ServicesConfig) *Services {
	servers := NewDBServerService(db)
	allocator := NewAllocatorService(db, servers, pooldb.NewClient(), orch, tc, cfg.DefaultPoolCapacity)
	backup := NewBackupService(db, tc)
	instance := NewInstanceService(db, servers, backup, orch, tc)

	return &Services{
		DBServer:  servers,
		Allocator: allocator,
		Instance:  instance,
		Backup:    backup,
		Stats:     NewStatsService(db),
	}
}
