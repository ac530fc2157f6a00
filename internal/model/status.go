package model

// Database server (pool) status constants.
const (
	ServerStatusProvisioning   = "provisioning"
	ServerStatusInitializing   = "initializing"
	ServerStatusActive         = "active"
	ServerStatusFull           = "full"
	ServerStatusMaintenance    = "maintenance"
	ServerStatusError          = "error"
	ServerStatusDeprovisioning = "deprovisioning"
	ServerStatusDeprovisioned  = "deprovisioned"
)

// Pool health constants, driven by consecutive probe failures.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// UnhealthyThreshold is the number of consecutive probe failures after
// which a pool is marked unhealthy and excluded from allocation.
const UnhealthyThreshold = 3

// Instance status constants.
const (
	InstanceStatusCreating         = "creating"
	InstanceStatusStarting         = "starting"
	InstanceStatusRunning          = "running"
	InstanceStatusStopping         = "stopping"
	InstanceStatusStopped          = "stopped"
	InstanceStatusRestarting       = "restarting"
	InstanceStatusUpdating         = "updating"
	InstanceStatusMaintenance      = "maintenance"
	InstanceStatusError            = "error"
	InstanceStatusTerminated       = "terminated"
	InstanceStatusPaused           = "paused"
	InstanceStatusContainerMissing = "container_missing"
)

// Billing status constants. The billing collaborator is the sole source of
// truth; the control plane only reacts to change notifications.
const (
	BillingStatusTrial     = "trial"
	BillingStatusActive    = "active"
	BillingStatusPastDue   = "past_due"
	BillingStatusCancelled = "cancelled"
)

// Backup record status constants.
const (
	BackupStatusPending   = "pending"
	BackupStatusRunning   = "running"
	BackupStatusCompleted = "completed"
	BackupStatusFailed    = "failed"
	BackupStatusDeleted   = "deleted"
)
