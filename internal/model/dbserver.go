package model

import "time"

// Server type constants.
const (
	ServerTypePlatform  = "platform"
	ServerTypeShared    = "shared"
	ServerTypeDedicated = "dedicated"
)

// Allocation strategy constants.
const (
	AllocationAuto   = "auto"
	AllocationManual = "manual"
)

// DBServer is a managed database server ("pool") hosting tenant databases.
// Shared servers host many tenant databases up to MaxInstances; dedicated
// servers host exactly one and carry the owning customer/instance IDs.
type DBServer struct {
	ID                  string     `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	Host                string     `json:"host" db:"host"`
	Port                int        `json:"port" db:"port"`
	ServerType          string     `json:"server_type" db:"server_type"`
	MaxInstances        int        `json:"max_instances" db:"max_instances"`
	CurrentInstances    int        `json:"current_instances" db:"current_instances"`
	Status              string     `json:"status" db:"status"`
	HealthStatus        string     `json:"health_status" db:"health_status"`
	HealthCheckFailures int        `json:"health_check_failures" db:"health_check_failures"`
	AllocationStrategy  string     `json:"allocation_strategy" db:"allocation_strategy"`
	Priority            int        `json:"priority" db:"priority"`
	DedicatedCustomerID *string    `json:"dedicated_customer_id,omitempty" db:"dedicated_customer_id"`
	DedicatedInstanceID *string    `json:"dedicated_instance_id,omitempty" db:"dedicated_instance_id"`
	AdminSecretName     string     `json:"-" db:"admin_secret_name"`
	LastHealthCheckAt   *time.Time `json:"last_health_check_at,omitempty" db:"last_health_check_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Allocatable reports whether the server can accept a new tenant database.
// The registry's conditional counter update is the real arbiter under
// concurrency; this is the read-side filter.
func (s *DBServer) Allocatable() bool {
	return s.ServerType == ServerTypeShared &&
		s.Status == ServerStatusActive &&
		(s.HealthStatus == HealthHealthy || s.HealthStatus == HealthUnknown) &&
		s.CurrentInstances < s.MaxInstances &&
		s.AllocationStrategy == AllocationAuto
}
