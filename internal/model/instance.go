package model

import "time"

// Instance is a provisioned ERP application deployment for one tenant,
// backed by exactly one tenant database on a DBServer.
type Instance struct {
	ID                 string    `json:"id" db:"id"`
	CustomerID         string    `json:"customer_id" db:"customer_id"`
	SubscriptionID     string    `json:"subscription_id" db:"subscription_id"`
	Name               string    `json:"name" db:"name"`
	PlanTier           string    `json:"plan_tier" db:"plan_tier"`
	Status             string    `json:"status" db:"status"`
	BillingStatus      string    `json:"billing_status" db:"billing_status"`
	ProvisioningStatus string    `json:"provisioning_status" db:"provisioning_status"`
	DBServerID         *string   `json:"db_server_id,omitempty" db:"db_server_id"`
	DBHost             string    `json:"db_host" db:"db_host"`
	DBPort             int       `json:"db_port" db:"db_port"`
	DBName             string    `json:"db_name" db:"db_name"`
	DBUser             string    `json:"db_user" db:"db_user"`
	DedicatedDB        bool      `json:"dedicated_db" db:"dedicated_db"`
	CPULimit           float64   `json:"cpu_limit" db:"cpu_limit"`
	MemoryLimitMB      int       `json:"memory_limit_mb" db:"memory_limit_mb"`
	DeploymentName     string    `json:"deployment_name" db:"deployment_name"`
	ServiceName        string    `json:"service_name" db:"service_name"`
	InternalURL        string    `json:"internal_url" db:"internal_url"`
	ExternalURL        string    `json:"external_url" db:"external_url"`
	ErrorMessage       *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Plan tiers whose instances get a dedicated database server by policy.
var dedicatedTiers = map[string]bool{
	"enterprise": true,
}

// DedicatedTier reports whether the plan tier gets a dedicated database
// server.
func DedicatedTier(tier string) bool {
	return dedicatedTiers[tier]
}
