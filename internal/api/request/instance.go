package request

// CreateInstance is the payload for provisioning a new ERP instance.
type CreateInstance struct {
	CustomerID     string   `json:"customer_id" validate:"required"`
	SubscriptionID string   `json:"subscription_id" validate:"required"`
	Name           string   `json:"name" validate:"required,slug"`
	PlanTier       string   `json:"plan_tier" validate:"required,oneof=starter standard professional enterprise"`
	CPULimit       *float64 `json:"cpu_limit" validate:"omitempty,gt=0"`
	MemoryLimitMB  *int     `json:"memory_limit_mb" validate:"omitempty,gte=512"`
}

// InstanceAction is the payload for a lifecycle action request.
type InstanceAction struct {
	Action   string `json:"action" validate:"required"`
	BackupID string `json:"backup_id"`
	Image    string `json:"image"`
}

// BillingEvent is the payload the billing collaborator posts on
// subscription status changes.
type BillingEvent struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	InstanceID     string `json:"instance_id" validate:"required"`
	BillingStatus  string `json:"billing_status" validate:"required,oneof=trial active past_due cancelled"`
}
