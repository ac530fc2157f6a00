package request

// AllocateDatabase is the payload for a synchronous database allocation.
type AllocateDatabase struct {
	InstanceID       string `json:"instance_id" validate:"required"`
	CustomerID       string `json:"customer_id" validate:"required"`
	PlanTier         string `json:"plan_tier" validate:"required"`
	RequireDedicated *bool  `json:"require_dedicated"`
}

// ProvisionPool is the payload for provisioning a new shared pool.
type ProvisionPool struct {
	Priority *int `json:"priority" validate:"omitempty,gte=0"`
}

// ProvisionDedicated is the payload for provisioning a dedicated server.
type ProvisionDedicated struct {
	InstanceID string `json:"instance_id" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
}
