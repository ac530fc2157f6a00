package workflow

import (
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized
// correctly by the Temporal test framework. All activities are mocked via
// OnActivity; the framework only needs the type information.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.CoreDB{})
	env.RegisterActivity(&activity.PoolDB{})
	env.RegisterActivity(&activity.Deploy{})
	env.RegisterActivity(&activity.Allocator{})
	env.RegisterActivity(&activity.ObjStore{})
	env.RegisterActivity(&activity.Notifier{})
}

// matchFailedStatus returns a matcher for UpdateInstanceStatusParams that
// checks id and status=error with some message. The exact message includes
// Temporal activity error wrapping that is not predictable in tests.
func matchFailedStatus(instanceID string) interface{} {
	return mock.MatchedBy(func(params activity.UpdateInstanceStatusParams) bool {
		return params.ID == instanceID &&
			params.Status == model.InstanceStatusError &&
			params.ErrorMessage != ""
	})
}

// matchEvent returns a matcher for NotifyParams on the event name alone.
func matchEvent(event string) interface{} {
	return mock.MatchedBy(func(params activity.NotifyParams) bool {
		return params.Event == event
	})
}

func makeInstance(status string) model.Instance {
	serverID := "test-server-1"
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return model.Instance{
		ID:             "test-instance-1",
		CustomerID:     "test-customer-1",
		SubscriptionID: "test-subscription-1",
		Name:           "acme-erp",
		PlanTier:       "standard",
		Status:         status,
		BillingStatus:  model.BillingStatusActive,
		DBServerID:     &serverID,
		DBHost:         "10.0.0.1",
		DBPort:         5432,
		DBName:         "erp_abc_def",
		DBUser:         "erp_u_abc_def",
		CPULimit:       1,
		MemoryLimitMB:  2048,
		DeploymentName: "erp-test-instance-1",
		ServiceName:    "erp-test-instance-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func makeServer(id, serverType string) model.DBServer {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return model.DBServer{
		ID:                 id,
		Name:               serverType + "-" + id,
		Host:               "10.0.0.1",
		Port:               5432,
		ServerType:         serverType,
		MaxInstances:       50,
		Status:             model.ServerStatusActive,
		HealthStatus:       model.HealthHealthy,
		AllocationStrategy: model.AllocationAuto,
		AdminSecretName:    id + "-admin",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
