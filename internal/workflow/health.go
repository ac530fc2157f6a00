package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/model"
)

// healthCheckBatch caps how many servers one cron run probes.
const healthCheckBatch = 100

// CheckServerHealthWorkflow runs on a cron schedule, probes tracked database
// servers concurrently, and applies the hysteresis state machine to each
// outcome. Pools crossing into unhealthy are announced; recovered pools
// rejoin the allocation set silently.
func CheckServerHealthWorkflow(ctx workflow.Context) error {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
	probeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var servers []model.DBServer
	err := workflow.ExecuteActivity(actx, "ListServersForHealthCheck", healthCheckBatch).Get(ctx, &servers)
	if err != nil {
		return fmt.Errorf("list servers for health check: %w", err)
	}
	if len(servers) == 0 {
		return nil
	}

	targets := make([]activity.ServerTarget, len(servers))
	for i, srv := range servers {
		targets[i] = activity.TargetFromServer(srv)
	}

	var results []activity.ProbeResult
	err = workflow.ExecuteActivity(probeCtx, "ProbeServers", targets).Get(ctx, &results)
	if err != nil {
		return fmt.Errorf("probe servers: %w", err)
	}

	byID := make(map[string]*model.DBServer, len(servers))
	for i := range servers {
		byID[servers[i].ID] = &servers[i]
	}

	for _, result := range results {
		srv, ok := byID[result.ServerID]
		if !ok {
			continue
		}

		outcome := core.NextHealth(srv, result.OK)
		err = workflow.ExecuteActivity(actx, "RecordServerHealth", activity.RecordServerHealthParams{
			ID:           srv.ID,
			Status:       outcome.Status,
			HealthStatus: outcome.HealthStatus,
			Failures:     outcome.Failures,
		}).Get(ctx, nil)
		if err != nil {
			workflow.GetLogger(ctx).Warn("record server health failed", "server_id", srv.ID, "error", err)
			continue
		}

		if outcome.HealthStatus == model.HealthUnhealthy && srv.HealthStatus != model.HealthUnhealthy {
			notify(ctx, activity.NotifyParams{
				Event:    "server.unhealthy",
				ServerID: srv.ID,
				Detail: map[string]any{
					"name":     srv.Name,
					"failures": outcome.Failures,
					"error":    result.Error,
				},
			})
		}
	}

	return nil
}
