package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/orchestrator"
)

// ProvisionServerWorkflow takes a registry row in provisioning to active: it
// creates the managed database cluster, waits for it to accept connections,
// and records the pooler endpoint and admin secret reference. A failure
// parks the row in error; re-running the workflow picks it back up.
func ProvisionServerWorkflow(ctx workflow.Context, serverID string) error {
	actx := defaultActivityCtx(ctx)
	lctx := longActivityCtx(ctx)

	var srv model.DBServer
	err := workflow.ExecuteActivity(actx, "GetDBServerByID", serverID).Get(ctx, &srv)
	if err != nil {
		return err
	}

	var info orchestrator.ClusterInfo
	err = workflow.ExecuteActivity(lctx, "CreateDatabaseCluster", srv.Name).Get(ctx, &info)
	if err != nil {
		_ = setServerError(ctx, serverID)
		return err
	}

	err = workflow.ExecuteActivity(lctx, "WaitForClusterReady", srv.Name).Get(ctx, nil)
	if err != nil {
		_ = setServerError(ctx, serverID)
		return err
	}

	err = workflow.ExecuteActivity(actx, "MarkServerActive", activity.MarkServerActiveParams{
		ID:              serverID,
		Host:            info.Host,
		Port:            info.Port,
		AdminSecretName: info.SecretName,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	notify(ctx, activity.NotifyParams{
		Event:    "server.provisioned",
		ServerID: serverID,
		Detail:   map[string]any{"name": srv.Name, "type": srv.ServerType},
	})
	return nil
}

func setServerError(ctx workflow.Context, serverID string) error {
	return workflow.ExecuteActivity(defaultActivityCtx(ctx), "MarkServerError", serverID).Get(ctx, nil)
}
