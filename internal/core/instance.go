package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/matteo/erphost/internal/model"
	"github.com/matteo/erphost/internal/orchestrator"
)

// ErrActionNotAllowed is returned when an action is rejected by the
// status-gated permitted-action table. The rejection happens synchronously,
// before any side effect.
var ErrActionNotAllowed = errors.New("action not allowed in current status")

// ErrUnknownAction is returned for an unrecognized action name.
var ErrUnknownAction = errors.New("unknown action")

// scaleDownWait bounds the brief poll for pod termination during the
// synchronous suspend/terminate paths.
const scaleDownWait = 30 * time.Second

const instanceColumns = `id, customer_id, subscription_id, name, plan_tier, status,
	billing_status, provisioning_status, db_server_id, db_host, db_port, db_name,
	db_user, dedicated_db, cpu_limit, memory_limit_mb, deployment_name, service_name,
	internal_url, external_url, error_message, created_at, updated_at`

// ActionResult is the synchronous answer to a lifecycle action request:
// either a job handle for an asynchronous workflow or the status the
// instance was moved to immediately.
type ActionResult struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status"`
}

// ActionParams carries optional per-action parameters.
type ActionParams struct {
	// BackupID selects the backup for a restore.
	BackupID string `json:"backup_id,omitempty"`
	// Image selects the application image for an update.
	Image string `json:"image,omitempty"`
}

type actionHandler func(ctx context.Context, s *InstanceService, inst *model.Instance, params ActionParams) (*ActionResult, error)

// actionHandlers routes each action to its implementation. Asynchronous
// actions set an intermediate status, start a workflow, and hand back its ID;
// suspend/unsuspend/terminate complete synchronously.
var actionHandlers = map[model.InstanceAction]actionHandler{
	model.ActionStart:     startWorkflowAction("StartInstanceWorkflow", "start", model.InstanceStatusStarting),
	model.ActionStop:      startWorkflowAction("StopInstanceWorkflow", "stop", model.InstanceStatusStopping),
	model.ActionRestart:   startWorkflowAction("RestartInstanceWorkflow", "restart", model.InstanceStatusRestarting),
	model.ActionUnpause:   startWorkflowAction("UnpauseInstanceWorkflow", "unpause", model.InstanceStatusStarting),
	model.ActionUpdate:    updateAction,
	model.ActionBackup:    backupAction,
	model.ActionRestore:   restoreAction,
	model.ActionSuspend:   suspendAction,
	model.ActionUnsuspend: unsuspendAction,
	model.ActionTerminate: terminateAction,
}

// InstanceService is the per-instance lifecycle engine.
type InstanceService struct {
	db      DB
	servers *DBServerService
	backups *BackupService
	orch    orchestrator.Client
	tc      temporalclient.Client
}

func NewInstanceService(db DB, servers *DBServerService, backups *BackupService, orch orchestrator.Client, tc temporalclient.Client) *InstanceService {
	return &InstanceService{db: db, servers: servers, backups: backups, orch: orch, tc: tc}
}

// Create inserts the instance in creating/pending and starts the
// provisioning workflow that drives it to running or error.
func (s *InstanceService) Create(ctx context.Context, inst *model.Instance) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO instances (id, customer_id, subscription_id, name, plan_tier,
			status, billing_status, provisioning_status, cpu_limit, memory_limit_mb,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID, inst.CustomerID, inst.SubscriptionID, inst.Name, inst.PlanTier,
		model.InstanceStatusCreating, inst.BillingStatus, "pending",
		inst.CPULimit, inst.MemoryLimitMB, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	workflowID := fmt.Sprintf("instance-provision-%s", inst.ID)
	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "ProvisionInstanceWorkflow", inst.ID)
	if err != nil {
		return fmt.Errorf("start ProvisionInstanceWorkflow: %w", err)
	}

	return nil
}

func scanInstance(row interface{ Scan(...any) error }) (*model.Instance, error) {
	var i model.Instance
	err := row.Scan(&i.ID, &i.CustomerID, &i.SubscriptionID, &i.Name, &i.PlanTier,
		&i.Status, &i.BillingStatus, &i.ProvisioningStatus, &i.DBServerID, &i.DBHost,
		&i.DBPort, &i.DBName, &i.DBUser, &i.DedicatedDB, &i.CPULimit, &i.MemoryLimitMB,
		&i.DeploymentName, &i.ServiceName, &i.InternalURL, &i.ExternalURL,
		&i.ErrorMessage, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *InstanceService) GetByID(ctx context.Context, id string) (*model.Instance, error) {
	inst, err := scanInstance(s.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return inst, nil
}

func (s *InstanceService) List(ctx context.Context) ([]model.Instance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE status != $1 ORDER BY created_at DESC`,
		model.InstanceStatusTerminated)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}

// PerformAction validates and executes a lifecycle action. Validation
// failures (unknown action, gate rejection) return before any side effect
// and are never retried.
func (s *InstanceService) PerformAction(ctx context.Context, id string, action model.InstanceAction, params ActionParams) (*ActionResult, error) {
	if !model.KnownAction(action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	inst, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !model.ActionAllowed(inst.Status, action) {
		return nil, fmt.Errorf("%w: %s while %s", ErrActionNotAllowed, action, inst.Status)
	}

	return actionHandlers[action](ctx, s, inst, params)
}

// setStatus writes the instance status, clearing any stale error message.
func (s *InstanceService) setStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE instances SET status = $1, error_message = NULL, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("set instance %s status: %w", id, err)
	}
	return nil
}

// setError parks the instance in error with a human-readable message.
func (s *InstanceService) setError(ctx context.Context, id, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE instances SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		model.InstanceStatusError, message, id)
	if err != nil {
		return fmt.Errorf("set instance %s error: %w", id, err)
	}
	return nil
}

// startWorkflowAction builds the handler for a plain asynchronous action:
// move to the intermediate status, start the named workflow, return its ID.
func startWorkflowAction(workflowName, slug, intermediateStatus string) actionHandler {
	return func(ctx context.Context, s *InstanceService, inst *model.Instance, _ ActionParams) (*ActionResult, error) {
		if err := s.setStatus(ctx, inst.ID, intermediateStatus); err != nil {
			return nil, err
		}

		workflowID := fmt.Sprintf("instance-%s-%s", slug, inst.ID)
		run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
			ID:        workflowID,
			TaskQueue: TaskQueue,
		}, workflowName, inst.ID)
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", workflowName, err)
		}

		return &ActionResult{JobID: run.GetID(), Status: intermediateStatus}, nil
	}
}

func updateAction(ctx context.Context, s *InstanceService, inst *model.Instance, params ActionParams) (*ActionResult, error) {
	if err := s.setStatus(ctx, inst.ID, model.InstanceStatusUpdating); err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("instance-update-%s", inst.ID)
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "UpdateInstanceWorkflow", inst.ID, params.Image)
	if err != nil {
		return nil, fmt.Errorf("start UpdateInstanceWorkflow: %w", err)
	}

	return &ActionResult{JobID: run.GetID(), Status: model.InstanceStatusUpdating}, nil
}

func backupAction(ctx context.Context, s *InstanceService, inst *model.Instance, _ ActionParams) (*ActionResult, error) {
	backup, err := s.backups.CreateForInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	// A backup leaves the instance status untouched; the backup record
	// carries the progress.
	return &ActionResult{JobID: fmt.Sprintf("backup-%s", backup.ID), Status: inst.Status}, nil
}

func restoreAction(ctx context.Context, s *InstanceService, inst *model.Instance, params ActionParams) (*ActionResult, error) {
	if params.BackupID == "" {
		return nil, fmt.Errorf("restore requires backup_id")
	}
	if _, err := s.backups.GetByID(ctx, params.BackupID); err != nil {
		return nil, err
	}

	if err := s.setStatus(ctx, inst.ID, model.InstanceStatusMaintenance); err != nil {
		return nil, err
	}

	workflowID := fmt.Sprintf("instance-restore-%s", inst.ID)
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "RestoreInstanceWorkflow", inst.ID, params.BackupID)
	if err != nil {
		return nil, fmt.Errorf("start RestoreInstanceWorkflow: %w", err)
	}

	return &ActionResult{JobID: run.GetID(), Status: model.InstanceStatusMaintenance}, nil
}

func suspendAction(ctx context.Context, s *InstanceService, inst *model.Instance, _ ActionParams) (*ActionResult, error) {
	if err := s.scaleDown(ctx, inst); err != nil {
		_ = s.setError(ctx, inst.ID, fmt.Sprintf("suspend: %v", err))
		return nil, err
	}
	if err := s.setStatus(ctx, inst.ID, model.InstanceStatusPaused); err != nil {
		return nil, err
	}
	return &ActionResult{Status: model.InstanceStatusPaused}, nil
}

func unsuspendAction(ctx context.Context, s *InstanceService, inst *model.Instance, _ ActionParams) (*ActionResult, error) {
	if err := s.orch.ScaleDeployment(ctx, inst.DeploymentName, 1); err != nil {
		_ = s.setError(ctx, inst.ID, fmt.Sprintf("unsuspend: %v", err))
		return nil, err
	}
	if err := s.setStatus(ctx, inst.ID, model.InstanceStatusRunning); err != nil {
		return nil, err
	}
	return &ActionResult{Status: model.InstanceStatusRunning}, nil
}

func terminateAction(ctx context.Context, s *InstanceService, inst *model.Instance, _ ActionParams) (*ActionResult, error) {
	if err := s.scaleDown(ctx, inst); err != nil {
		_ = s.setError(ctx, inst.ID, fmt.Sprintf("terminate: %v", err))
		return nil, err
	}

	if inst.DBServerID != nil {
		if err := s.servers.ReleaseSlot(ctx, *inst.DBServerID); err != nil {
			return nil, err
		}
	}

	if err := s.setStatus(ctx, inst.ID, model.InstanceStatusTerminated); err != nil {
		return nil, err
	}
	return &ActionResult{Status: model.InstanceStatusTerminated}, nil
}

// scaleDown scales the deployment to zero replicas and briefly polls for pod
// termination. A scale-down failure surfaces to the caller rather than
// leaving a stale running state.
func (s *InstanceService) scaleDown(ctx context.Context, inst *model.Instance) error {
	if inst.DeploymentName == "" {
		return nil
	}
	if err := s.orch.ScaleDeployment(ctx, inst.DeploymentName, 0); err != nil {
		return err
	}

	deadline := time.Now().Add(scaleDownWait)
	for time.Now().Before(deadline) {
		status, err := s.orch.DeploymentStatus(ctx, inst.DeploymentName)
		if err != nil {
			return err
		}
		if !status.Exists || !status.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("deployment %s still running after scale down", inst.DeploymentName)
}

// MigrateToDedicated starts the migration of an instance's tenant database
// from its shared pool onto a dedicated server. Returns the workflow ID as a
// job handle; progress is visible through the instance status.
func (s *InstanceService) MigrateToDedicated(ctx context.Context, id string) (*ActionResult, error) {
	inst, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.DedicatedDB {
		return nil, fmt.Errorf("%w: instance %s already has a dedicated database", ErrActionNotAllowed, id)
	}
	if inst.Status != model.InstanceStatusRunning && inst.Status != model.InstanceStatusStopped {
		return nil, fmt.Errorf("%w: migrate while %s", ErrActionNotAllowed, inst.Status)
	}

	workflowID := fmt.Sprintf("instance-migrate-dedicated-%s", id)
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}, "MigrateToDedicatedWorkflow", id)
	if err != nil {
		return nil, fmt.Errorf("start MigrateToDedicatedWorkflow: %w", err)
	}

	return &ActionResult{JobID: run.GetID(), Status: model.InstanceStatusMaintenance}, nil
}

// ApplyBillingStatus reacts to a billing-status change notification. The
// billing collaborator is the sole source of truth; this only mirrors the
// status and pauses or resumes the workload accordingly.
func (s *InstanceService) ApplyBillingStatus(ctx context.Context, id, billingStatus string) error {
	inst, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`UPDATE instances SET billing_status = $1, updated_at = now() WHERE id = $2`,
		billingStatus, id)
	if err != nil {
		return fmt.Errorf("set billing status for %s: %w", id, err)
	}

	switch billingStatus {
	case model.BillingStatusPastDue, model.BillingStatusCancelled:
		if model.ActionAllowed(inst.Status, model.ActionSuspend) {
			_, err = suspendAction(ctx, s, inst, ActionParams{})
			return err
		}
	case model.BillingStatusActive:
		if inst.Status == model.InstanceStatusPaused {
			_, err = unsuspendAction(ctx, s, inst, ActionParams{})
			return err
		}
	}
	return nil
}
