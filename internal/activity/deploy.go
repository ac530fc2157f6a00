package activity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"gopkg.in/yaml.v3"

	"github.com/matteo/erphost/internal/orchestrator"
)

const (
	erpAppImage = "erphost/erp-app:latest"
	jobImage    = "postgres:16"

	readyPollInterval = 10 * time.Second
	readyPollTimeout  = 5 * time.Minute
)

// Deploy contains activities that manage instance deployments and managed
// database clusters on the container platform.
type Deploy struct {
	orch         orchestrator.Client
	baseHostname string
	configDir    string
	backupDir    string
}

// NewDeploy creates a new Deploy activity struct.
func NewDeploy(orch orchestrator.Client, baseHostname, configDir, backupDir string) *Deploy {
	return &Deploy{orch: orch, baseHostname: baseHostname, configDir: configDir, backupDir: backupDir}
}

// CreateInstanceDeploymentParams holds parameters for creating an instance's
// app deployment. The database password arrives through workflow state, is
// written into the config file inside the config dir, and is not persisted
// anywhere else.
type CreateInstanceDeploymentParams struct {
	InstanceID    string
	Name          string
	Image         string
	CPULimit      float64
	MemoryLimitMB int
	DBHost        string
	DBPort        int
	DBName        string
	DBUser        string
	DBPassword    string
}

// CreateInstanceDeploymentResult returns the deployment coordinates.
type CreateInstanceDeploymentResult struct {
	DeploymentName string
	ServiceName    string
	InternalURL    string
	ExternalURL    string
}

// CreateInstanceDeployment writes the app config file, creates a data
// volume, and creates the deployment.
func (a *Deploy) CreateInstanceDeployment(ctx context.Context, params CreateInstanceDeploymentParams) (*CreateInstanceDeploymentResult, error) {
	deployment := fmt.Sprintf("erp-%s", params.InstanceID)
	image := params.Image
	if image == "" {
		image = erpAppImage
	}

	if err := a.writeConfig(deployment, map[string]any{
		"instance_id": params.InstanceID,
		"db_host":     params.DBHost,
		"db_port":     params.DBPort,
		"db_name":     params.DBName,
		"db_user":     params.DBUser,
		"db_password": params.DBPassword,
	}); err != nil {
		return nil, err
	}

	volume := deployment + "-data"
	if err := a.orch.CreateVolume(ctx, volume); err != nil {
		return nil, fmt.Errorf("create volume %s: %w", volume, err)
	}

	_, err := a.orch.CreateDeployment(ctx, orchestrator.DeploymentSpec{
		Name:  deployment,
		Image: image,
		Env: map[string]string{
			"ERP_CONFIG": "/etc/erp/erp.yaml",
		},
		Volumes: []string{
			volume + ":/var/lib/erp",
			filepath.Join(a.configDir, deployment) + ":/etc/erp:ro",
		},
		Ports: []orchestrator.PortMapping{{Host: 0, Container: 8080}},
		Resources: orchestrator.Resources{
			MemoryMB:  int64(params.MemoryLimitMB),
			CPUShares: int64(params.CPULimit * 1024),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create deployment %s: %w", deployment, err)
	}

	return &CreateInstanceDeploymentResult{
		DeploymentName: deployment,
		ServiceName:    deployment,
		InternalURL:    fmt.Sprintf("http://%s:8080", deployment),
		ExternalURL:    fmt.Sprintf("https://%s.%s", params.Name, a.baseHostname),
	}, nil
}

// ScaleDeploymentParams holds parameters for ScaleDeployment.
type ScaleDeploymentParams struct {
	Name     string
	Replicas int
}

// ScaleDeployment sets the replica count of a deployment.
func (a *Deploy) ScaleDeployment(ctx context.Context, params ScaleDeploymentParams) error {
	return a.orch.ScaleDeployment(ctx, params.Name, params.Replicas)
}

// WaitForDeploymentReady polls until the deployment reports running, or
// fails after the poll window.
func (a *Deploy) WaitForDeploymentReady(ctx context.Context, name string) error {
	return a.poll(ctx, func(ctx context.Context) (bool, error) {
		status, err := a.orch.DeploymentStatus(ctx, name)
		if err != nil {
			return false, err
		}
		if status.Exists && status.Health == "unhealthy" {
			return false, fmt.Errorf("deployment %s is unhealthy", name)
		}
		return status.Exists && status.Running && status.Health != "starting", nil
	}, fmt.Sprintf("deployment %s not ready", name))
}

// WaitForDeploymentStopped polls until all pods of the deployment are gone.
func (a *Deploy) WaitForDeploymentStopped(ctx context.Context, name string) error {
	return a.poll(ctx, func(ctx context.Context) (bool, error) {
		status, err := a.orch.DeploymentStatus(ctx, name)
		if err != nil {
			return false, err
		}
		return !status.Exists || !status.Running, nil
	}, fmt.Sprintf("deployment %s still running", name))
}

// DeploymentExists reports whether the deployment's container is present at
// all. Used to detect externally deleted workloads.
func (a *Deploy) DeploymentExists(ctx context.Context, name string) (bool, error) {
	status, err := a.orch.DeploymentStatus(ctx, name)
	if err != nil {
		return false, err
	}
	return status.Exists, nil
}

// RecreateDeploymentParams holds parameters for recreating a deployment
// container around its existing data volume and config file.
type RecreateDeploymentParams struct {
	InstanceID    string
	Name          string
	Image         string
	CPULimit      float64
	MemoryLimitMB int
}

// RecreateInstanceDeployment creates the deployment again, reusing the data
// volume and on-disk config. Used for image updates and for instances whose
// container vanished.
func (a *Deploy) RecreateInstanceDeployment(ctx context.Context, params RecreateDeploymentParams) error {
	image := params.Image
	if image == "" {
		image = erpAppImage
	}

	_, err := a.orch.CreateDeployment(ctx, orchestrator.DeploymentSpec{
		Name:  params.Name,
		Image: image,
		Env: map[string]string{
			"ERP_CONFIG": "/etc/erp/erp.yaml",
		},
		Volumes: []string{
			params.Name + "-data:/var/lib/erp",
			filepath.Join(a.configDir, params.Name) + ":/etc/erp:ro",
		},
		Ports: []orchestrator.PortMapping{{Host: 0, Container: 8080}},
		Resources: orchestrator.Resources{
			MemoryMB:  int64(params.MemoryLimitMB),
			CPUShares: int64(params.CPULimit * 1024),
		},
	})
	if err != nil {
		return fmt.Errorf("recreate deployment %s: %w", params.Name, err)
	}
	return nil
}

// RemoveDeployment deletes only the deployment's container, keeping its
// volume and config for a subsequent recreate.
func (a *Deploy) RemoveDeployment(ctx context.Context, name string) error {
	return a.orch.DeleteDeployment(ctx, name)
}

// RewriteDeploymentConfigParams holds the config keys to merge into a
// deployment's config file.
type RewriteDeploymentConfigParams struct {
	Name   string
	Values map[string]any
}

// RewriteDeploymentConfig merges new values into the deployment's YAML
// config file, preserving unrelated keys. The deployment picks the file up
// on its next start.
func (a *Deploy) RewriteDeploymentConfig(ctx context.Context, params RewriteDeploymentConfigParams) error {
	path := a.configPath(params.Name)
	current := map[string]any{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &current); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for k, v := range params.Values {
		current[k] = v
	}
	return a.writeConfigMap(path, current)
}

// DeploymentConfig is the database connection block of a deployment's
// persisted config file.
type DeploymentConfig struct {
	DBHost     string `yaml:"db_host" json:"db_host"`
	DBPort     int    `yaml:"db_port" json:"db_port"`
	DBName     string `yaml:"db_name" json:"db_name"`
	DBUser     string `yaml:"db_user" json:"db_user"`
	DBPassword string `yaml:"db_password" json:"db_password"`
}

// ReadDeploymentConfig reads the deployment's persisted config file back.
// The migration uses it to carry the instance's existing credential onto
// the new server. A missing file or credential is a permanent failure.
func (a *Deploy) ReadDeploymentConfig(ctx context.Context, name string) (*DeploymentConfig, error) {
	path := a.configPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("config file for %s not found", name), "CONFIG_MISSING", nil)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg DeploymentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DBPassword == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("config for %s has no database credential", name), "CONFIG_MISSING", nil)
	}
	return &cfg, nil
}

// CreateDatabaseCluster provisions a managed database cluster and returns
// its pooler endpoint and admin secret name.
func (a *Deploy) CreateDatabaseCluster(ctx context.Context, name string) (*orchestrator.ClusterInfo, error) {
	info, err := a.orch.CreateDatabaseCluster(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create database cluster %s: %w", name, err)
	}
	return info, nil
}

// WaitForClusterReady polls until the cluster accepts connections.
func (a *Deploy) WaitForClusterReady(ctx context.Context, name string) error {
	return a.poll(ctx, func(ctx context.Context) (bool, error) {
		return a.orch.DatabaseClusterReady(ctx, name)
	}, fmt.Sprintf("cluster %s not ready", name))
}

// RunBackupJobParams holds parameters for a backup job. The admin secret is
// resolved here and handed to the job as an environment variable.
type RunBackupJobParams struct {
	BackupID        string
	Host            string
	Port            int
	AdminSecretName string
	DBName          string
}

// RunBackupJobResult returns artifact paths and sizes.
type RunBackupJobResult struct {
	DumpPath         string
	ArchivePath      string
	DumpSizeBytes    int64
	ArchiveSizeBytes int64
}

// RunBackupJob dumps the tenant database and compresses the dump into an
// archive, both under the backup dir.
func (a *Deploy) RunBackupJob(ctx context.Context, params RunBackupJobParams) (*RunBackupJobResult, error) {
	password, err := a.orch.ReadSecret(ctx, params.AdminSecretName)
	if err != nil {
		return nil, fmt.Errorf("read admin secret %s: %w", params.AdminSecretName, err)
	}

	dumpName := params.BackupID + ".dump"
	archiveName := params.BackupID + ".tar.gz"
	script := fmt.Sprintf(
		"pg_dump -h %s -p %d -U postgres -Fc -f /backups/%s %s && tar -czf /backups/%s -C /backups %s",
		params.Host, params.Port, dumpName, params.DBName, archiveName, dumpName)

	result, err := a.orch.RunJob(ctx, orchestrator.JobSpec{
		Name:    "backup-" + params.BackupID,
		Image:   jobImage,
		Cmd:     []string{"sh", "-c", script},
		Env:     map[string]string{"PGPASSWORD": password},
		Volumes: []string{a.backupDir + ":/backups"},
		Timeout: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("run backup job: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("backup job exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	out := &RunBackupJobResult{
		DumpPath:    filepath.Join(a.backupDir, dumpName),
		ArchivePath: filepath.Join(a.backupDir, archiveName),
	}
	if fi, err := os.Stat(out.DumpPath); err == nil {
		out.DumpSizeBytes = fi.Size()
	}
	if fi, err := os.Stat(out.ArchivePath); err == nil {
		out.ArchiveSizeBytes = fi.Size()
	}
	return out, nil
}

// RunRestoreJobParams holds parameters for a restore job.
type RunRestoreJobParams struct {
	BackupID        string
	ArchivePath     string
	Host            string
	Port            int
	AdminSecretName string
	DBName          string
}

// RunRestoreJob unpacks the backup archive and restores the dump into the
// target database. A missing archive is a permanent failure.
func (a *Deploy) RunRestoreJob(ctx context.Context, params RunRestoreJobParams) error {
	if _, err := os.Stat(params.ArchivePath); err != nil {
		if os.IsNotExist(err) {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("backup archive %s not found", params.ArchivePath),
				"ARCHIVE_NOT_FOUND", nil)
		}
		return fmt.Errorf("stat archive %s: %w", params.ArchivePath, err)
	}

	password, err := a.orch.ReadSecret(ctx, params.AdminSecretName)
	if err != nil {
		return fmt.Errorf("read admin secret %s: %w", params.AdminSecretName, err)
	}

	archiveName := filepath.Base(params.ArchivePath)
	dumpName := params.BackupID + ".dump"
	script := fmt.Sprintf(
		"tar -xzf /backups/%s -C /backups && pg_restore -h %s -p %d -U postgres --clean --if-exists -d %s /backups/%s",
		archiveName, params.Host, params.Port, params.DBName, dumpName)

	result, err := a.orch.RunJob(ctx, orchestrator.JobSpec{
		Name:    "restore-" + params.BackupID,
		Image:   jobImage,
		Cmd:     []string{"sh", "-c", script},
		Env:     map[string]string{"PGPASSWORD": password},
		Volumes: []string{a.backupDir + ":/backups"},
		Timeout: 30 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("run restore job: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("restore job exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// DeleteBackupArtifacts removes the on-host dump and archive for a backup.
func (a *Deploy) DeleteBackupArtifacts(ctx context.Context, backupID string) error {
	for _, name := range []string{backupID + ".dump", backupID + ".tar.gz"} {
		if err := os.Remove(filepath.Join(a.backupDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove backup artifact %s: %w", name, err)
		}
	}
	return nil
}

func (a *Deploy) poll(ctx context.Context, check func(context.Context) (bool, error), timeoutMsg string) error {
	deadline := time.Now().Add(readyPollTimeout)
	for time.Now().Before(deadline) {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
	return fmt.Errorf("%s after %s", timeoutMsg, readyPollTimeout)
}

func (a *Deploy) configPath(deployment string) string {
	return filepath.Join(a.configDir, deployment, "erp.yaml")
}

func (a *Deploy) writeConfig(deployment string, values map[string]any) error {
	path := a.configPath(deployment)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir for %s: %w", deployment, err)
	}
	return a.writeConfigMap(path, values)
}

func (a *Deploy) writeConfigMap(path string, values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
