// Package orchestrator is the client for the container platform that runs
// tenant ERP deployments and managed database clusters. The control plane
// only ever talks to this interface; the Docker implementation below is the
// deployment target for single-host and test environments.
package orchestrator

import (
	"context"
	"time"
)

// PortMapping describes a host-to-container port binding.
// Host 0 means "let the runtime pick an ephemeral port".
type PortMapping struct {
	Host      int `json:"host"`
	Container int `json:"container"`
}

// Resources holds resource constraints for a deployment.
type Resources struct {
	MemoryMB  int64 `json:"memory_mb"`
	CPUShares int64 `json:"cpu_shares"`
}

// DeploymentSpec holds the options for creating an instance deployment.
type DeploymentSpec struct {
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Env       map[string]string `json:"env"`
	Volumes   []string          `json:"volumes"`
	Ports     []PortMapping     `json:"ports"`
	Resources Resources         `json:"resources"`
	Network   string            `json:"network"`
}

// DeploymentStatus describes the observed state of a deployment.
type DeploymentStatus struct {
	Exists   bool   `json:"exists"`
	Running  bool   `json:"running"`
	Replicas int    `json:"replicas"`
	Health   string `json:"health"` // healthy, unhealthy, starting, none
}

// ExecResult holds the result of executing a command in a deployment's pod.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// JobSpec describes a one-shot batch job (backup, restore, config rewrite).
type JobSpec struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Cmd     []string          `json:"cmd"`
	Env     map[string]string `json:"env"`
	Volumes []string          `json:"volumes"`
	Network string            `json:"network"`
	Timeout time.Duration     `json:"timeout"`
}

// ClusterInfo describes a provisioned managed database cluster and its
// connection pooler endpoint.
type ClusterInfo struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	SecretName string `json:"secret_name"` // superuser credential in the secret store
}

// Client is the container platform interface consumed by activities and by
// the synchronous parts of the instance lifecycle engine.
type Client interface {
	CreateDeployment(ctx context.Context, spec DeploymentSpec) (id string, err error)
	DeleteDeployment(ctx context.Context, name string) error
	// ScaleDeployment sets the replica count. On the Docker backend replicas
	// are 0 or 1: stop or start the container.
	ScaleDeployment(ctx context.Context, name string, replicas int) error
	DeploymentStatus(ctx context.Context, name string) (*DeploymentStatus, error)
	ExecInDeployment(ctx context.Context, name string, cmd []string) (*ExecResult, error)

	RunJob(ctx context.Context, spec JobSpec) (*ExecResult, error)

	CreateVolume(ctx context.Context, name string) error
	DeleteVolume(ctx context.Context, name string) error

	// CreateDatabaseCluster provisions a managed database server plus a
	// connection pooler, writing the generated superuser credential to the
	// platform secret store. Idempotent for an existing cluster name.
	CreateDatabaseCluster(ctx context.Context, name string) (*ClusterInfo, error)
	DatabaseClusterReady(ctx context.Context, name string) (bool, error)

	ReadSecret(ctx context.Context, name string) (string, error)
}
