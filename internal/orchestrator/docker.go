package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/matteo/erphost/internal/crypto"
)

const (
	clusterImage = "postgres:16"
	poolerImage  = "edoburu/pgbouncer:latest"
	poolerPort   = 6432
)

// DockerClient implements Client against the Docker API. Deployments are
// single containers; a database cluster is a postgres container, its data
// volume, and a pgbouncer pooler container sharing one network.
type DockerClient struct {
	host      string
	network   string
	secretDir string
}

// NewDockerClient creates a client for the Docker daemon at host. Secrets
// are materialized under secretDir, which stands in for the platform secret
// store.
func NewDockerClient(host, networkName, secretDir string) *DockerClient {
	return &DockerClient{host: host, network: networkName, secretDir: secretDir}
}

func (d *DockerClient) newClient() (*client.Client, error) {
	return client.NewClientWithOpts(
		client.WithHost(d.host),
		client.WithAPIVersionNegotiation(),
	)
}

func (d *DockerClient) CreateDeployment(ctx context.Context, spec DeploymentSpec) (string, error) {
	cli, err := d.newClient()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := d.pullImage(ctx, cli, spec.Image); err != nil {
		return "", err
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, pm := range spec.Ports {
		cp := nat.Port(strconv.Itoa(pm.Container) + "/tcp")
		exposedPorts[cp] = struct{}{}
		hostPort := ""
		if pm.Host != 0 {
			hostPort = strconv.Itoa(pm.Host)
		}
		portBindings[cp] = []nat.PortBinding{{HostPort: hostPort}}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposedPorts,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        spec.Volumes,
		Resources: container.Resources{
			Memory:    spec.Resources.MemoryMB * 1024 * 1024,
			CPUShares: spec.Resources.CPUShares,
		},
	}
	netCfg := d.networkConfig(spec.Network)

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			// Deployment already exists; creation is at-least-once.
			return spec.Name, nil
		}
		return "", fmt.Errorf("create deployment %s: %w", spec.Name, err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start deployment %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

func (d *DockerClient) DeleteDeployment(ctx context.Context, name string) error {
	cli, err := d.newClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove deployment %s: %w", name, err)
	}
	return nil
}

func (d *DockerClient) ScaleDeployment(ctx context.Context, name string, replicas int) error {
	cli, err := d.newClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if replicas <= 0 {
		if err := cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("scale down %s: %w", name, err)
		}
		return nil
	}
	if err := cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("scale up %s: %w", name, err)
	}
	return nil
}

func (d *DockerClient) DeploymentStatus(ctx context.Context, name string) (*DeploymentStatus, error) {
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	info, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &DeploymentStatus{Exists: false}, nil
		}
		return nil, fmt.Errorf("inspect deployment %s: %w", name, err)
	}

	health := "none"
	if info.State.Health != nil {
		health = info.State.Health.Status
	}
	replicas := 0
	if info.State.Running {
		replicas = 1
	}

	return &DeploymentStatus{
		Exists:   true,
		Running:  info.State.Running,
		Replicas: replicas,
		Health:   health,
	}, nil
}

func (d *DockerClient) ExecInDeployment(ctx context.Context, name string, cmd []string) (*ExecResult, error) {
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	execID, err := cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create in %s: %w", name, err)
	}

	resp, err := cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach in %s: %w", name, err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("exec read output in %s: %w", name, err)
	}

	inspectResp, err := cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect in %s: %w", name, err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// RunJob runs a one-shot container to completion and returns its output.
// The container is always removed afterwards; the job result is the retry
// unit for the caller.
func (d *DockerClient) RunJob(ctx context.Context, spec JobSpec) (*ExecResult, error) {
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := d.pullImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	resp, err := cli.ContainerCreate(ctx,
		&container.Config{Image: spec.Image, Cmd: spec.Cmd, Env: env},
		&container.HostConfig{Binds: spec.Volumes},
		d.networkConfig(spec.Network), nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("create job %s: %w", spec.Name, err)
	}
	defer func() {
		_ = cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start job %s: %w", spec.Name, err)
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := cli.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("wait for job %s: %w", spec.Name, err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("read job logs %s: %w", spec.Name, err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("demux job logs %s: %w", spec.Name, err)
	}

	return &ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (d *DockerClient) CreateVolume(ctx context.Context, name string) error {
	cli, err := d.newClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if _, err := cli.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	return nil
}

func (d *DockerClient) DeleteVolume(ctx context.Context, name string) error {
	cli, err := d.newClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.VolumeRemove(ctx, name, true); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

func (d *DockerClient) CreateDatabaseCluster(ctx context.Context, name string) (*ClusterInfo, error) {
	secretName := name + "-superuser"
	info := &ClusterInfo{
		Host:       name + "-pooler",
		Port:       poolerPort,
		SecretName: secretName,
	}

	// Reuse an existing credential so re-provisioning after a crash keeps
	// the same superuser password as the running cluster.
	password, err := d.ReadSecret(ctx, secretName)
	if err != nil {
		password, err = crypto.GeneratePassword(32)
		if err != nil {
			return nil, err
		}
		if err := d.writeSecret(secretName, password); err != nil {
			return nil, err
		}
	}

	if err := d.CreateVolume(ctx, name+"-data"); err != nil {
		return nil, err
	}

	_, err = d.CreateDeployment(ctx, DeploymentSpec{
		Name:    name,
		Image:   clusterImage,
		Env:     map[string]string{"POSTGRES_PASSWORD": password},
		Volumes: []string{name + "-data:/var/lib/postgresql/data"},
		Network: d.network,
	})
	if err != nil {
		return nil, fmt.Errorf("create cluster %s: %w", name, err)
	}

	_, err = d.CreateDeployment(ctx, DeploymentSpec{
		Name:  name + "-pooler",
		Image: poolerImage,
		Env: map[string]string{
			"DB_HOST":     name,
			"DB_USER":     "postgres",
			"DB_PASSWORD": password,
			"LISTEN_PORT": strconv.Itoa(poolerPort),
		},
		Network: d.network,
	})
	if err != nil {
		return nil, fmt.Errorf("create pooler for %s: %w", name, err)
	}

	return info, nil
}

func (d *DockerClient) DatabaseClusterReady(ctx context.Context, name string) (bool, error) {
	res, err := d.ExecInDeployment(ctx, name, []string{"pg_isready", "-U", "postgres"})
	if err != nil {
		return false, nil // container not up yet; not a terminal failure
	}
	return res.ExitCode == 0, nil
}

func (d *DockerClient) ReadSecret(ctx context.Context, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(d.secretDir, name))
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (d *DockerClient) writeSecret(name, value string) error {
	if err := os.MkdirAll(d.secretDir, 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.secretDir, name), []byte(value), 0o600); err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}

func (d *DockerClient) pullImage(ctx context.Context, cli *client.Client, img string) error {
	reader, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerClient) networkConfig(name string) *network.NetworkingConfig {
	if name == "" {
		name = d.network
	}
	if name == "" {
		return nil
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{name: {}},
	}
}
