// Package docker provides the daemon-socket runtime adapter for agent
// containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/clawpen/clawpen/internal/clawpen/runtime"
)

const (
	labelManagedBy = "clawpen.managed-by"
	labelAgentID   = "clawpen.agent-id"
	managedByValue = "clawpen"
)

// allowedCapabilities is the minimal capability allow-list granted to agent
// containers after dropping everything.
var allowedCapabilities = []string{"CHOWN", "SETUID", "SETGID"}

// Adapter implements runtime.Runtime against the Docker Engine API.
type Adapter struct {
	client            *dockerclient.Client
	network           string
	allowedMountBases []string
}

// New creates an adapter connected via the DOCKER_HOST env var or the
// default socket path. allowedMountBases bounds volume mount sources.
func New(allowedMountBases []string) (*Adapter, error) {
	return NewWithNetwork(runtime.DefaultNetwork, allowedMountBases)
}

// NewWithNetwork creates an adapter attaching containers to a specific
// network name.
func NewWithNetwork(networkName string, allowedMountBases []string) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli, network: networkName, allowedMountBases: allowedMountBases}, nil
}

// EnsureNetwork creates the agent bridge network if it doesn't exist.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.network)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == a.network {
			return nil // already exists
		}
	}
	_, err = a.client.NetworkCreate(ctx, a.network, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManagedBy: managedByValue},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", a.network, err)
	}
	return nil
}

// Create creates an agent container from the spec without starting it.
func (a *Adapter) Create(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if err := runtime.VerifySpec(spec, a.allowedMountBases); err != nil {
		return "", err
	}

	containerName := runtime.ContainerNameFor(spec.AgentID)

	env := make([]string, 0, len(spec.Env)+1)
	env = append(env, fmt.Sprintf("AGENT_ID=%s", spec.AgentID))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelAgentID:   spec.AgentID,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port := nat.Port(strconv.Itoa(p) + "/tcp")
		exposed[port] = struct{}{}
		binding := nat.PortBinding{HostPort: strconv.Itoa(p)}
		if !spec.MeshNetwork {
			binding.HostIP = "127.0.0.1"
		}
		bindings[port] = []nat.PortBinding{binding}
	}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposed,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		CapDrop:      []string{"ALL"},
		CapAdd:       allowedCapabilities,
		SecurityOpt:  []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:   int64(spec.MemoryMB) << 20,
			NanoCPUs: int64(spec.CPUCores * 1e9),
		},
	}

	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			a.network: {},
		},
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return runtime.Handle(resp.ID), nil
}

// Start starts a created or stopped container.
func (a *Adapter) Start(ctx context.Context, handle runtime.Handle) error {
	if err := a.client.ContainerStart(ctx, string(handle), container.StartOptions{}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("start container: %w", runtime.ErrNotFound)
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Stop gracefully stops the container, escalating after the grace period.
// Stopping a container that is not running succeeds.
func (a *Adapter) Stop(ctx context.Context, handle runtime.Handle, grace time.Duration) error {
	if grace <= 0 {
		grace = runtime.DefaultStopGrace
	}
	timeout := int(grace.Seconds())
	if err := a.client.ContainerStop(ctx, string(handle), container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("stop container: %w", runtime.ErrNotFound)
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Remove deletes the container. Returns runtime.ErrNotFound when the engine
// has no record of the handle.
func (a *Adapter) Remove(ctx context.Context, handle runtime.Handle) error {
	err := a.client.ContainerRemove(ctx, string(handle), container.RemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("remove container: %w", runtime.ErrNotFound)
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Status reports the live engine state for the handle. A missing container
// reports StateGone rather than an error.
func (a *Adapter) Status(ctx context.Context, handle runtime.Handle) (runtime.Status, error) {
	inspect, err := a.client.ContainerInspect(ctx, string(handle))
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.Status{Handle: handle, State: runtime.StateGone}, nil
		}
		return runtime.Status{}, fmt.Errorf("inspect container: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)

	return runtime.Status{
		Handle:     runtime.Handle(inspect.ID),
		State:      parseContainerState(inspect.State.Status),
		ExitCode:   inspect.State.ExitCode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Error:      inspect.State.Error,
	}, nil
}

// List returns all containers managed by this deployment.
func (a *Adapter) List(ctx context.Context) ([]runtime.Container, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.Container, 0, len(containers))
	for _, c := range containers {
		out = append(out, runtime.Container{
			AgentID: c.Labels[labelAgentID],
			Handle:  runtime.Handle(c.ID),
			State:   parseContainerState(c.State),
		})
	}
	return out, nil
}

// Logs opens a fresh cursor over the container's output. The multiplexed
// engine stream is demuxed into a single plain-text stream; backpressure is
// inherited from the pipe (production suspends until the consumer reads).
func (a *Adapter) Logs(ctx context.Context, handle runtime.Handle, opts runtime.LogOptions) (io.ReadCloser, error) {
	since := ""
	if !opts.FromBeginning {
		since = time.Now().UTC().Format(time.RFC3339Nano)
	}
	rc, err := a.client.ContainerLogs(ctx, string(handle), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Since:      since,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("container logs: %w", runtime.ErrNotFound)
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = rc.Close()
		_ = pw.CloseWithError(err)
	}()
	return &logStream{pr: pr, raw: rc}, nil
}

// Attach opens a duplex stream to the container's stdio.
func (a *Adapter) Attach(ctx context.Context, handle runtime.Handle) (io.ReadWriteCloser, error) {
	resp, err := a.client.ContainerAttach(ctx, string(handle), container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("attach container: %w", runtime.ErrNotFound)
		}
		return nil, fmt.Errorf("attach container: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, resp.Reader)
		_ = pw.CloseWithError(err)
	}()
	return &attachStream{reader: pr, resp: resp}, nil
}

// logStream closes both the demux pipe and the raw engine stream.
type logStream struct {
	pr  *io.PipeReader
	raw io.ReadCloser
}

func (s *logStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *logStream) Close() error {
	_ = s.raw.Close()
	return s.pr.Close()
}

// attachStream exposes the hijacked attach connection as a ReadWriteCloser
// with demuxed output. Writes go to the container's stdin.
type attachStream struct {
	reader *io.PipeReader
	resp   types.HijackedResponse
}

func (s *attachStream) Read(p []byte) (int, error) { return s.reader.Read(p) }

func (s *attachStream) Write(p []byte) (int, error) { return s.resp.Conn.Write(p) }

func (s *attachStream) Close() error {
	s.resp.Close()
	return s.reader.Close()
}

func parseContainerState(s string) runtime.State {
	switch strings.ToLower(s) {
	case "running":
		return runtime.StateRunning
	case "created":
		return runtime.StateCreated
	case "stopped", "paused":
		return runtime.StateStopped
	case "exited", "dead":
		return runtime.StateExited
	case "removing":
		return runtime.StateRemoving
	default:
		return runtime.StateUnknown
	}
}
