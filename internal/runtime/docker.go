package runtime

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerAdapter implements Adapter against the Docker Engine API.
type DockerAdapter struct {
	cli *client.Client
}

// NewDockerAdapter connects to the runtime socket. host should point at the
// restricted broker; empty falls back to DOCKER_HOST / the platform default.
func NewDockerAdapter(host string) (*DockerAdapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime client: %w", err)
	}
	return &DockerAdapter{cli: cli}, nil
}

func (d *DockerAdapter) Create(ctx context.Context, opts CreateOpts) (string, error) {
	internal, err := nat.NewPort("tcp", fmt.Sprintf("%d", opts.InternalPort))
	if err != nil {
		return "", fmt.Errorf("invalid internal port %d: %w", opts.InternalPort, err)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		Cmd:          opts.Cmd,
		Labels:       opts.Labels,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
	}
	// HostConfig carries only the port binding. No binds, no mounts: created
	// containers never see the caller host's filesystem.
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", opts.HostPort)}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}
	return resp.ID, nil
}

func (d *DockerAdapter) Start(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

func (d *DockerAdapter) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

func (d *DockerAdapter) Remove(ctx context.Context, containerID string, force bool) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

func (d *DockerAdapter) Inspect(ctx context.Context, containerID string) (ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerState{}, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	state := ContainerState{}
	if info.State != nil {
		state.Running = info.State.Running
		state.Status = info.State.Status
		state.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = t
		}
	}
	return state, nil
}

func (d *DockerAdapter) Exec(ctx context.Context, containerID string, argv []string) (ExecResult, error) {
	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec in %s: %w", containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec in %s: %w", containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	insp, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: insp.ExitCode}, nil
}

func (d *DockerAdapter) RunEphemeral(ctx context.Context, image string, env []string, stdin []byte) (string, error) {
	cfg := &container.Config{
		Image:       image,
		Env:         env,
		OpenStdin:   true,
		StdinOnce:   true,
		AttachStdin: true,
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, &container.HostConfig{AutoRemove: false}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create ephemeral container: %w", err)
	}
	// Best-effort cleanup regardless of outcome; background context so the
	// container does not leak when the invoke deadline fires.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true})
	}()

	attach, err := d.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to attach ephemeral container: %w", err)
	}
	defer attach.Close()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start ephemeral container: %w", err)
	}

	if _, err := attach.Conn.Write(stdin); err != nil {
		return "", fmt.Errorf("failed to write event to stdin: %w", err)
	}
	_ = attach.CloseWrite()

	var stdout lockedBuffer
	done := make(chan error, 1)
	go func() {
		var stderr bytes.Buffer
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		// Deadline expired: surface whatever the function printed so far.
		return stdout.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("failed to read function output: %w", err)
		}
		return stdout.String(), nil
	}
}

// lockedBuffer makes the partial-output read safe against the copier.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
