// Package runtime adapts the container runtime behind a narrow contract.
// All calls are expected to go through a capability-restricted socket broker
// that only accepts container, image, network, and build operations; the
// adapter itself never mounts the host filesystem into created containers.
package runtime

import (
	"context"
	"time"
)

// ContainerState is the subset of inspect output the control plane needs.
type ContainerState struct {
	Running   bool
	Status    string
	StartedAt time.Time
	ExitCode  int
}

// CreateOpts describes a container to create. The internal port is published
// on the leased host port; nothing else is exposed.
type CreateOpts struct {
	Name         string
	Image        string
	Env          []string
	Cmd          []string
	Labels       map[string]string
	InternalPort int
	HostPort     int
}

// ExecResult carries the outcome of an in-container command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Adapter is the container runtime contract. Implementations perform no
// retries; failure policy belongs to the provisioner.
type Adapter interface {
	Create(ctx context.Context, opts CreateOpts) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string, force bool) error
	Inspect(ctx context.Context, containerID string) (ContainerState, error)
	Exec(ctx context.Context, containerID string, argv []string) (ExecResult, error)

	// RunEphemeral creates a throwaway container, feeds stdin to it, and
	// returns its stdout once it exits or the context expires. Used by the
	// Lambda emulator.
	RunEphemeral(ctx context.Context, image string, env []string, stdin []byte) (string, error)
}

// Container labels used for GC and audit.
const (
	LabelEnvironment = "mockfactory.environment"
	LabelKind        = "mockfactory.kind"
)
