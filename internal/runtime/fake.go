package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Adapter for tests. Containers are plain records;
// probes always succeed unless a failure is scripted.
type Fake struct {
	mu       sync.Mutex
	seq      int
	existing map[string]*fakeContainer

	// FailCreate makes the next Create calls fail; counts down to zero.
	FailCreate int
	// FailKinds fails Create for containers whose kind label matches.
	FailKinds map[string]bool
	// ExecOutput is returned by Exec and RunEphemeral.
	ExecOutput string
}

type fakeContainer struct {
	id      string
	name    string
	labels  map[string]string
	running bool
	started time.Time
}

// NewFake returns an empty fake runtime.
func NewFake() *Fake {
	return &Fake{existing: make(map[string]*fakeContainer)}
}

func (f *Fake) Create(_ context.Context, opts CreateOpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate > 0 {
		f.FailCreate--
		return "", fmt.Errorf("scripted create failure for %s", opts.Name)
	}
	if f.FailKinds[opts.Labels[LabelKind]] {
		return "", fmt.Errorf("scripted create failure for kind %s", opts.Labels[LabelKind])
	}
	f.seq++
	id := fmt.Sprintf("ctr-%06d", f.seq)
	f.existing[id] = &fakeContainer{id: id, name: opts.Name, labels: opts.Labels}
	return id, nil
}

func (f *Fake) Start(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.existing[containerID]
	if !ok {
		return fmt.Errorf("no such container %s", containerID)
	}
	c.running = true
	c.started = time.Now()
	return nil
}

func (f *Fake) Stop(_ context.Context, containerID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.existing[containerID]
	if !ok {
		return fmt.Errorf("no such container %s", containerID)
	}
	c.running = false
	return nil
}

func (f *Fake) Remove(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.existing, containerID)
	return nil
}

func (f *Fake) Inspect(_ context.Context, containerID string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.existing[containerID]
	if !ok {
		return ContainerState{}, fmt.Errorf("no such container %s", containerID)
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return ContainerState{Running: c.running, Status: status, StartedAt: c.started}, nil
}

func (f *Fake) Exec(_ context.Context, containerID string, _ []string) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.existing[containerID]
	if !ok || !c.running {
		return ExecResult{}, fmt.Errorf("container %s not running", containerID)
	}
	return ExecResult{Stdout: f.ExecOutput}, nil
}

func (f *Fake) RunEphemeral(ctx context.Context, _ string, _ []string, _ []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ExecOutput, nil
}

// Exists reports whether a container id is present. Test helper.
func (f *Fake) Exists(containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.existing[containerID]
	return ok
}

// Running reports whether a container is running. Test helper.
func (f *Fake) Running(containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.existing[containerID]
	return ok && c.running
}
