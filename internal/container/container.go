// Package container owns the lifecycle of exactly one sandbox container per
// instance: create, start, exec, stop, remove. It is the only package that
// imports the Docker Engine API client directly — every other package talks
// to containers through Manager's exported methods.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/codecage/codecage/internal/observability"
)

// DefaultExecTimeout is the per-exec timeout named in the design notes as a
// constant instead of a magic literal duplicated at call sites.
const DefaultExecTimeout = 30 * time.Second

// State is the container manager's lifecycle state machine.
type State int

const (
	StateUninit State = iota
	StateCreated
	StateRunning
	StateStopped
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Config is the input to Manager.Create, mirroring the ContainerConfig data
// model.
type Config struct {
	// Image defaults to "agent-sandbox:latest".
	Image string
	// WorkspaceDir is an absolute host path that must already exist; it is
	// bind-mounted into the container at the identical absolute path.
	WorkspaceDir string
	// MemoryMiB defaults to 512.
	MemoryMiB int64
	// CPUCount defaults to 1.
	CPUCount int64
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = "agent-sandbox:latest"
	}
	if c.MemoryMiB == 0 {
		c.MemoryMiB = 512
	}
	if c.CPUCount == 0 {
		c.CPUCount = 1
	}
	return c
}

// Result is the outcome of one exec call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// TimeoutError is raised when an exec call exceeds its timeout. The process
// is not cancelled mid-stream; it is reaped when the container exits.
type TimeoutError struct {
	Cmd     []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("exec %v exceeded timeout of %s", e.Cmd, e.Timeout)
}

// HealthError wraps a runtime ping failure with a user-facing hint.
type HealthError struct {
	Err error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("container runtime is unreachable (check the Docker socket, e.g. `docker ps`): %v", e.Err)
}

func (e *HealthError) Unwrap() error { return e.Err }

// Manager owns at most one live container at a time, between Create and
// Remove. Zero value is not usable; construct with New.
type Manager struct {
	cli    *client.Client
	state  State
	id     string
	cfg    Config
	logger *observability.Logger
}

// New wraps an existing Docker API client. Passing nil constructs one from
// the environment (DOCKER_HOST, DOCKER_CERT_PATH, etc.), matching how the
// docker CLI itself discovers the daemon. logger may be nil.
func New(cli *client.Client, logger *observability.Logger) (*Manager, error) {
	if cli == nil {
		var err error
		cli, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("container: construct docker client: %w", err)
		}
	}
	return &Manager{cli: cli, state: StateUninit, logger: logger}, nil
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State { return m.state }

// ContainerID returns the id of the owned container, or "" before Create.
func (m *Manager) ContainerID() string { return m.id }

// Health pings the container runtime. It must succeed before Create
// proceeds.
func (m *Manager) Health(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return &HealthError{Err: err}
	}
	return nil
}

// Create brings the manager from uninit to created: it health-checks the
// runtime, verifies the workspace exists on disk, then creates the
// container with the bit-exact security-hardened options this system's
// sandbox contract requires. It does not start the container.
func (m *Manager) Create(ctx context.Context, cfg Config) error {
	if m.state != StateUninit {
		return fmt.Errorf("container: Create called in state %s, want %s", m.state, StateUninit)
	}
	cfg = cfg.withDefaults()

	if err := m.Health(ctx); err != nil {
		return err
	}

	info, err := os.Stat(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("container: workspace_dir %q is not accessible: %w", cfg.WorkspaceDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("container: workspace_dir %q is not a directory", cfg.WorkspaceDir)
	}

	pidsLimit := int64(100)
	containerCfg := &container.Config{
		User:       "agent:agent",
		Image:      cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: cfg.WorkspaceDir,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    cfg.MemoryMiB * 1024 * 1024,
			NanoCPUs:  cfg.CPUCount * 1_000_000_000,
			PidsLimit: &pidsLimit,
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=100m",
		},
		Binds:       []string{cfg.WorkspaceDir + ":" + cfg.WorkspaceDir},
		SecurityOpt: []string{"no-new-privileges:true"},
		CapDrop:     []string{"ALL"},
	}

	resp, err := m.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("container: create: %w", err)
	}

	m.id = resp.ID
	m.cfg = cfg
	m.state = StateCreated
	m.logger.Info(ctx, "container created", "container_id", m.id, "image", cfg.Image)
	return nil
}

// Start transitions created -> running.
func (m *Manager) Start(ctx context.Context) error {
	if m.state != StateCreated {
		return fmt.Errorf("container: Start called in state %s, want %s", m.state, StateCreated)
	}
	if err := m.cli.ContainerStart(ctx, m.id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container: start %s: %w", m.id, err)
	}
	m.state = StateRunning
	m.logger.Info(ctx, "container started", "container_id", m.id)
	return nil
}

// Exec runs cmd inside the container via a fresh exec handle, racing
// completion against timeout (defaulting to DefaultExecTimeout). The
// process is not cancelled on timeout — it is left to the container's
// lifetime, and reaped when the container is eventually stopped.
func (m *Manager) Exec(ctx context.Context, cmd []string, timeout time.Duration) (Result, error) {
	if m.state != StateRunning {
		return Result{}, fmt.Errorf("container: Exec called in state %s, want %s", m.state, StateRunning)
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	execResp, err := m.cli.ContainerExecCreate(ctx, m.id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("container: exec create: %w", err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("container: exec attach: %w", err)
	}
	defer attach.Close()

	type demuxResult struct {
		stdout, stderr bytes.Buffer
		err            error
	}
	done := make(chan demuxResult, 1)
	go func() {
		var r demuxResult
		_, r.err = stdcopy.StdCopy(&r.stdout, &r.stderr, attach.Reader)
		done <- r
	}()

	select {
	case <-time.After(timeout):
		return Result{}, &TimeoutError{Cmd: cmd, Timeout: timeout}
	case r := <-done:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return Result{}, fmt.Errorf("container: demultiplex exec stream: %w", r.err)
		}
		inspect, err := m.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return Result{}, fmt.Errorf("container: exec inspect: %w", err)
		}
		// ExitCode falls back to 0 if the runtime reports none, per contract.
		return Result{
			Stdout:   r.stdout.String(),
			Stderr:   r.stderr.String(),
			ExitCode: inspect.ExitCode,
		}, nil
	}
}

// Stop transitions running -> stopped. It is a no-op from stopped. A
// failure to stop gracefully falls back to SIGKILL via a short timeout.
func (m *Manager) Stop(ctx context.Context) error {
	if m.state == StateStopped {
		return nil
	}
	if m.state != StateRunning {
		return fmt.Errorf("container: Stop called in state %s, want %s", m.state, StateRunning)
	}
	timeoutSeconds := 5
	if err := m.cli.ContainerStop(ctx, m.id, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("container: stop %s: %w", m.id, err)
	}
	m.state = StateStopped
	m.logger.Info(ctx, "container stopped", "container_id", m.id)
	return nil
}

// Remove transitions created or stopped -> removed.
func (m *Manager) Remove(ctx context.Context) error {
	if m.state == StateRemoved {
		return nil
	}
	if m.state != StateCreated && m.state != StateStopped {
		return fmt.Errorf("container: Remove called in state %s, want created or stopped", m.state)
	}
	if err := m.cli.ContainerRemove(ctx, m.id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container: remove %s: %w", m.id, err)
	}
	m.state = StateRemoved
	m.logger.Info(ctx, "container removed", "container_id", m.id)
	return nil
}

// Cleanup is Stop followed by Remove, tolerating both an already-stopped
// container and an already-removed one. It is best-effort: if removal still
// fails, the failure is logged but not re-raised.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.state == StateUninit || m.state == StateRemoved {
		return nil
	}
	if m.state == StateRunning {
		if err := m.Stop(ctx); err != nil {
			m.logger.Warn(ctx, "container stop failed during cleanup, attempting removal anyway", "container_id", m.id, "error", err)
			m.state = StateStopped
		}
	}
	if err := m.Remove(ctx); err != nil {
		m.logger.Warn(ctx, "container remove failed during cleanup", "container_id", m.id, "error", err)
	}
	return nil
}
