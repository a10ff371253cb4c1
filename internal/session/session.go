// Package session supervises exactly one (container, agentic loop) pair:
// it enforces the turn budget and the wall-clock timeout via a cancellation
// token, and classifies the run's terminal status.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/codecage/codecage/internal/agentloop"
	"github.com/codecage/codecage/internal/container"
	"github.com/codecage/codecage/internal/llm"
	"github.com/codecage/codecage/internal/observability"
	"github.com/codecage/codecage/internal/tools"
)

const (
	minTurnLimit  = 1
	maxTurnLimit  = 100
	minTimeoutMs  = 30_000
	maxTimeoutMs  = 3_600_000
)

// Config is the input to New, mirroring the SessionConfig data model.
type Config struct {
	WorkspaceDir string
	Image        string
	Model        string
	TurnLimit    int
	TimeoutMs    int
	GitBinary    string
}

func (c Config) withDefaults() Config {
	if c.TurnLimit == 0 {
		c.TurnLimit = 10
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 300_000
	}
	if c.GitBinary == "" {
		c.GitBinary = "/usr/bin/git"
	}
	return c
}

func (c Config) validate() error {
	if c.TurnLimit < minTurnLimit || c.TurnLimit > maxTurnLimit {
		return fmt.Errorf("session: turn_limit %d out of range [%d, %d]", c.TurnLimit, minTurnLimit, maxTurnLimit)
	}
	if c.TimeoutMs < minTimeoutMs || c.TimeoutMs > maxTimeoutMs {
		return fmt.Errorf("session: timeout_ms %d out of range [%d, %d]", c.TimeoutMs, minTimeoutMs, maxTimeoutMs)
	}
	if c.WorkspaceDir == "" {
		return errors.New("session: workspace_dir is required")
	}
	return nil
}

// Status is the terminal status classification of a Result.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusTurnLimit Status = "turn_limit"
)

// Result is the output of Run, mirroring the SessionResult data model.
type Result struct {
	SessionID     string
	Status        Status
	ToolCallCount int
	DurationMs    int64
	FinalResponse string
	Error         string
}

// TimeoutError describes a session whose wall-clock timeout fired. Run uses
// its message as Result.Error when the status is timeout. It is not returned
// at the tool-call boundary: once the cancellation token is set, each further
// tool call yields an empty error result, and the cancelled context ends the
// agentic loop.
type TimeoutError struct {
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session exceeded its %dms timeout", e.TimeoutMs)
}

// loopRunner is the subset of *agentloop.Driver the supervisor depends on,
// so tests can substitute a fake loop without a real Anthropic client.
type loopRunner interface {
	Run(ctx context.Context, systemPrompt, userMessage string, maxIterations int, exec agentloop.ToolExecutor) (string, error)
}

// toolDispatcher is the subset of *tools.Dispatcher the supervisor depends
// on.
type toolDispatcher interface {
	Dispatch(ctx context.Context, name string, input map[string]any) (string, bool)
}

// Supervisor owns exactly one container and one agentic loop driver.
type Supervisor struct {
	id         string
	cfg        Config
	container  *container.Manager
	driver     loopRunner
	dispatcher toolDispatcher
	logger     *observability.Logger
	metrics    observability.MetricsSink

	cancelled     atomic.Bool
	toolCallCount atomic.Int64
}

// New validates cfg and constructs a Supervisor. It does not start the
// container — call Start for that.
func New(cfg Config, anthropicClient *llm.Client, toolSchema []anthropic.ToolUnionParam, logger *observability.Logger, metrics observability.MetricsSink) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	mgr, err := container.New(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	dispatcher := tools.New(mgr, cfg.WorkspaceDir, cfg.GitBinary, logger, metrics)
	driver := agentloop.New(anthropicClient, cfg.Model, toolSchema, logger, metrics)

	id := uuid.NewString()
	logger.Info(context.Background(), "session created", "session_id", id)

	return &Supervisor{
		id:         id,
		cfg:        cfg,
		container:  mgr,
		driver:     driver,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// ID returns the fresh random session id assigned at construction.
func (s *Supervisor) ID() string { return s.id }

// Start creates and starts the owned container.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.container.Create(ctx, container.Config{
		Image:        s.cfg.Image,
		WorkspaceDir: s.cfg.WorkspaceDir,
	}); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.metrics.ContainerEvent("created")

	if err := s.container.Start(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.metrics.ContainerEvent("started")
	s.logger.Info(ctx, "session started", "session_id", s.id, "container_id", s.container.ContainerID())
	return nil
}

// Run establishes the wall-clock timeout and cancellation token, then
// drives the agentic loop to completion or a terminal error, classifying
// the result per the terminal-status table.
func (s *Supervisor) Run(ctx context.Context, systemPrompt, userMessage string) Result {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.AfterFunc(time.Duration(s.cfg.TimeoutMs)*time.Millisecond, func() {
		s.cancelled.Store(true)
		cancel()
	})
	defer timer.Stop()

	executor := func(toolCtx context.Context, name string, input map[string]any) (string, bool) {
		if s.cancelled.Load() {
			return "", true
		}
		s.toolCallCount.Add(1)
		return s.dispatcher.Dispatch(toolCtx, name, input)
	}

	finalResponse, err := s.driver.Run(runCtx, systemPrompt, userMessage, s.cfg.TurnLimit, executor)
	duration := time.Since(start).Milliseconds()

	result := Result{
		SessionID:     s.id,
		ToolCallCount: int(s.toolCallCount.Load()),
		DurationMs:    duration,
		FinalResponse: finalResponse,
	}

	switch {
	case err == nil:
		result.Status = StatusSuccess
	case s.cancelled.Load():
		result.Status = StatusTimeout
		result.Error = (&TimeoutError{TimeoutMs: s.cfg.TimeoutMs}).Error()
	default:
		var turnLimitErr *agentloop.TurnLimitError
		if errors.As(err, &turnLimitErr) {
			result.Status = StatusTurnLimit
		} else {
			result.Status = StatusFailed
		}
		result.Error = err.Error()
	}

	s.metrics.SessionCompleted(string(result.Status), duration)
	s.logger.Info(ctx, "session completed", "session_id", s.id, "status", result.Status, "tool_call_count", result.ToolCallCount, "duration_ms", result.DurationMs)
	return result
}

// Stop invokes cleanup on the owned container. It is idempotent and safe
// to call from an error path or a signal handler racing normal completion.
// Cleanup is best-effort — a failure to remove the container is logged by
// the container manager itself, never returned here.
func (s *Supervisor) Stop(ctx context.Context) error {
	_ = s.container.Cleanup(ctx)
	s.metrics.ContainerEvent("removed")
	return nil
}
