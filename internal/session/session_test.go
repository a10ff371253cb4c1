package session

import (
	"context"
	"errors"
	"testing"

	"github.com/codecage/codecage/internal/agentloop"
	"github.com/codecage/codecage/internal/observability"
)

type fakeRunner struct {
	response string
	err      error
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, _, _ string, _ int, exec agentloop.ToolExecutor) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if exec != nil {
		exec(ctx, "read_file", map[string]any{"path": "."})
	}
	return f.response, f.err
}

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(context.Context, string, map[string]any) (string, bool) {
	return "ok", false
}

func newTestSupervisor(t *testing.T, runner loopRunner) *Supervisor {
	t.Helper()
	return &Supervisor{
		id:         "sess-test",
		cfg:        Config{TurnLimit: 10, TimeoutMs: minTimeoutMs},
		driver:     runner,
		dispatcher: fakeDispatcher{},
		metrics:    observability.NoopMetrics{},
	}
}

func TestRunClassifiesSuccess(t *testing.T) {
	s := newTestSupervisor(t, &fakeRunner{response: "Done."})
	result := s.Run(context.Background(), "system", "Fix the bug")

	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.FinalResponse != "Done." {
		t.Fatalf("expected final response Done., got %q", result.FinalResponse)
	}
	if result.ToolCallCount != 1 {
		t.Fatalf("expected one tool call recorded, got %d", result.ToolCallCount)
	}
}

func TestRunClassifiesTurnLimit(t *testing.T) {
	s := newTestSupervisor(t, &fakeRunner{err: &agentloop.TurnLimitError{MaxIterations: 10}})
	result := s.Run(context.Background(), "system", "task")

	if result.Status != StatusTurnLimit {
		t.Fatalf("expected turn_limit, got %s", result.Status)
	}
}

func TestRunClassifiesFailed(t *testing.T) {
	s := newTestSupervisor(t, &fakeRunner{err: errors.New("tool dispatcher exploded")})
	result := s.Run(context.Background(), "system", "task")

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestRunClassifiesTimeout(t *testing.T) {
	s := newTestSupervisor(t, &fakeRunner{block: true})
	// Run reads cfg.TimeoutMs directly without re-validating it, so a test
	// can set a 1ms budget to force the timer branch quickly.
	s.cfg.TimeoutMs = 1

	result := s.Run(context.Background(), "system", "task")

	if result.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %s", result.Status)
	}
	if result.Error == "" {
		t.Fatal("expected a non-empty timeout error message")
	}
}

func TestConfigValidateRejectsOutOfRangeTurnLimit(t *testing.T) {
	cfg := Config{WorkspaceDir: "/ws", TurnLimit: 0, TimeoutMs: 300_000}.withDefaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected default turn_limit to be valid: %v", err)
	}

	cfg2 := Config{WorkspaceDir: "/ws", TurnLimit: 101, TimeoutMs: 300_000}
	if err := cfg2.validate(); err == nil {
		t.Fatal("expected turn_limit 101 to be rejected")
	}
}

func TestConfigValidateRejectsOutOfRangeTimeout(t *testing.T) {
	cfg := Config{WorkspaceDir: "/ws", TurnLimit: 10, TimeoutMs: 1000}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected timeout_ms 1000 to be rejected")
	}
}
