package container

import "testing"

func TestConfigDefaults(t *testing.T) {
	cfg := Config{WorkspaceDir: "/ws"}.withDefaults()
	if cfg.Image != "agent-sandbox:latest" {
		t.Fatalf("expected default image, got %q", cfg.Image)
	}
	if cfg.MemoryMiB != 512 {
		t.Fatalf("expected default memory 512, got %d", cfg.MemoryMiB)
	}
	if cfg.CPUCount != 1 {
		t.Fatalf("expected default cpu count 1, got %d", cfg.CPUCount)
	}
}

func TestConfigDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{WorkspaceDir: "/ws", Image: "custom:tag", MemoryMiB: 1024, CPUCount: 2}.withDefaults()
	if cfg.Image != "custom:tag" || cfg.MemoryMiB != 1024 || cfg.CPUCount != 2 {
		t.Fatalf("expected explicit values preserved, got %+v", cfg)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUninit:  "uninit",
		StateCreated: "created",
		StateRunning: "running",
		StateStopped: "stopped",
		StateRemoved: "removed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestStopFromStoppedIsNoop(t *testing.T) {
	m := &Manager{state: StateStopped}
	if err := m.Stop(nil); err != nil {
		t.Fatalf("expected idempotent stop from stopped, got %v", err)
	}
}

func TestStopFromWrongStateErrors(t *testing.T) {
	m := &Manager{state: StateCreated}
	if err := m.Stop(nil); err == nil {
		t.Fatal("expected error stopping a container that was never started")
	}
}

func TestRemoveFromRemovedIsNoop(t *testing.T) {
	m := &Manager{state: StateRemoved}
	if err := m.Remove(nil); err != nil {
		t.Fatalf("expected idempotent remove from removed, got %v", err)
	}
}

func TestStartRequiresCreated(t *testing.T) {
	m := &Manager{state: StateUninit}
	if err := m.Start(nil); err == nil {
		t.Fatal("expected error starting before create")
	}
}

func TestExecRequiresRunning(t *testing.T) {
	m := &Manager{state: StateCreated}
	if _, err := m.Exec(nil, []string{"/bin/cat", "x"}, 0); err == nil {
		t.Fatal("expected error exec'ing before start")
	}
}

func TestCleanupFromUninitIsNoop(t *testing.T) {
	m := &Manager{state: StateUninit}
	if err := m.Cleanup(nil); err != nil {
		t.Fatalf("expected noop cleanup on uninit manager, got %v", err)
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Cmd: []string{"/bin/cat", "huge.log"}}
	if err.Error() == "" {
		t.Fatal("expected non-empty timeout error message")
	}
}
