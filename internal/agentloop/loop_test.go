package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codecage/codecage/internal/llm"
)

func TestTurnLimitErrorMessage(t *testing.T) {
	err := &TurnLimitError{MaxIterations: 10}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestRateLimitDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
		{4, 10000 * time.Millisecond}, // capped
		{10, 10000 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := rateLimitDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestSleepReturnsFalseOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Second) {
		t.Fatal("expected sleep to observe cancellation")
	}
}

func TestSleepReturnsTrueWhenTimerFires(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("expected sleep to complete normally")
	}
}

// newTestDriver points a Driver at an httptest server via
// option.WithBaseURL, the same mechanism the teacher's own provider
// constructor exposes for overriding the Anthropic SDK's base URL.
func newTestDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := llm.NewClient("test-key", option.WithBaseURL(server.URL+"/"))
	return New(client, "test-model", nil, nil, nil)
}

func writeMessage(t *testing.T, w http.ResponseWriter, stopReason string, content []map[string]any) {
	t.Helper()
	body := map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-sonnet-4-5",
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 1, "output_tokens": 1},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Fatalf("encode fake response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, status int, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":"synthetic"}}`, errType)
}

func TestDriverRunEndTurn(t *testing.T) {
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(t, w, "end_turn", []map[string]any{{"type": "text", "text": "done"}})
	})

	text, err := driver.Run(context.Background(), "system", "task", 10, func(context.Context, string, map[string]any) (string, bool) {
		t.Fatal("exec should not be called for a text-only response")
		return "", false
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "done" {
		t.Fatalf("expected %q, got %q", "done", text)
	}
}

func TestDriverRunToolUseThenEndTurn(t *testing.T) {
	calls := 0
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeMessage(t, w, "tool_use", []map[string]any{{
				"type":  "tool_use",
				"id":    "toolu_1",
				"name":  "read_file",
				"input": map[string]any{"path": "a.txt"},
			}})
			return
		}
		writeMessage(t, w, "end_turn", []map[string]any{{"type": "text", "text": "ok"}})
	})

	execCalls := 0
	text, err := driver.Run(context.Background(), "system", "task", 10, func(_ context.Context, name string, input map[string]any) (string, bool) {
		execCalls++
		if name != "read_file" {
			t.Fatalf("expected tool read_file, got %q", name)
		}
		if input["path"] != "a.txt" {
			t.Fatalf("expected path a.txt, got %v", input["path"])
		}
		return "file contents", false
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Fatalf("expected %q, got %q", "ok", text)
	}
	if execCalls != 1 {
		t.Fatalf("expected exactly one tool call, got %d", execCalls)
	}
	if calls != 2 {
		t.Fatalf("expected exactly two requests, got %d", calls)
	}
}

func TestDriverRunMaxTokensReturnsError(t *testing.T) {
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(t, w, "max_tokens", []map[string]any{{"type": "text", "text": "cut off"}})
	})

	_, err := driver.Run(context.Background(), "system", "task", 10, nil)
	if err == nil || !strings.Contains(err.Error(), "max_tokens") {
		t.Fatalf("expected a max_tokens error, got %v", err)
	}
}

func TestDriverRunUnexpectedStopReasonReturnsError(t *testing.T) {
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(t, w, "refusal", nil)
	})

	_, err := driver.Run(context.Background(), "system", "task", 10, nil)
	if err == nil || !strings.Contains(err.Error(), "unexpected stop reason") {
		t.Fatalf("expected an unexpected-stop-reason error, got %v", err)
	}
}

func TestDriverRunTurnLimitExceeded(t *testing.T) {
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(t, w, "tool_use", []map[string]any{{
			"type": "tool_use", "id": "toolu_x", "name": "read_file", "input": map[string]any{},
		}})
	})

	_, err := driver.Run(context.Background(), "system", "task", 1, func(context.Context, string, map[string]any) (string, bool) {
		return "x", false
	})
	var turnLimitErr *TurnLimitError
	if !errors.As(err, &turnLimitErr) {
		t.Fatalf("expected TurnLimitError, got %v", err)
	}
}

func TestDriverRunRetriesRateLimitThenSucceeds(t *testing.T) {
	original := rateLimitPolicy
	rateLimitPolicy.InitialMs = 1
	rateLimitPolicy.MaxMs = 1
	defer func() { rateLimitPolicy = original }()

	calls := 0
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeAPIError(w, http.StatusTooManyRequests, "rate_limit_error")
			return
		}
		writeMessage(t, w, "end_turn", []map[string]any{{"type": "text", "text": "done"}})
	})

	text, err := driver.Run(context.Background(), "system", "task", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "done" {
		t.Fatalf("expected %q, got %q", "done", text)
	}
	if calls != 2 {
		t.Fatalf("expected one retry (2 requests), got %d", calls)
	}
}

func TestDriverRunRetriesOverloadThenSucceeds(t *testing.T) {
	original := overloadDelay
	overloadDelay = time.Millisecond
	defer func() { overloadDelay = original }()

	calls := 0
	driver := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeAPIError(w, 529, "overloaded_error")
			return
		}
		writeMessage(t, w, "end_turn", []map[string]any{{"type": "text", "text": "done"}})
	})

	text, err := driver.Run(context.Background(), "system", "task", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "done" {
		t.Fatalf("expected %q, got %q", "done", text)
	}
	if calls != 2 {
		t.Fatalf("expected one retry (2 requests), got %d", calls)
	}
}
