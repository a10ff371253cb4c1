// Package tools implements the six allowlisted tools the agentic loop may
// invoke, plus the dispatcher that maps a (name, input) pair to a result
// string. No tool handler lets an exception unwind past Dispatch — every
// failure becomes an "Error: ..." string the LLM can react to, per the
// catch-all-at-the-boundary contract.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/codecage/codecage/internal/container"
	"github.com/codecage/codecage/internal/observability"
)

// execTarget is the subset of *container.Manager the dispatcher depends on,
// so tests can substitute a fake sandbox without a Docker daemon.
type execTarget interface {
	Exec(ctx context.Context, cmd []string, timeout time.Duration) (container.Result, error)
}

// GitTimeout and BashTimeout are the two call sites that previously
// hard-coded a 30s exec timeout; both now reference container.DefaultExecTimeout.
const (
	GitTimeout  = container.DefaultExecTimeout
	BashTimeout = container.DefaultExecTimeout
)

// Spec is a static tool declaration: name, description, and a JSON-schema
// shaped parameter map with a "required" list. The six specs are declared
// once in Specs and never mutated at runtime — there is no dynamic tool
// discovery in this system.
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Specs is the fixed table of the six tools this system exposes to the LLM.
var Specs = []Spec{
	{
		Name:        "read_file",
		Description: "Read the full contents of a file in the workspace.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "workspace-relative or absolute path"},
			},
			"required": []string{"path"},
		},
	},
	{
		Name:        "edit_file",
		Description: "Create a new file or replace a unique string occurrence in an existing file.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":  map[string]any{"type": "string", "enum": []string{"str_replace", "create"}},
				"path":     map[string]any{"type": "string"},
				"old_str":  map[string]any{"type": "string"},
				"new_str":  map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
			},
			"required": []string{"command", "path"},
		},
	},
	{
		Name:        "git_operation",
		Description: "Run a restricted git operation: status, diff, add, or commit.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{"type": "string", "enum": []string{"status", "diff", "add", "commit"}},
				"args":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"operation"},
		},
	},
	{
		Name:        "grep",
		Description: "Search workspace files for a pattern using ripgrep.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":          map[string]any{"type": "string"},
				"path":             map[string]any{"type": "string"},
				"case_insensitive": map[string]any{"type": "boolean"},
				"context_lines":    map[string]any{"type": "integer"},
			},
			"required": []string{"pattern"},
		},
	},
	{
		Name:        "bash_command",
		Description: "Run one allowlisted read-only command (cat, head, tail, find, wc) in the sandbox.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"command"},
		},
	},
	{
		Name:        "list_files",
		Description: "List files in a workspace directory.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
	},
}

// ToSDKTools converts the static Specs table into the SDK's tool-union
// shape, once, for the driver to pass on every request.
func ToSDKTools() ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(Specs))
	for _, spec := range Specs {
		raw, err := json.Marshal(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tools: marshaling schema for %s: %w", spec.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tools: invalid schema for %s: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(spec.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

// Dispatcher routes a (name, input) pair to one of the six tool handlers.
// It holds the one container the session owns and the host workspace path
// every path validation is anchored to.
type Dispatcher struct {
	Container execTarget
	Workspace string
	GitBinary string
	Logger    *observability.Logger
	Metrics   observability.MetricsSink
}

// New builds a Dispatcher. gitBinary is the fixed absolute path to the host
// git executable (e.g. "/usr/bin/git").
func New(mgr *container.Manager, workspace, gitBinary string, logger *observability.Logger, metrics observability.MetricsSink) *Dispatcher {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Dispatcher{Container: mgr, Workspace: workspace, GitBinary: gitBinary, Logger: logger, Metrics: metrics}
}

// Dispatch maps (name, input) to a result string and an is_error flag. It
// is a pure function of its arguments and the dispatcher's fixed
// collaborators — no handler panics past this boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) (result string, isError bool) {
	defer func() {
		if r := recover(); r != nil {
			result, isError = errorResult("tool panicked: %v", r), true
		}
		d.Metrics.ToolInvoked(name, isError)
		d.Logger.Debug(ctx, "tool dispatched", "tool", name, "is_error", isError)
	}()

	switch name {
	case "read_file":
		return d.readFile(ctx, input)
	case "edit_file":
		return d.editFile(ctx, input)
	case "git_operation":
		return d.gitOperation(ctx, input)
	case "grep":
		return d.grep(ctx, input)
	case "bash_command":
		return d.bashCommand(ctx, input)
	case "list_files":
		return d.listFiles(ctx, input)
	default:
		return errorResult("unknown tool %q", name), true
	}
}

func errorResult(format string, args ...any) string {
	return "Error: " + fmt.Sprintf(format, args...)
}
