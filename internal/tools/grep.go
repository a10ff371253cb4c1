package tools

import (
	"context"
	"fmt"

	"github.com/codecage/codecage/internal/validator"
)

func (d *Dispatcher) grep(ctx context.Context, input map[string]any) (string, bool) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return errorResult("pattern is required"), true
	}

	path, ok := input["path"].(string)
	if !ok || path == "" {
		path = d.Workspace
	}
	resolved, err := validator.ValidatePath(path, d.Workspace)
	if err != nil {
		return errorResult("%v", err), true
	}

	argv := []string{"/usr/bin/rg", "--color", "never", "--no-heading", "--with-filename", "--line-number"}
	if caseInsensitive, _ := input["case_insensitive"].(bool); caseInsensitive {
		argv = append(argv, "-i")
	}
	if ctxLines, ok := asInt(input["context_lines"]); ok {
		if ctxLines > 50 {
			ctxLines = 50
		}
		if ctxLines > 0 {
			argv = append(argv, "-C", fmt.Sprintf("%d", ctxLines))
		}
	}
	argv = append(argv, "--", pattern, resolved)

	res, err := d.Container.Exec(ctx, argv, 0)
	if err != nil {
		return errorResult("running grep: %v", err), true
	}

	switch res.ExitCode {
	case 0:
		return res.Stdout, false
	case 1:
		return "(no matches found)", false
	default:
		return fmt.Sprintf("Error: %s", res.Stderr), true
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
