package tools

import (
	"context"
	"fmt"

	"github.com/codecage/codecage/internal/validator"
)

func (d *Dispatcher) listFiles(ctx context.Context, input map[string]any) (string, bool) {
	path, ok := input["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	resolved, err := validator.ValidatePath(path, d.Workspace)
	if err != nil {
		return errorResult("%v", err), true
	}

	res, err := d.Container.Exec(ctx, []string{"/bin/ls", "-la", resolved}, 0)
	if err != nil {
		return errorResult("listing files: %v", err), true
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("Error listing files: %s", res.Stderr), true
	}
	return res.Stdout, false
}
