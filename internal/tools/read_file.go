package tools

import (
	"context"
	"fmt"

	"github.com/codecage/codecage/internal/validator"
)

func (d *Dispatcher) readFile(ctx context.Context, input map[string]any) (string, bool) {
	path, _ := input["path"].(string)
	resolved, err := validator.ValidatePath(path, d.Workspace)
	if err != nil {
		return errorResult("%v", err), true
	}

	res, err := d.Container.Exec(ctx, []string{"/bin/cat", resolved}, 0)
	if err != nil {
		return errorResult("reading file: %v", err), true
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("Error reading file: %s", res.Stderr), true
	}
	return res.Stdout, false
}
