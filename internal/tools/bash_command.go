package tools

import (
	"context"
	"fmt"

	"github.com/codecage/codecage/internal/validator"
)

func (d *Dispatcher) bashCommand(ctx context.Context, input map[string]any) (string, bool) {
	command, _ := input["command"].(string)
	resolvedBin, err := validator.ResolveCommand(command)
	if err != nil {
		return errorResult("command %q is not allowlisted", command), true
	}

	rawArgs, _ := input["args"].([]any)
	argv := []string{resolvedBin}
	for _, raw := range rawArgs {
		arg, ok := raw.(string)
		if !ok {
			return errorResult("argument %v is not a string", raw), true
		}
		validated, err := validator.ValidateBashArgument(command, arg, d.Workspace)
		if err != nil {
			return errorResult("%v", err), true
		}
		argv = append(argv, validated)
	}

	res, err := d.Container.Exec(ctx, argv, BashTimeout)
	if err != nil {
		return errorResult("running %s: %v", command, err), true
	}

	out := res.Stdout + res.Stderr
	if out == "" {
		return fmt.Sprintf("(exit code: %d)", res.ExitCode), res.ExitCode != 0
	}
	return out, res.ExitCode != 0
}
