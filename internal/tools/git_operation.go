package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/codecage/codecage/internal/validator"
)

// gitOperation executes a restricted git operation on the host — not
// inside the container — so it can write to .git/, which the container's
// read-only, differently-UID'd view can't touch.
func (d *Dispatcher) gitOperation(ctx context.Context, input map[string]any) (string, bool) {
	operation, _ := input["operation"].(string)
	rawArgs, _ := input["args"].([]any)
	args := make([]string, 0, len(rawArgs))
	for _, raw := range rawArgs {
		s, ok := raw.(string)
		if !ok {
			return errorResult("argument %v is not a string", raw), true
		}
		args = append(args, s)
	}

	var argv []string
	switch operation {
	case "status":
		argv = []string{"-C", d.Workspace, "status", "--porcelain"}

	case "diff":
		built, err := d.buildGitDiffArgs(args)
		if err != nil {
			return errorResult("%v", err), true
		}
		argv = append([]string{"-C", d.Workspace, "diff"}, built...)

	case "add":
		if len(args) == 0 {
			return errorResult("git add requires at least one path"), true
		}
		built, err := d.validateGitPaths(args)
		if err != nil {
			return errorResult("%v", err), true
		}
		argv = append([]string{"-C", d.Workspace, "add"}, built...)

	case "commit":
		built, err := d.buildGitCommitArgs(args)
		if err != nil {
			return errorResult("%v", err), true
		}
		// --no-verify is always prepended — non-negotiable, prevents
		// arbitrary code execution via git hooks.
		argv = append([]string{"-C", d.Workspace, "commit", "--no-verify"}, built...)

	default:
		return errorResult("unsupported git operation %q", operation), true
	}

	return d.runGit(ctx, argv)
}

func (d *Dispatcher) buildGitDiffArgs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if len(arg) > 0 && arg[0] == '-' {
			if err := validator.ValidateFlag(arg, validator.GitDiffFlags); err != nil {
				return nil, err
			}
			out = append(out, arg)
			continue
		}
		resolved, err := validator.ValidatePath(arg, d.Workspace)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (d *Dispatcher) validateGitPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		resolved, err := validator.ValidatePath(arg, d.Workspace)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (d *Dispatcher) buildGitCommitArgs(args []string) ([]string, error) {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			if err := validator.ValidateFlag(arg, validator.GitCommitFlags); err != nil {
				return nil, err
			}
			out = append(out, arg)
			if arg == "-m" || arg == "--message" {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("flag %q requires a message argument", arg)
				}
				i++
				out = append(out, args[i])
			}
			continue
		}
		resolved, err := validator.ValidatePath(arg, d.Workspace)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (d *Dispatcher) runGit(ctx context.Context, argv []string) (string, bool) {
	ctx, cancel := withGitTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.GitBinary, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if stderr.Len() > 0 {
			return fmt.Sprintf("Error: %s", stderr.String()), true
		}
		return errorResult("git command failed: %v", err), true
	}
	return stdout.String(), false
}
