// Package validator holds the pure, stateless functions that every tool in
// the tool layer routes arguments through before touching the filesystem,
// the host git binary, or the sandbox container: path canonicalization,
// flag allowlisting, and command-name resolution.
package validator

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Shell-safety patterns, used by bare (flag-shaped) argument validation.
var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
)

// ValidationError is returned by every function in this package. It is
// never propagated past the tool layer — the tool layer turns it into an
// "Error: ..." result string for the LLM to see.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidatePath canonicalizes input against workspace and enforces that the
// result stays inside the workspace and does not touch the two denylisted
// subtrees. Checks run in order and short-circuit on the first failure, per
// the validator contract.
func ValidatePath(input, workspace string) (string, error) {
	if strings.ContainsRune(input, '\x00') {
		return "", newValidationError("path contains a null byte")
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", newValidationError("cannot resolve workspace: %v", err)
	}

	var candidate string
	if filepath.IsAbs(input) {
		candidate = filepath.Clean(input)
	} else {
		candidate = filepath.Clean(filepath.Join(absWorkspace, input))
	}

	if candidate != absWorkspace && !strings.HasPrefix(candidate, absWorkspace+string(filepath.Separator)) {
		return "", newValidationError("path %q escapes workspace %q", input, workspace)
	}

	rel, err := filepath.Rel(absWorkspace, candidate)
	if err != nil {
		return "", newValidationError("cannot compute relative path: %v", err)
	}
	rel = filepath.ToSlash(rel)

	if rel == ".git/hooks" || strings.HasPrefix(rel, ".git/hooks/") {
		return "", newValidationError("path %q targets .git/hooks (blocked to prevent hook execution)", input)
	}
	if rel == "node_modules/.bin" || strings.Contains(rel, "node_modules/.bin") {
		return "", newValidationError("path %q targets node_modules/.bin (blocked to prevent script execution)", input)
	}

	return candidate, nil
}

// GitDiffFlags is the fixed allowlist of flags accepted by the git_operation
// diff sub-command.
var GitDiffFlags = map[string]bool{
	"--cached":      true,
	"--staged":      true,
	"--stat":        true,
	"--name-only":   true,
	"--name-status": true,
	"--shortstat":   true,
	"--numstat":     true,
	"--no-color":    true,
}

// GitCommitFlags is the fixed allowlist of flags accepted by the
// git_operation commit sub-command (in addition to the mandatory
// --no-verify prepend, which is not user-suppliable).
var GitCommitFlags = map[string]bool{
	"-m":        true,
	"--message": true,
}

// ValidateFlag rejects any leading-dash argument not present in allowed.
func ValidateFlag(flag string, allowed map[string]bool) error {
	if !allowed[flag] {
		return newValidationError("flag %q is not permitted here", flag)
	}
	return nil
}

// FindDenylist blocks the find primaries that can execute arbitrary
// commands or mutate the filesystem.
var FindDenylist = map[string]bool{
	"-exec":    true,
	"-execdir": true,
	"-delete":  true,
	"-ok":      true,
	"-okdir":   true,
}

// BashCommandAllowlist maps a bash_command tool invocation's command name
// to its fixed absolute path inside the sandbox image. Only these binaries
// are callable via the tool layer.
var BashCommandAllowlist = map[string]string{
	"cat":  "/bin/cat",
	"head": "/usr/bin/head",
	"tail": "/usr/bin/tail",
	"find": "/usr/bin/find",
	"wc":   "/usr/bin/wc",
}

// ErrUnknownCommand is returned by ResolveCommand for a name outside
// BashCommandAllowlist.
var ErrUnknownCommand = errors.New("command is not in the allowlist")

// ResolveCommand maps a bare command name to its fixed absolute path, or
// ErrUnknownCommand if name is not allowlisted.
func ResolveCommand(name string) (string, error) {
	path, ok := BashCommandAllowlist[name]
	if !ok {
		return "", ErrUnknownCommand
	}
	return path, nil
}

// ValidateBashArgument checks one bash_command argument: if it looks like a
// flag (leading dash) it is checked against the find denylist when the
// owning command is find; otherwise it is validated as a workspace path.
func ValidateBashArgument(command, arg, workspace string) (string, error) {
	if strings.HasPrefix(arg, "-") {
		if command == "find" && FindDenylist[arg] {
			return "", newValidationError("find primary %q is not permitted", arg)
		}
		if err := validateBareArgumentSafety(arg); err != nil {
			return "", err
		}
		return arg, nil
	}
	return ValidatePath(arg, workspace)
}

// validateBareArgumentSafety rejects null bytes, control characters, shell
// metacharacters, and quote characters in a flag-shaped argument. Command
// names are not checked here; ResolveCommand accepts only allowlisted names.
func validateBareArgumentSafety(arg string) error {
	if strings.Contains(arg, "\x00") {
		return newValidationError("argument contains a null byte")
	}
	if controlChars.MatchString(arg) {
		return newValidationError("argument contains control characters")
	}
	if shellMetachars.MatchString(arg) {
		return newValidationError("argument contains shell metacharacters")
	}
	if quoteChars.MatchString(arg) {
		return newValidationError("argument contains quote characters")
	}
	return nil
}
