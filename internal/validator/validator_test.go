package validator

import (
	"strings"
	"testing"
)

func TestValidatePathAcceptsWorkspaceRoot(t *testing.T) {
	got, err := ValidatePath(".", "/workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/workspace" {
		t.Fatalf("expected /workspace, got %q", got)
	}
}

func TestValidatePathAcceptsNestedFile(t *testing.T) {
	got, err := ValidatePath("src/main.go", "/workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/workspace/src/main.go" {
		t.Fatalf("unexpected path: %q", got)
	}
}

func TestValidatePathRejectsEscape(t *testing.T) {
	if _, err := ValidatePath("../etc/passwd", "/workspace"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestValidatePathRejectsDeepEscape(t *testing.T) {
	if _, err := ValidatePath("a/b/../../../etc/passwd", "/workspace"); err == nil {
		t.Fatal("expected deep escape to be rejected")
	}
}

func TestValidatePathRejectsNullByte(t *testing.T) {
	if _, err := ValidatePath("foo\x00bar", "/workspace"); err == nil {
		t.Fatal("expected null byte to be rejected")
	}
}

func TestValidatePathRejectsGitHooks(t *testing.T) {
	if _, err := ValidatePath(".git/hooks/pre-commit", "/workspace"); err == nil {
		t.Fatal("expected .git/hooks path to be rejected")
	}
}

func TestValidatePathRejectsNodeModulesBin(t *testing.T) {
	if _, err := ValidatePath("node_modules/.bin/eslint", "/workspace"); err == nil {
		t.Fatal("expected node_modules/.bin path to be rejected")
	}
	if _, err := ValidatePath("packages/a/node_modules/.bin/tsc", "/workspace"); err == nil {
		t.Fatal("expected nested node_modules/.bin path to be rejected")
	}
}

func TestValidatePathPropertyNoEscapeSucceeds(t *testing.T) {
	inputs := []string{
		"..", "../../etc", "a/../../b", "./././../x",
		"\x00", ".git/hooks/x", "a/node_modules/.bin/y",
	}
	for _, in := range inputs {
		got, err := ValidatePath(in, "/workspace")
		if err == nil && !strings.HasPrefix(got, "/workspace") {
			t.Fatalf("input %q produced out-of-workspace path %q with no error", in, got)
		}
	}
}

func TestValidateFlagGitDiff(t *testing.T) {
	if err := ValidateFlag("--cached", GitDiffFlags); err != nil {
		t.Fatalf("expected --cached to be allowed: %v", err)
	}
	if err := ValidateFlag("--force", GitDiffFlags); err == nil {
		t.Fatal("expected --force to be rejected")
	}
}

func TestResolveCommandAllowlist(t *testing.T) {
	path, err := ResolveCommand("cat")
	if err != nil || path != "/bin/cat" {
		t.Fatalf("expected /bin/cat, got %q err=%v", path, err)
	}
	if _, err := ResolveCommand("rm"); err != ErrUnknownCommand {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestValidateBashArgumentBlocksFindExec(t *testing.T) {
	if _, err := ValidateBashArgument("find", "-exec", "/workspace"); err == nil {
		t.Fatal("expected -exec to be rejected for find")
	}
	if _, err := ValidateBashArgument("find", "-delete", "/workspace"); err == nil {
		t.Fatal("expected -delete to be rejected for find")
	}
}

func TestValidateBashArgumentAllowsOtherFlagsForNonFind(t *testing.T) {
	if _, err := ValidateBashArgument("wc", "-l", "/workspace"); err != nil {
		t.Fatalf("expected -l to be allowed for wc: %v", err)
	}
}

func TestValidateBashArgumentValidatesPaths(t *testing.T) {
	got, err := ValidateBashArgument("cat", "README.md", "/workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/workspace/README.md" {
		t.Fatalf("unexpected path: %q", got)
	}
}
