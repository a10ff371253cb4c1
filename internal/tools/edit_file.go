package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/codecage/codecage/internal/validator"
)

const editFileMode = 0o644

func (d *Dispatcher) editFile(ctx context.Context, input map[string]any) (string, bool) {
	command, _ := input["command"].(string)
	path, _ := input["path"].(string)

	resolved, err := validator.ValidatePath(path, d.Workspace)
	if err != nil {
		return errorResult("%v", err), true
	}

	switch command {
	case "str_replace":
		oldStr, _ := input["old_str"].(string)
		newStr, _ := input["new_str"].(string)
		return d.strReplace(ctx, resolved, oldStr, newStr)
	case "create":
		content, _ := input["content"].(string)
		return d.createFile(resolved, content)
	default:
		return errorResult("unsupported edit_file command %q", command), true
	}
}

func (d *Dispatcher) strReplace(ctx context.Context, path, oldStr, newStr string) (string, bool) {
	res, err := d.Container.Exec(ctx, []string{"/bin/cat", path}, 0)
	if err != nil {
		return errorResult("reading file: %v", err), true
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("Error reading file: %s", res.Stderr), true
	}
	content := res.Stdout

	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return errorResult("no occurrences of the given old_str were found in %s", path), true
	case count > 1:
		lines := matchLineNumbers(content, oldStr)
		numbers := make([]string, len(lines))
		for i, n := range lines {
			numbers[i] = strconv.Itoa(n)
		}
		return errorResult("old_str found %d times in %s (lines %s); add more context to make it unique", count, path, strings.Join(numbers, ", ")), true
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := atomicWrite(path, []byte(updated)); err != nil {
		return errorResult("writing file: %v", err), true
	}
	return fmt.Sprintf("Replaced 1 occurrence in %s", path), false
}

func (d *Dispatcher) createFile(path, content string) (string, bool) {
	if _, err := os.Stat(path); err == nil {
		return errorResult("%s already exists", path), true
	} else if !os.IsNotExist(err) {
		return errorResult("checking %s: %v", path, err), true
	}

	if err := atomicWrite(path, []byte(content)); err != nil {
		return errorResult("writing file: %v", err), true
	}
	return fmt.Sprintf("Created %s", path), false
}

// matchLineNumbers returns the 1-based line number of every non-overlapping
// occurrence of substr in content, using full-string indexing so matches
// spanning line boundaries are still found.
func matchLineNumbers(content, substr string) []int {
	var lines []int
	offset := 0
	for {
		idx := strings.Index(content[offset:], substr)
		if idx < 0 {
			break
		}
		absolute := offset + idx
		lines = append(lines, 1+strings.Count(content[:absolute], "\n"))
		offset = absolute + len(substr)
	}
	return lines
}

// atomicWrite writes data to a temp file on the same filesystem as path,
// then renames it into place, so no reader ever observes a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".codecage-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, editFileMode); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
