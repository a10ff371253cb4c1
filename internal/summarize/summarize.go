// Package summarize extracts bounded, human-readable digests from raw
// build/test/lint output and from verification results, so a failed
// attempt's error context can be re-injected into the next LLM turn
// without blowing the context budget.
package summarize

import (
	"fmt"
	"regexp"
	"strings"
)

// DigestCharCap is the hard ceiling on the digest body Digest keeps; when
// the body is cut, the truncation suffix is appended after these characters.
const DigestCharCap = 2000

const truncationSuffix = "\n...(truncated, showing first 2000 chars)"

const maxExtractedLines = 5

// VerificationErrorType classifies one verifier-reported error.
type VerificationErrorType string

const (
	ErrorBuild  VerificationErrorType = "build"
	ErrorTest   VerificationErrorType = "test"
	ErrorLint   VerificationErrorType = "lint"
	ErrorCustom VerificationErrorType = "custom"
)

// VerificationError is one typed, summarized failure reported by a
// verifier callback.
type VerificationError struct {
	Type    VerificationErrorType
	Summary string
}

// VerificationResult is a verifier's full report for one attempt.
type VerificationResult struct {
	Passed     bool
	Errors     []VerificationError
	DurationMs int64
}

var tsBuildErrorPattern = regexp.MustCompile(`(?m)^.+\(\d+,\d+\): error TS\d+:.+$`)

var testBulletPattern = regexp.MustCompile(`(?m)^.*[●✕✗].+$`)
var testsSummaryPattern = regexp.MustCompile(`(?m)^Tests:.*failed.*$`)
var testsFailingCountPattern = regexp.MustCompile(`(?m)^\d+ failing\s*$`)

var lintLinePattern = regexp.MustCompile(`(?m)^[ \t]*(?:(\S+?):)?(\d+):(\d+)\s+error\s+(\S+)\s+(.+)$`)

// BuildDigest extracts TypeScript-style `path(line,col): error TSxxxx: msg`
// lines from raw build output, falling back to any line containing the
// word "error" when nothing matches that shape.
func BuildDigest(output string) string {
	lines := tsBuildErrorPattern.FindAllString(output, -1)
	if len(lines) == 0 {
		lines = grepLines(output, "error")
	}
	if len(lines) == 0 {
		return "Build failed (no specific error lines could be extracted from the output)"
	}
	return fmt.Sprintf("%d build error(s):\n%s", len(lines), truncateLines(lines, maxExtractedLines, "errors"))
}

// TestDigest extracts Jest-style bullet failure lines (marked by ●, ✕, or
// ✗), plus the first "Tests: ... failed ..." summary line and any "N
// failing" count, and truncates the bullet list to 5.
func TestDigest(output string) string {
	bullets := testBulletPattern.FindAllString(output, -1)
	if len(bullets) == 0 {
		return "Tests failed (no specific failure lines could be extracted from the output)"
	}

	var b strings.Builder
	if summary := testsSummaryPattern.FindString(output); summary != "" {
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n")
	}
	if count := testsFailingCountPattern.FindString(output); count != "" {
		b.WriteString(strings.TrimSpace(count))
		b.WriteString("\n")
	}
	b.WriteString(truncateLines(bullets, maxExtractedLines, "test failures"))
	return b.String()
}

// LintDigest extracts `L:C error rule description` lines (optionally
// prefixed by `path:`), counts the distinct source files named by such a
// prefix, and truncates the list to 5. Lines without a path prefix count
// toward no file.
func LintDigest(output string) string {
	matches := lintLinePattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return "Lint failed (no specific error lines could be extracted from the output)"
	}

	files := make(map[string]struct{}, len(matches))
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			files[m[1]] = struct{}{}
		}
		lines = append(lines, m[0])
	}

	header := fmt.Sprintf("%d lint error(s) across %d file(s):\n", len(lines), len(files))
	return header + truncateLines(lines, maxExtractedLines, "more")
}

// Digest builds the overall retry-message digest from a batch of
// verification results: one `[TYPE] summary` line per error in every
// failing result, joined by blank lines, hard-capped at DigestCharCap
// characters.
func Digest(results []VerificationResult) string {
	var lines []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		for _, e := range r.Errors {
			lines = append(lines, fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Type)), e.Summary))
		}
	}
	if len(lines) == 0 {
		return "(no specific errors extracted from verification results)"
	}

	digest := strings.Join(lines, "\n\n")
	if len(digest) > DigestCharCap {
		digest = digest[:DigestCharCap] + truncationSuffix
	}
	return digest
}

func grepLines(output, word string) []string {
	var matched []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), word) {
			matched = append(matched, line)
		}
	}
	return matched
}

func truncateLines(lines []string, max int, noun string) string {
	if len(lines) <= max {
		return strings.Join(lines, "\n")
	}
	shown := strings.Join(lines[:max], "\n")
	return fmt.Sprintf("%s\n(+ %d more %s)", shown, len(lines)-max, noun)
}
