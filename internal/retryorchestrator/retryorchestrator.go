// Package retryorchestrator implements the outer loop over session
// attempts: run a fresh session, and on verification failure, loop with a
// message that places the original task first and an error digest second.
package retryorchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codecage/codecage/internal/observability"
	"github.com/codecage/codecage/internal/session"
	"github.com/codecage/codecage/internal/summarize"
)

const (
	minMaxRetries = 1
	maxMaxRetries = 10
)

// Verifier inspects the workspace after a session attempt and reports
// pass/fail with typed error summaries. A panicking verifier is treated as
// a fatal error for that attempt, not propagated to the caller.
type Verifier func(ctx context.Context, workspaceDir string) summarize.VerificationResult

// Config is the input to New, mirroring the RetryConfig data model.
type Config struct {
	MaxRetries int
	Verifier   Verifier
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

func (c Config) validate() error {
	if c.MaxRetries < minMaxRetries || c.MaxRetries > maxMaxRetries {
		return fmt.Errorf("retryorchestrator: max_retries %d out of range [%d, %d]", c.MaxRetries, minMaxRetries, maxMaxRetries)
	}
	return nil
}

// FinalStatus is the terminal outcome of a full retry run.
type FinalStatus string

const (
	FinalSuccess             FinalStatus = "success"
	FinalFailed              FinalStatus = "failed"
	FinalTimeout             FinalStatus = "timeout"
	FinalTurnLimit           FinalStatus = "turn_limit"
	FinalMaxRetriesExhausted FinalStatus = "max_retries_exhausted"
)

// Result is the output of Run, mirroring the RetryResult data model.
type Result struct {
	FinalStatus          FinalStatus
	Attempts             int
	SessionResults       []session.Result
	VerificationResults  []summarize.VerificationResult
	Error                string
}

// SessionHandle is the subset of *session.Supervisor the orchestrator
// depends on, so tests can substitute a fake session without a real
// container or Anthropic client.
type SessionHandle interface {
	Start(ctx context.Context) error
	Run(ctx context.Context, systemPrompt, userMessage string) session.Result
	Stop(ctx context.Context) error
}

// Factory constructs a fresh session for one attempt. The orchestrator
// never reuses a session instance across attempts.
type Factory func(ctx context.Context, attempt int) (SessionHandle, error)

// Orchestrator drives the outer retry loop over fresh session attempts.
type Orchestrator struct {
	cfg          Config
	newSession   Factory
	systemPrompt string
	workspaceDir string
	logger       *observability.Logger
	metrics      observability.MetricsSink

	mu     sync.Mutex
	active SessionHandle
}

// New validates cfg and constructs an Orchestrator. systemPrompt is passed
// through unchanged to every attempt's session; workspaceDir is passed to
// the verifier, if one is configured.
func New(cfg Config, systemPrompt, workspaceDir string, newSession Factory, logger *observability.Logger, metrics observability.MetricsSink) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Orchestrator{cfg: cfg, newSession: newSession, systemPrompt: systemPrompt, workspaceDir: workspaceDir, logger: logger, metrics: metrics}, nil
}

// Run executes the outer loop over up to cfg.MaxRetries fresh session
// attempts for originalTask, returning once an attempt succeeds, a
// session terminates non-success, the verifier panics (status failed), or
// the retry budget is exhausted.
func (o *Orchestrator) Run(ctx context.Context, originalTask string) Result {
	result := Result{}
	var lastFailure *summarize.VerificationResult

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt
		o.metrics.RetryAttempt(fmt.Sprintf("attempt_%d", attempt))
		o.logger.Info(ctx, "retry attempt", "attempt", attempt, "max_retries", o.cfg.MaxRetries)

		message := buildAttemptMessage(originalTask, attempt, lastFailure)

		sess, err := o.newSession(ctx, attempt)
		if err != nil {
			result.FinalStatus = FinalFailed
			result.Error = fmt.Sprintf("retryorchestrator: constructing session for attempt %d: %v", attempt, err)
			return result
		}

		o.setActive(sess)
		sessionResult := o.runOneAttempt(ctx, sess, message)
		o.setActive(nil)

		result.SessionResults = append(result.SessionResults, sessionResult)

		if sessionResult.Status != session.StatusSuccess {
			o.metrics.RetryAttempt(string(sessionResult.Status))
			result.FinalStatus = FinalStatus(sessionResult.Status)
			result.Error = sessionResult.Error
			return result
		}

		if o.cfg.Verifier == nil {
			o.metrics.RetryAttempt(string(FinalSuccess))
			result.FinalStatus = FinalSuccess
			return result
		}

		verification, verifierErr := o.runVerifier(ctx)
		result.VerificationResults = append(result.VerificationResults, verification)

		if verifierErr != nil {
			o.metrics.RetryAttempt(string(FinalFailed))
			result.FinalStatus = FinalFailed
			result.Error = verifierErr.Error()
			return result
		}

		if verification.Passed {
			o.metrics.RetryAttempt(string(FinalSuccess))
			result.FinalStatus = FinalSuccess
			return result
		}

		o.metrics.RetryAttempt("verification_failed")
		lastFailure = &verification
	}

	result.FinalStatus = FinalMaxRetriesExhausted
	result.Error = fmt.Sprintf("Verification still failing after %d attempts", o.cfg.MaxRetries)
	return result
}

// runOneAttempt starts the session, runs it, and always stops it,
// mirroring a finally-equivalent scope.
func (o *Orchestrator) runOneAttempt(ctx context.Context, sess SessionHandle, message string) session.Result {
	defer func() {
		_ = sess.Stop(ctx)
	}()

	if err := sess.Start(ctx); err != nil {
		return session.Result{Status: session.StatusFailed, Error: err.Error()}
	}
	return sess.Run(ctx, o.systemPrompt, message)
}

// runVerifier wraps a crashing verifier's panic as a failing verification
// result plus a non-nil error, rather than letting it escape the
// orchestrator.
func (o *Orchestrator) runVerifier(ctx context.Context) (result summarize.VerificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = summarize.VerificationResult{
				Passed: false,
				Errors: []summarize.VerificationError{{
					Type:    summarize.ErrorCustom,
					Summary: fmt.Sprintf("verifier panicked: %v", r),
				}},
			}
			err = fmt.Errorf("retryorchestrator: verifier panicked: %v", r)
		}
	}()
	return o.cfg.Verifier(ctx, o.workspaceDir), nil
}

// Stop forwards to the currently active session, if any. Safe to call
// concurrently with Run from a signal handler.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Stop(ctx)
}

func (o *Orchestrator) setActive(s SessionHandle) {
	o.mu.Lock()
	o.active = s
	o.mu.Unlock()
}

// buildAttemptMessage constructs the user message for one attempt. Attempt
// 1 is exactly originalTask; later attempts prepend the original task
// before a digest of the last failed verification, per the ordering
// invariant the LLM relies on.
func buildAttemptMessage(originalTask string, attempt int, lastFailure *summarize.VerificationResult) string {
	if attempt == 1 || lastFailure == nil {
		return originalTask
	}

	var b strings.Builder
	b.WriteString(originalTask)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "PREVIOUS ATTEMPT %d FAILED VERIFICATION:\n", attempt-1)
	b.WriteString(summarize.Digest([]summarize.VerificationResult{*lastFailure}))
	b.WriteString("\n---\n")
	b.WriteString("Fix the issues above and complete the original task.")
	return b.String()
}
