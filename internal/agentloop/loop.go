// Package agentloop drives the LLM's tool-use protocol: send the message
// list, inspect the stop reason, execute tool_use blocks sequentially, send
// tool_result blocks back, and repeat until end_turn or a terminal error.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/codecage/codecage/internal/backoff"
	"github.com/codecage/codecage/internal/llm"
	"github.com/codecage/codecage/internal/observability"
)

// MaxTokens is the fixed per-request token budget every message send uses.
const MaxTokens = 4096

// sendRetryAttempts is how many requests sendMessage makes in total
// (the first try plus retries) for transient errors before giving up.
const sendRetryAttempts = 3

// overloadDelay is the fixed backoff applied to overload (529) signals. A
// var, not a const, so tests can shrink it to avoid sleeping for real.
var overloadDelay = 5000 * time.Millisecond

// rateLimitPolicy implements min(1000 * 2^attempt, 10000) ms with no
// jitter, matching the exact schedule the design notes specify. attempt
// is 0-indexed at the call site, so it is offset by one to match
// BackoffPolicy's 1-indexed attempt convention.
var rateLimitPolicy = backoff.BackoffPolicy{
	InitialMs: 1000,
	MaxMs:     10000,
	Factor:    2,
	Jitter:    0,
}

// TurnLimitError is raised when the loop exceeds its configured
// max_iterations. It is a distinct type, not a string-matched sentinel, so
// the session supervisor can classify it with errors.As.
type TurnLimitError struct {
	MaxIterations int
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("exceeded turn limit of %d", e.MaxIterations)
}

// ToolExecutor runs one tool_use block and returns its result string plus
// an is_error flag, matching the tool dispatcher's contract.
type ToolExecutor func(ctx context.Context, name string, input map[string]any) (result string, isError bool)

// Driver runs the agentic loop against a single Anthropic client.
type Driver struct {
	Client  *llm.Client
	Model   string
	Tools   []anthropic.ToolUnionParam
	Logger  *observability.Logger
	Metrics observability.MetricsSink
}

// New builds a Driver. tools is the SDK-shaped tool schema converted once
// from the tool layer's static Specs table.
func New(client *llm.Client, model string, tools []anthropic.ToolUnionParam, logger *observability.Logger, metrics observability.MetricsSink) *Driver {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if model == "" {
		model = llm.DefaultModel
	}
	return &Driver{Client: client, Model: model, Tools: tools, Logger: logger, Metrics: metrics}
}

// Run drives the loop until end_turn, a turn-limit, or a fatal error.
// maxIterations is the session's turn budget (the session supervisor's
// turn_limit). exec is invoked for every tool_use block the model emits,
// sequentially and in emission order within a turn.
func (d *Driver) Run(ctx context.Context, systemPrompt, userMessage string, maxIterations int, exec ToolExecutor) (string, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
	}

	for iteration := 0; ; iteration++ {
		if iteration >= maxIterations {
			return "", &TurnLimitError{MaxIterations: maxIterations}
		}

		message, err := d.sendMessage(ctx, systemPrompt, messages)
		if err != nil {
			return "", fmt.Errorf("agentloop: send message: %w", err)
		}

		messages = append(messages, message.ToParam())

		switch message.StopReason {
		case anthropic.StopReasonEndTurn:
			return collectText(message), nil

		case anthropic.StopReasonToolUse:
			results := d.executeToolUseBlocks(ctx, message, exec)
			messages = append(messages, anthropic.NewUserMessage(results...))
			continue

		case anthropic.StopReasonMaxTokens:
			return "", fmt.Errorf("agentloop: reached max_tokens before completing the task")

		default:
			return "", fmt.Errorf("agentloop: unexpected stop reason %q", message.StopReason)
		}
	}
}

// executeToolUseBlocks runs every tool_use content block sequentially, in
// the order the model emitted them, and wraps each result as a tool_result
// block keyed by the tool_use id.
func (d *Driver) executeToolUseBlocks(ctx context.Context, message *anthropic.Message, exec ToolExecutor) []anthropic.ContentBlockParamUnion {
	var results []anthropic.ContentBlockParamUnion
	for _, block := range message.Content {
		use, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var input map[string]any
		if err := json.Unmarshal([]byte(use.Input), &input); err != nil {
			results = append(results, anthropic.NewToolResultBlock(use.ID, fmt.Sprintf("Error: malformed tool input: %v", err), true))
			continue
		}
		result, isError := exec(ctx, use.Name, input)
		results = append(results, anthropic.NewToolResultBlock(use.ID, result, isError))
	}
	return results
}

// sendMessage performs one request/response round trip, retrying transient
// rate-limit and overload signals with the backoff schedule the design
// notes specify. It is not visible to Run's callers as a separate step.
func (d *Driver) sendMessage(ctx context.Context, systemPrompt string, messages []anthropic.MessageParam) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt < sendRetryAttempts; attempt++ {
		message, err := d.Client.Raw().Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(d.Model),
			MaxTokens: MaxTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     d.Tools,
		})
		if err == nil {
			return message, nil
		}
		lastErr = err

		switch llm.Classify(err) {
		case llm.ClassRateLimit:
			delay := rateLimitDelay(attempt)
			d.Logger.Debug(ctx, "retrying after rate limit", "attempt", attempt, "delay_ms", delay.Milliseconds())
			if !sleep(ctx, delay) {
				return nil, ctx.Err()
			}
		case llm.ClassOverloaded:
			d.Logger.Debug(ctx, "retrying after overload", "attempt", attempt, "delay_ms", overloadDelay.Milliseconds())
			if !sleep(ctx, overloadDelay) {
				return nil, ctx.Err()
			}
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// rateLimitDelay implements min(1000 * 2^attempt, 10000) ms via the shared
// backoff policy, with deterministic (zero) jitter.
func rateLimitDelay(attempt int) time.Duration {
	return backoff.ComputeBackoffWithRand(rateLimitPolicy, attempt+1, 0)
}

// sleep waits out d or returns false early if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	return backoff.SleepWithContext(ctx, d) == nil
}

func collectText(message *anthropic.Message) string {
	var text string
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}
