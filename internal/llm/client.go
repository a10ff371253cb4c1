// Package llm is the thin wrapper around the Anthropic Messages API that
// the agentic loop driver calls into. It owns client construction and
// transient-error classification; the loop itself (internal/agentloop)
// owns the retry schedule and the tool-use protocol.
package llm

import (
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when a SessionConfig does not override it.
const DefaultModel = "claude-sonnet-4-5"

// Client wraps the generated Anthropic SDK client. It exists so the rest of
// the codebase depends on this package's narrow surface rather than on the
// SDK's much larger one.
type Client struct {
	raw *anthropic.Client
}

// NewClient builds a Client from an API key. Passing additional option.RequestOption
// values lets callers override the base URL in tests.
func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	c := anthropic.NewClient(all...)
	return &Client{raw: &c}
}

// Raw exposes the underlying SDK client for the agent loop to call
// Messages.New directly with its own MessageNewParams.
func (c *Client) Raw() *anthropic.Client { return c.raw }

// ErrorClass distinguishes the transient-error categories the agentic loop
// retries differently.
type ErrorClass int

const (
	// ClassNonRetryable covers everything not explicitly classified below.
	ClassNonRetryable ErrorClass = iota
	// ClassRateLimit is an HTTP 429.
	ClassRateLimit
	// ClassOverloaded is an HTTP 529 ("overloaded_error" in the Anthropic API).
	ClassOverloaded
)

// Classify inspects err for a typed *anthropic.Error and returns its
// retry class by HTTP status code. It never does substring matching on the
// error message, per the typed-error guidance for this port.
func Classify(err error) ErrorClass {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return ClassNonRetryable
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return ClassRateLimit
	case 529:
		return ClassOverloaded
	default:
		return ClassNonRetryable
	}
}
