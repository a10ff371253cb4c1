// Package observability provides the structured logger and metrics sink the
// orchestrator core consumes. Both are injected collaborators: the core only
// depends on the Logger and MetricsSink shapes, never on slog or Prometheus
// directly outside this package.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with bound-field child loggers and
// redaction of sensitive data before it ever reaches the sink.
//
// Usage:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	logger.Info(ctx, "session created", "session_id", id)
//	child := logger.With(observability.LoggerFields{SessionID: id, Attempt: 1})
//	child.Info(ctx, "session started")
//
// A nil *Logger is valid and silently discards every call, so components can
// hold an unset Logger field in tests without guarding every call site.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data
	// redaction, layered on top of DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// SessionIDKey is the context key for the active session id.
	SessionIDKey ContextKey = "session_id"

	// AttemptKey is the context key for the retry-orchestrator attempt number.
	AttemptKey ContextKey = "attempt"

	// ContainerIDKey is the context key for the owning container id.
	ContainerIDKey ContextKey = "container_id"
)

// DefaultRedactPatterns covers the key set the logger contract requires:
// apiKey, token, password, secret, authorization, credentials,
// ANTHROPIC_API_KEY, and nested / config.anthropicApiKey variants.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey|anthropic_api_key|anthropicapikey)[\s:="]+['"]?([a-zA-Z0-9_\-]{8,})['"]?`,
	`(?i)(authorization|bearer|token)[\s:="]+['"]?([a-zA-Z0-9_\-\.]{8,})['"]?`,
	`(?i)(secret|password|passwd|pwd|credentials?)[\s:="]+['"]?([^\s"']{4,})['"]?`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
}

// sensitiveKeys is consulted when redacting structured (map) values, so a
// key match redacts regardless of the value's shape.
var sensitiveKeys = map[string]bool{
	"apikey":               true,
	"api_key":              true,
	"anthropicapikey":      true,
	"anthropic_api_key":    true,
	"token":                true,
	"password":             true,
	"secret":               true,
	"authorization":        true,
	"credentials":          true,
	"config.anthropicapikey": true,
}

// NewLogger creates a structured logger. If config.Output is nil, logs go to
// os.Stdout. If config.Level is empty or invalid, it defaults to "info".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
}

// LoggerFields carries the fields a child logger binds to every subsequent
// record, so With and WithContext are typed against a struct instead of a
// map[string]any (or a raw variadic key/value list) at call sites. A zero
// field means "not bound" — session, attempt, and container ids are never
// legitimately empty or zero once assigned.
type LoggerFields struct {
	SessionID   string
	Attempt     int
	ContainerID string
}

func (f LoggerFields) args() []any {
	var args []any
	if f.SessionID != "" {
		args = append(args, "session_id", f.SessionID)
	}
	if f.Attempt != 0 {
		args = append(args, "attempt", f.Attempt)
	}
	if f.ContainerID != "" {
		args = append(args, "container_id", f.ContainerID)
	}
	return args
}

// With returns a child logger with fields bound to every subsequent record,
// matching the "child logger with bound fields" logger contract.
func (l *Logger) With(fields LoggerFields) *Logger {
	if l == nil {
		return nil
	}
	args := fields.args()
	if len(args) == 0 {
		return l
	}
	return &Logger{
		logger:  l.logger.With(l.redactArgs(args)...),
		config:  l.config,
		redacts: l.redacts,
	}
}

// WithContext extracts session_id, attempt, and container_id from ctx (when
// present) and binds them to a child logger.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if l == nil {
		return nil
	}
	var fields LoggerFields
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		fields.SessionID = v
	}
	if v, ok := ctx.Value(AttemptKey).(int); ok {
		fields.Attempt = v
	}
	if v, ok := ctx.Value(ContainerIDKey).(string); ok {
		fields.ContainerID = v
	}
	return l.With(fields)
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	l.logger.Log(ctx, level, msg, l.redactArgs(args)...)
}

func (l *Logger) redactArgs(args []any) []any {
	redacted := make([]any, len(args))
	for i := 0; i < len(args); i++ {
		redacted[i] = args[i]
		// Redact the value half of a key/value pair when the key is sensitive.
		if i%2 == 0 && i+1 < len(args) {
			if key, ok := args[i].(string); ok && sensitiveKeys[strings.ToLower(key)] {
				redacted[i+1] = "[REDACTED]"
				i++
				redacted[i] = args[i]
				continue
			}
		}
		redacted[i] = l.redactValue(args[i])
	}
	return redacted
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// LogLevelFromString converts a string to a slog.Level, defaulting to Info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSessionID adds a session id to ctx for WithContext to pick up.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithAttempt adds a retry attempt number to ctx for WithContext to pick up.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, AttemptKey, attempt)
}

// WithContainerID adds a container id to ctx for WithContext to pick up.
func WithContainerID(ctx context.Context, containerID string) context.Context {
	return context.WithValue(ctx, ContainerIDKey, containerID)
}
