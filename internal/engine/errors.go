// Package engine runs coaching turns: it selects context, builds cache-aware
// prompts from the session log, calls the model, and dispatches tool calls.
package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDanglingToolCall means the log ends with a tool_call that has no result.
	ErrDanglingToolCall = errors.New("dangling tool call")
	// ErrNoToolCall means the model answered without invoking a tool.
	ErrNoToolCall = errors.New("model returned no tool call")
	// ErrSessionForbidden means the session belongs to another user.
	ErrSessionForbidden = errors.New("session belongs to another user")
	// ErrEmptyMessage rejects a turn without user text.
	ErrEmptyMessage = errors.New("empty user message")
)

// RetryClass says whether a failed model call is worth repeating.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe" // a couple of guarded attempts
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// ProviderError is a model provider failure annotated with the HTTP status
// and Retry-After hint the provider SDK exposed.
type ProviderError struct {
	Err        error
	Status     int // 0 when the request never got a response
	RetryAfter string
	Class      RetryClass
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

func (e *ProviderError) AuthFailed() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// WrapLLMError annotates a provider error. The status decides the retry
// class; without one the message text does.
func WrapLLMError(err error, status int, retryAfter string) error {
	if err == nil {
		return nil
	}
	class := ClassifyLLMError(err)
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		class = RetryClassRetryable
	case status == http.StatusRequestTimeout:
		class = RetryClassMaybe
	case status >= 400:
		class = RetryClassNonRetryable
	}
	return &ProviderError{Err: err, Status: status, RetryAfter: retryAfter, Class: class}
}

// errorRules is checked in order against the lowercased error text. The
// deadline rule sits before the generic network rule so that a model which
// keeps timing out only gets guarded retries.
var errorRules = []struct {
	class   RetryClass
	needles []string
}{
	{RetryClassNonRetryable, []string{"context canceled"}},
	{RetryClassRetryable, []string{"429", "rate limit", "too many requests", "overloaded"}},
	{RetryClassRetryable, []string{"500", "502", "503", "504", "529",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout"}},
	{RetryClassMaybe, []string{"deadline exceeded"}},
	{RetryClassRetryable, []string{"timeout", "connection reset", "connection refused",
		"no such host", "network", "dns", "temporary failure", "eof"}},
}

// ClassifyLLMError picks the retry class of a model call failure. Anything
// unrecognised, including auth and quota failures, is final.
func ClassifyLLMError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class
	}
	msg := strings.ToLower(err.Error())
	for _, r := range errorRules {
		for _, n := range r.needles {
			if strings.Contains(msg, n) {
				return r.class
			}
		}
	}
	return RetryClassNonRetryable
}

// ExtractRetryAfter reads the provider's Retry-After hint, in seconds or as
// an HTTP date, falling back to "retry after N" in the error text. Zero
// means no usable hint.
func ExtractRetryAfter(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter != "" {
		if secs, convErr := strconv.Atoi(strings.TrimSpace(perr.RetryAfter)); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		if at, parseErr := http.ParseTime(perr.RetryAfter); parseErr == nil {
			return max(time.Until(at), 0)
		}
	}

	msg := strings.ToLower(err.Error())
	if i := strings.Index(msg, "retry after "); i >= 0 {
		var secs int
		if _, scanErr := fmt.Sscanf(msg[i:], "retry after %d", &secs); scanErr == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

func NewRetryExhaustedError(err error, attempts, maxAttempts int, isGuarded bool) *RetryExhaustedError {
	return &RetryExhaustedError{
		Err:         err,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		IsGuarded:   isGuarded,
	}
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// ToolValidationError indicates an unknown tool or arguments that failed
// JSON schema validation.
type ToolValidationError struct {
	ToolName string
	Unknown  bool
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown tool %q", e.ToolName)
	}
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// ToolExecutionError wraps a failure raised by a tool while running,
// including recovered panics.
type ToolExecutionError struct {
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ToolTimeoutError is returned when a tool exceeds its execution timeout.
type ToolTimeoutError struct {
	ToolName string
	Timeout  time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.ToolName, e.Timeout)
}

// TransportError ends a turn: the model call failed, timed out, or returned
// no usable tool call.
type TransportError struct {
	Model string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataSourceError records a knowledge fetch that was skipped this turn.
type DataSourceError struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %v", e.Source, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// LoopBoundError reports that a turn hit the iteration cap without a
// terminal tool call.
type LoopBoundError struct {
	MaxIterations int
	LastTool      string
}

func (e *LoopBoundError) Error() string {
	return fmt.Sprintf("turn inconclusive: no terminal tool after %d iterations (last tool %q)", e.MaxIterations, e.LastTool)
}

// ProtocolError marks an event log or state transition that breaks the
// tool_call/tool_result protocol.
type ProtocolError struct {
	Sequence int64
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("protocol error at event %d: %v", e.Sequence, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
