package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass buckets a failed sandbox call.
type ErrorClass string

const (
	ClassTimeout     ErrorClass = "timeout"
	ClassRefused     ErrorClass = "connection_refused"
	ClassUnreachable ErrorClass = "network_unreachable"
	ClassRuntime     ErrorClass = "runtime_unavailable"
	ClassUnknown     ErrorClass = "unknown"
)

// CallError is a classified sandbox failure. Retryable classes are worth
// a fresh container and another attempt; the rest surface immediately.
type CallError struct {
	Tool       string
	Class      ErrorClass
	Retryable  bool
	Suggestion string
	Err        error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("sandbox %s: %s (%s)", e.Tool, e.Err, e.Class)
	if e.Suggestion != "" {
		msg += ". " + e.Suggestion
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// classify buckets err by its text. The sandbox transport hands back
// opaque process errors, so text matching is all there is; structured
// errors (RuntimeError) are recognized first.
func classify(tool string, err error) *CallError {
	var runtimeErr *RuntimeError
	if errors.As(err, &runtimeErr) {
		return &CallError{
			Tool:       tool,
			Class:      ClassRuntime,
			Retryable:  false,
			Suggestion: runtimeErr.Guidance,
			Err:        err,
		}
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "context deadline exceeded"),
		strings.Contains(text, "timed out"),
		strings.Contains(text, "timeout"):
		return &CallError{
			Tool:       tool,
			Class:      ClassTimeout,
			Retryable:  true,
			Suggestion: "The tool may be slow against this target; the call will be retried with a fresh container.",
			Err:        err,
		}
	case strings.Contains(text, "connection reset"),
		strings.Contains(text, "broken pipe"),
		strings.Contains(text, "network is unreachable"),
		strings.Contains(text, "no route to host"):
		return &CallError{
			Tool:       tool,
			Class:      ClassUnreachable,
			Retryable:  true,
			Suggestion: "The sandbox connection dropped; check VPN/tunnel service containers if the target sits behind one.",
			Err:        err,
		}
	case strings.Contains(text, "connection refused"):
		return &CallError{
			Tool:       tool,
			Class:      ClassRefused,
			Retryable:  false,
			Suggestion: "Nothing is listening where the sandbox expected; verify the tool image's entrypoint serves MCP on stdio.",
			Err:        err,
		}
	default:
		return &CallError{
			Tool:      tool,
			Class:     ClassUnknown,
			Retryable: false,
			Err:       err,
		}
	}
}
