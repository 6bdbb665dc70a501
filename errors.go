package saturn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrConfig reports a missing or invalid configuration value. Fatal at
// startup; never produced on the request hot path.
type ErrConfig struct {
	Message string
}

func (e *ErrConfig) Error() string { return "config: " + e.Message }

// ErrValidation reports a rejected tool argument or other bad input. The tool
// runtime converts it into a failed ToolResult; it never aborts the loop.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrProvider is an HTTP >=400 response whose body carried a parseable
// provider error envelope ({"error":{"code","message","metadata"}}).
type ErrProvider struct {
	Status   int
	Code     string
	Message  string
	Provider string
	Snippet  string // raw payload, truncated to <=2KiB
}

func (e *ErrProvider) Error() string {
	return fmt.Sprintf("%s: status %d code %s: %s", e.Provider, e.Status, e.Code, e.Message)
}

// ErrHTTP is an HTTP >=400 response without a parseable envelope. RetryAfter
// is populated from the Retry-After header when present, for retry middleware.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrProtocol reports malformed SSE, an unexpected response schema, or an
// exhausted tool-call round budget.
type ErrProtocol struct {
	Detail string
}

func (e *ErrProtocol) Error() string { return "protocol: " + e.Detail }

// ErrCapacity is returned when the orchestrator would exceed its configured
// concurrent-agent limit.
type ErrCapacity struct {
	Limit int
}

func (e *ErrCapacity) Error() string {
	return fmt.Sprintf("capacity: agent limit %d reached", e.Limit)
}

// ErrTool wraps a failure raised inside a tool. The runtime converts it into
// a failed ToolResult before it can reach the agent loop.
type ErrTool struct {
	Tool    string
	Message string
}

func (e *ErrTool) Error() string { return fmt.Sprintf("tool %s: %s", e.Tool, e.Message) }

// IsRetryable reports whether err is a transient HTTP failure (429 or 5xx)
// worth retrying.
func IsRetryable(err error) bool {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	var provErr *ErrProvider
	if errors.As(err, &provErr) {
		return provErr.Status == 429 || provErr.Status >= 500
	}
	return false
}

// ParseRetryAfter parses an HTTP Retry-After header value (delta-seconds or
// HTTP-date). Returns 0 when the header is absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
