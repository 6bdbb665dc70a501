package saturn

import (
	"encoding/json"
	"time"
)

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text chunk from the model.
	EventTextDelta StreamEventType = "text-delta"
	// EventToolCallDelta signals a partial tool call arrived on the stream.
	EventToolCallDelta StreamEventType = "tool-call-delta"
	// EventToolCallStart signals a tool is about to be invoked.
	EventToolCallStart StreamEventType = "tool-call-start"
	// EventToolCallResult carries the result of a completed tool call.
	EventToolCallResult StreamEventType = "tool-call-result"
	// EventComplete signals the model finished a turn; FinishReason is set.
	EventComplete StreamEventType = "complete"
)

// StreamEvent is a typed event emitted during agent streaming. Consumers
// receive these on the channel passed to ExecuteStream.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	// ID is the tool call id (tool events only).
	ID string `json:"id,omitempty"`
	// Name is the tool name (tool events only).
	Name string `json:"name,omitempty"`
	// Content carries the text delta or tool result.
	Content string `json:"content,omitempty"`
	// Args carries the tool call arguments (tool-call-start only).
	Args json.RawMessage `json:"args,omitempty"`
	// FinishReason is set on complete events.
	FinishReason string `json:"finish_reason,omitempty"`
	// Duration is the tool execution time (tool-call-result only).
	Duration time.Duration `json:"duration,omitempty"`
	Usage    Usage         `json:"usage,omitempty"`
}
