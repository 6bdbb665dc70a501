package saturn

import (
	"context"
	"encoding/json"
	"time"
)

// Session identifies a persisted conversation. Sub-agent sessions link to
// their parent via ParentID.
type Session struct {
	ID           string
	Name         string
	Type         string // "primary" or "subagent"
	ParentID     string
	AgentName    string
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	CreatedAt    int64
}

// Store persists sessions, messages, and tool calls. Implementations live in
// store/sqlite and store/postgres. All writes from the agent loop are
// best-effort: failures are logged and never abort a run.
type Store interface {
	// CreateSession persists a new session and returns its id.
	CreateSession(ctx context.Context, s Session) (string, error)
	// SaveMessage appends a message to a session. Returned ids increase
	// monotonically with append order within a session.
	SaveMessage(ctx context.Context, sessionID string, m ChatMessage) (int64, error)
	// SaveToolCall records a tool invocation under the given message.
	SaveToolCall(ctx context.Context, messageID int64, sessionID, toolName string, args json.RawMessage, agentName string) (int64, error)
	// UpdateToolCallResult records the outcome of a previously saved call.
	UpdateToolCallResult(ctx context.Context, toolCallID int64, result, errMsg string, elapsed time.Duration) error
	Close() error
}
