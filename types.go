package saturn

import "encoding/json"

// --- Chat protocol types ---

// Message roles. A conversation is an ordered sequence of messages whose
// roles follow the chat-completions contract.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one turn in a conversation. Messages are immutable once
// appended to an agent's history.
//
// Content carries plain text. Structured, when non-nil, carries a JSON value
// that is serialized verbatim on the wire instead of Content. Exactly one of
// the two is meaningful for a given message.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Structured json.RawMessage `json:"structured,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// ToolCall is a model-emitted request to invoke a named tool. IDs are opaque
// and unique within the assistant message that carried them.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes a tool to the model: name, human description, and
// a JSON-schema object for its parameters. Emitted to the provider verbatim.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerationParams are per-request sampling overrides. Nil pointer fields
// fall back to the provider's defaults.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// ChatRequest is a provider-independent chat request. Model overrides the
// provider's default model when set (OpenRouter-style multiplexed endpoints).
type ChatRequest struct {
	Model            string            `json:"model,omitempty"`
	Messages         []ChatMessage     `json:"messages"`
	Tools            []ToolDefinition  `json:"tools,omitempty"`
	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
}

// Finish reasons reported by chat providers.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// ChatResponse is the accumulated result of one model turn.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// Usage counts tokens consumed by a request or a whole run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// ToolResultMessage builds the tool-role message answering the given call.
func ToolResultMessage(callID, name, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}
