package openaicompat

import (
	"encoding/json"

	"github.com/spotty118/saturn"
)

// ParseResponse converts a wire-format ChatResponse into a saturn
// ChatResponse, extracting content, tool calls, finish reason, and usage
// from choices[0].
func ParseResponse(resp ChatResponse) (saturn.ChatResponse, error) {
	var out saturn.ChatResponse

	if len(resp.Choices) == 0 {
		return out, &saturn.ErrProtocol{Detail: "response has no choices"}
	}

	choice := resp.Choices[0]
	out.FinishReason = choice.FinishReason
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = saturn.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts wire tool call requests to saturn ToolCalls.
// Arguments arrive as a JSON string; invalid JSON degrades to an empty
// object so the runtime reports a validation failure instead of a crash.
func ParseToolCalls(tcs []ToolCallRequest) []saturn.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]saturn.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, saturn.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
