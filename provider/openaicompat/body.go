package openaicompat

import (
	"encoding/json"

	"github.com/spotty118/saturn"
)

// BuildBody converts a saturn ChatRequest into the wire-format request body.
// System messages stay in the messages array as role:"system". The model
// falls back to fallbackModel when the request does not name one.
func BuildBody(req saturn.ChatRequest, fallbackModel string) ChatRequest {
	var msgs []Message

	for _, m := range req.Messages {
		switch {
		case m.Role == saturn.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msg := Message{
				Role:      "assistant",
				ToolCalls: tcs,
			}
			// Text content may accompany tool calls.
			if m.Content != "" {
				msg.Content = m.Content
			}
			msgs = append(msgs, msg)

		case m.Role == saturn.RoleTool:
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})

		default:
			msg := Message{Role: m.Role, Content: m.Content}
			if len(m.Structured) > 0 {
				msg.Content = m.Structured
			}
			msgs = append(msgs, msg)
		}
	}

	body := ChatRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if body.Model == "" {
		body.Model = fallbackModel
	}

	if len(req.Tools) > 0 {
		body.Tools = BuildToolDefs(req.Tools)
	}

	if gp := req.GenerationParams; gp != nil {
		body.Temperature = gp.Temperature
		body.TopP = gp.TopP
		if gp.MaxTokens > 0 {
			body.MaxTokens = gp.MaxTokens
		}
	}

	return body
}

// BuildToolDefs converts saturn ToolDefinitions to the wire tool format.
func BuildToolDefs(tools []saturn.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
