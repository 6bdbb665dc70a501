package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/spotty118/saturn"
)

func TestBuildBodyBasicConversation(t *testing.T) {
	req := saturn.ChatRequest{
		Messages: []saturn.ChatMessage{
			saturn.SystemMessage("You are terse."),
			saturn.UserMessage("hello"),
			saturn.AssistantMessage("hi"),
		},
	}
	body := BuildBody(req, "fallback-model")

	if body.Model != "fallback-model" {
		t.Errorf("model = %q, want fallback", body.Model)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("messages = %d", len(body.Messages))
	}
	wantRoles := []string{"system", "user", "assistant"}
	for i, m := range body.Messages {
		if m.Role != wantRoles[i] {
			t.Errorf("messages[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if body.Messages[1].Content != "hello" {
		t.Errorf("user content = %v", body.Messages[1].Content)
	}
}

func TestBuildBodyModelOverride(t *testing.T) {
	req := saturn.ChatRequest{Model: "explicit-model"}
	if body := BuildBody(req, "fallback"); body.Model != "explicit-model" {
		t.Errorf("model = %q, want the request override", body.Model)
	}
}

func TestBuildBodyAssistantToolCalls(t *testing.T) {
	req := saturn.ChatRequest{
		Messages: []saturn.ChatMessage{
			{
				Role:    saturn.RoleAssistant,
				Content: "checking",
				ToolCalls: []saturn.ToolCall{
					{ID: "call_1", Name: "read_file", Args: json.RawMessage(`{"path":"a.go"}`)},
				},
			},
			saturn.ToolResultMessage("call_1", "read_file", "package main"),
		},
	}
	body := BuildBody(req, "m")

	if len(body.Messages) != 2 {
		t.Fatalf("messages = %d", len(body.Messages))
	}
	asst := body.Messages[0]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", asst)
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" || tc.Function.Name != "read_file" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"path":"a.go"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}

	tool := body.Messages[1]
	if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Name != "read_file" {
		t.Errorf("tool message = %+v", tool)
	}
	if tool.Content != "package main" {
		t.Errorf("tool content = %v", tool.Content)
	}
}

func TestBuildBodyStructuredContent(t *testing.T) {
	req := saturn.ChatRequest{
		Messages: []saturn.ChatMessage{
			{Role: saturn.RoleUser, Structured: json.RawMessage(`[{"type":"text","text":"hi"}]`)},
		},
	}
	body := BuildBody(req, "m")
	raw, ok := body.Messages[0].Content.(json.RawMessage)
	if !ok {
		t.Fatalf("structured content not passed through raw: %T", body.Messages[0].Content)
	}
	if string(raw) != `[{"type":"text","text":"hi"}]` {
		t.Errorf("structured content = %s", raw)
	}
}

func TestBuildBodyGenerationParams(t *testing.T) {
	temp := 0.2
	topP := 0.9
	req := saturn.ChatRequest{
		GenerationParams: &saturn.GenerationParams{
			Temperature: &temp,
			TopP:        &topP,
			MaxTokens:   512,
		},
	}
	body := BuildBody(req, "m")
	if body.Temperature == nil || *body.Temperature != 0.2 {
		t.Errorf("temperature = %v", body.Temperature)
	}
	if body.TopP == nil || *body.TopP != 0.9 {
		t.Errorf("top_p = %v", body.TopP)
	}
	if body.MaxTokens != 512 {
		t.Errorf("max_tokens = %d", body.MaxTokens)
	}
}

func TestBuildToolDefs(t *testing.T) {
	defs := []saturn.ToolDefinition{
		{Name: "grep", Description: "Searches files.", Parameters: json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}}}`)},
		{Name: "bare", Description: "No params."},
	}
	tools := BuildToolDefs(defs)
	if len(tools) != 2 {
		t.Fatalf("tools = %d", len(tools))
	}
	if tools[0].Type != "function" || tools[0].Function.Name != "grep" {
		t.Errorf("tools[0] = %+v", tools[0])
	}
	// Parameterless tools get an empty object schema so strict endpoints
	// accept them.
	if string(tools[1].Function.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("default parameters = %s", tools[1].Function.Parameters)
	}
}

func TestBuildBodyWireShape(t *testing.T) {
	req := saturn.ChatRequest{
		Model:    "m",
		Messages: []saturn.ChatMessage{saturn.UserMessage("hi")},
		Tools:    []saturn.ToolDefinition{{Name: "echo", Description: "d"}},
	}
	payload, err := json.Marshal(BuildBody(req, ""))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	for _, key := range []string{"model", "messages", "tools"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("wire body missing %q", key)
		}
	}
	// stream defaults off and stays off the wire.
	if _, ok := decoded["stream"]; ok {
		t.Error("stream key present on non-streaming body")
	}
}
