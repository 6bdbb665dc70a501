package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spotty118/saturn"
)

// buildSSE constructs a mock SSE stream from data lines.
func buildSSE(lines ...string) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// runStream drives StreamSSE over raw and collects the emitted events.
func runStream(t *testing.T, raw string) (saturn.ChatResponse, []saturn.StreamEvent, error) {
	t.Helper()
	ch := make(chan saturn.StreamEvent, 64)
	resp, err := StreamSSE(context.Background(), strings.NewReader(raw), ch)
	close(ch)
	var events []saturn.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return resp, events, err
}

func TestStreamSSETextChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"!"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		"[DONE]",
	)

	resp, events, err := runStream(t, sse)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if resp.Content != "Hello world!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	var deltas []string
	for _, ev := range events {
		if ev.Type != saturn.EventTextDelta {
			t.Errorf("unexpected event type %s", ev.Type)
		}
		deltas = append(deltas, ev.Content)
	}
	if strings.Join(deltas, "") != "Hello world!" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestStreamSSEToolCallAssembly(t *testing.T) {
	// Tool calls stream incrementally: first the id and name, then argument
	// fragments keyed by index.
	sse := buildSSE(
		`{"id":"c2","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\""}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"London"}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"}"}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":15,"total_tokens":25}}`,
		"[DONE]",
	)

	resp, events, err := runStream(t, sse)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Args, &args); err != nil {
		t.Fatalf("assembled args do not parse: %v", err)
	}
	if args["city"] != "London" {
		t.Errorf("args = %v", args)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}

	for _, ev := range events {
		if ev.Type != saturn.EventToolCallDelta {
			t.Errorf("unexpected event type %s for tool stream", ev.Type)
		}
	}
}

func TestStreamSSEMultipleToolCallsByIndex(t *testing.T) {
	sse := buildSSE(
		`{"id":"c3","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
		`{"id":"c3","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":\"test\"}"}}]}}]}`,
		`{"id":"c3","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"calc","arguments":""}}]}}]}`,
		`{"id":"c3","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"expr\":\"1+1\"}"}}]}}]}`,
		`{"id":"c3","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	)

	resp, _, err := runStream(t, sse)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "search" {
		t.Errorf("first call = %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].ID != "call_2" || resp.ToolCalls[1].Name != "calc" {
		t.Errorf("second call = %+v", resp.ToolCalls[1])
	}
}

func TestStreamSSEEmptyStream(t *testing.T) {
	resp, events, err := runStream(t, buildSSE("[DONE]"))
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v, want empty", resp)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestStreamSSEUsageOnlyChunk(t *testing.T) {
	// Providers send usage in a trailing chunk with no choices when
	// stream_options.include_usage is set.
	sse := buildSSE(
		`{"id":"c4","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"id":"c4","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"c4","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
		"[DONE]",
	)
	resp, _, err := runStream(t, sse)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if resp.Content != "Hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 3 || resp.Usage.OutputTokens != 1 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestStreamSSEMalformedFrameFailsStream(t *testing.T) {
	sse := buildSSE(
		`{"id":"c5","choices":[{"index":0,"delta":{"content":"Good"}}]}`,
		`this is not json`,
		"[DONE]",
	)
	_, _, err := runStream(t, sse)
	var pe *saturn.ErrProtocol
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ErrProtocol on malformed frame", err)
	}
}

func TestStreamSSENonDataLinesIgnored(t *testing.T) {
	raw := ": comment\n" +
		"event: message\n" +
		"data: {\"id\":\"c6\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"OK\"}}]}\n\n" +
		"retry: 3000\n" +
		"data: [DONE]\n\n"

	resp, _, err := runStream(t, raw)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	if resp.Content != "OK" {
		t.Errorf("content = %q", resp.Content)
	}
}
