package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spotty118/saturn"
)

// StreamSSE reads an SSE stream from body, emits delta events into ch, and
// returns the fully accumulated response (content, tool calls, finish
// reason, usage). The caller owns ch; it is never closed here.
//
// Expected frame format:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
//
// A data frame that is not valid JSON fails the stream with ErrProtocol.
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- saturn.StreamEvent) (saturn.ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	// Large buffer for providers that pack big deltas into one frame.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var usage saturn.Usage
	var finishReason string

	// Tool calls stream incrementally: each fragment carries an index, and
	// arguments arrive as string pieces to concatenate.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return saturn.ChatResponse{}, &saturn.ErrProtocol{
				Detail: fmt.Sprintf("malformed SSE frame: %v", err),
			}
		}

		// Usage-only chunk (stream_options.include_usage).
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		delta := choice.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- saturn.StreamEvent{Type: saturn.EventTextDelta, Content: delta.Content}:
			case <-ctx.Done():
				return saturn.ChatResponse{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
			select {
			case ch <- saturn.StreamEvent{
				Type:    saturn.EventToolCallDelta,
				ID:      toolCalls[idx].ID,
				Name:    toolCalls[idx].Name,
				Content: tc.Function.Arguments,
			}:
			case <-ctx.Done():
				return saturn.ChatResponse{}, ctx.Err()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return saturn.ChatResponse{}, ctx.Err()
		}
		return saturn.ChatResponse{}, err
	}

	var calls []saturn.ToolCall
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.Args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, saturn.ToolCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: args,
		})
	}

	return saturn.ChatResponse{
		Content:      fullContent.String(),
		ToolCalls:    calls,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}
