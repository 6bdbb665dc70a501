package saturn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// mockProvider returns scripted responses in order. When the script is
// exhausted it answers with a terminal "exhausted" turn so a runaway loop
// still terminates.
type mockProvider struct {
	name string

	mu        sync.Mutex
	responses []ChatResponse // popped in order
	requests  []ChatRequest  // every request seen
	err       error          // returned instead of a response when set
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) next(req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return ChatResponse{Content: "exhausted", FinishReason: FinishStop}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	return m.next(req)
}

// ChatStream emits one text delta per response content. The caller owns ch;
// it is never closed here.
func (m *mockProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	resp, err := m.next(req)
	if err != nil {
		return ChatResponse{}, err
	}
	if resp.Content != "" {
		select {
		case ch <- StreamEvent{Type: EventTextDelta, Content: resp.Content}:
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	return resp, nil
}

// requestCount returns how many requests the provider has served.
func (m *mockProvider) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// lastRequest returns the most recent request, or a zero value.
func (m *mockProvider) lastRequest() ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// toolCallResponse builds an assistant turn requesting the given calls.
func toolCallResponse(calls ...ToolCall) ChatResponse {
	return ChatResponse{ToolCalls: calls, FinishReason: FinishToolCalls}
}

// textResponse builds a terminal assistant turn.
func textResponse(text string) ChatResponse {
	return ChatResponse{Content: text, FinishReason: FinishStop}
}

// echoTool returns its "text" argument verbatim. Concurrency-safe.
type echoTool struct{}

func (echoTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echoes the text argument.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}

func (echoTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	p, err := ParseParams(args)
	if err != nil {
		return ToolResult{}, err
	}
	text, err := p.RequireString("text")
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: text}, nil
}

func (echoTool) ConcurrencySafe() bool { return true }

// errTool always fails with a tool error.
type errTool struct{}

func (errTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "fail", Description: "Always fails."}
}

func (errTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{}, &ErrTool{Tool: "fail", Message: "deliberate failure"}
}

// panicTool panics on every call.
type panicTool struct{}

func (panicTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "panic", Description: "Panics."}
}

func (panicTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	panic("boom")
}

// slowTool blocks until its context is done.
type slowTool struct{ timeout time.Duration }

func (slowTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "slow", Description: "Blocks forever."}
}

func (s slowTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	<-ctx.Done()
	return ToolResult{}, ctx.Err()
}

func (s slowTool) Timeout() time.Duration { return s.timeout }

func (slowTool) ConcurrencySafe() bool { return true }

// barrierTool blocks each Execute until all n concurrent calls have started,
// proving the calls overlapped in time.
type barrierTool struct {
	n       int
	mu      sync.Mutex
	started int
	release chan struct{}
	once    sync.Once
}

func newBarrierTool(n int) *barrierTool {
	return &barrierTool{n: n, release: make(chan struct{})}
}

func (b *barrierTool) Definition() ToolDefinition {
	return ToolDefinition{Name: "barrier", Description: "Waits for peers."}
}

func (b *barrierTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	b.mu.Lock()
	b.started++
	if b.started >= b.n {
		b.once.Do(func() { close(b.release) })
	}
	b.mu.Unlock()

	select {
	case <-b.release:
		return ToolResult{Content: "passed"}, nil
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return ToolResult{}, fmt.Errorf("barrier never released: calls did not overlap")
	}
}

func (b *barrierTool) ConcurrencySafe() bool { return true }

// memStore is an in-memory Store that records every write.
type memStore struct {
	mu        sync.Mutex
	sessions  []Session
	messages  []ChatMessage
	toolCalls []string // tool names in save order
	nextMsg   int64
	nextCall  int64
	failAll   bool
}

func (s *memStore) CreateSession(ctx context.Context, sess Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", fmt.Errorf("store unavailable")
	}
	s.sessions = append(s.sessions, sess)
	return sess.ID, nil
}

func (s *memStore) SaveMessage(ctx context.Context, sessionID string, m ChatMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, fmt.Errorf("store unavailable")
	}
	s.messages = append(s.messages, m)
	s.nextMsg++
	return s.nextMsg, nil
}

func (s *memStore) SaveToolCall(ctx context.Context, messageID int64, sessionID, toolName string, args json.RawMessage, agentName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, fmt.Errorf("store unavailable")
	}
	s.toolCalls = append(s.toolCalls, toolName)
	s.nextCall++
	return s.nextCall, nil
}

func (s *memStore) UpdateToolCallResult(ctx context.Context, toolCallID int64, result, errMsg string, elapsed time.Duration) error {
	return nil
}

func (s *memStore) Close() error { return nil }

// newTestAgent builds an agent over the given provider with the standard
// test tools registered.
func newTestAgent(p Provider, tools ...Tool) *Agent {
	reg := NewRegistry(nil)
	for _, t := range tools {
		reg.Register(t)
	}
	cfg := DefaultConfig("tester", "test-model")
	return NewAgent(cfg, p, WithRegistry(reg))
}

func mustArgs(s string) json.RawMessage { return json.RawMessage(s) }
