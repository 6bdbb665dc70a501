package saturn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestAgentExecuteSimple(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		textResponse("hello there"),
	}}
	a := newTestAgent(p)

	res, err := a.Execute(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hello there" {
		t.Errorf("output = %q, want %q", res.Output, "hello there")
	}
	if res.Rounds != 0 {
		t.Errorf("rounds = %d, want 0", res.Rounds)
	}
	if p.requestCount() != 1 {
		t.Errorf("requests = %d, want 1", p.requestCount())
	}
}

func TestAgentToolRound(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "call_1", Name: "echo", Args: mustArgs(`{"text":"pong"}`)}),
		textResponse("done"),
	}}
	a := newTestAgent(p, echoTool{})

	res, err := a.Execute(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "done" {
		t.Errorf("output = %q, want %q", res.Output, "done")
	}
	if res.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", res.Rounds)
	}

	// History: user, assistant(tool_calls), tool, assistant.
	h := a.History()
	if len(h) != 4 {
		t.Fatalf("history length = %d, want 4: %+v", len(h), h)
	}
	if h[0].Role != RoleUser || h[1].Role != RoleAssistant || h[2].Role != RoleTool || h[3].Role != RoleAssistant {
		t.Errorf("unexpected history roles: %s %s %s %s", h[0].Role, h[1].Role, h[2].Role, h[3].Role)
	}
	if h[2].Content != "pong" {
		t.Errorf("tool result content = %q, want %q", h[2].Content, "pong")
	}
	if h[2].ToolCallID != "call_1" {
		t.Errorf("tool result call id = %q, want call_1", h[2].ToolCallID)
	}
}

func TestAgentContinuationNudgeRequestOnly(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo", Args: mustArgs(`{"text":"x"}`)}),
		textResponse("final"),
	}}
	a := newTestAgent(p, echoTool{})

	if _, err := a.Execute(context.Background(), "go"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The second request ends with the nudge after the tool message.
	req := p.lastRequest()
	last := req.Messages[len(req.Messages)-1]
	if last.Role != RoleUser || last.Content != continuationNudge {
		t.Errorf("last request message = %s %q, want the continuation nudge", last.Role, last.Content)
	}

	// The nudge never enters the persistent history.
	for _, m := range a.History() {
		if m.Content == continuationNudge {
			t.Errorf("continuation nudge leaked into history")
		}
	}
}

func TestAgentParallelToolExecution(t *testing.T) {
	const n = 4
	barrier := newBarrierTool(n)
	calls := make([]ToolCall, n)
	for i := range calls {
		calls[i] = ToolCall{ID: NewID(), Name: "barrier", Args: mustArgs(`{}`)}
	}
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(calls...),
		textResponse("all passed"),
	}}
	a := newTestAgent(p, barrier)

	res, err := a.Execute(context.Background(), "run them all")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "all passed" {
		t.Errorf("output = %q", res.Output)
	}
	for _, m := range a.History() {
		if m.Role == RoleTool && m.Content != "passed" {
			t.Errorf("barrier tool result = %q, want %q", m.Content, "passed")
		}
	}
}

func TestAgentToolFailureContinuesLoop(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "fail", Args: mustArgs(`{}`)}),
		textResponse("recovered"),
	}}
	a := newTestAgent(p, errTool{})

	res, err := a.Execute(context.Background(), "try it")
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if res.Output != "recovered" {
		t.Errorf("output = %q", res.Output)
	}

	var toolMsg ChatMessage
	for _, m := range a.History() {
		if m.Role == RoleTool {
			toolMsg = m
			break
		}
	}
	if toolMsg.Role == "" {
		t.Fatal("no tool message in history")
	}
	if !strings.HasPrefix(toolMsg.Content, "error: ") {
		t.Errorf("failed tool message = %q, want error: prefix", toolMsg.Content)
	}
}

func TestAgentProviderErrorAborts(t *testing.T) {
	provErr := &ErrHTTP{Status: 500, Body: "upstream down"}
	p := &mockProvider{err: provErr}
	a := newTestAgent(p)

	_, err := a.Execute(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected provider error")
	}
	var he *ErrHTTP
	if !errors.As(err, &he) || he.Status != 500 {
		t.Errorf("err = %v, want wrapped ErrHTTP 500", err)
	}
	// The user message stays committed even though the turn failed.
	h := a.History()
	if len(h) != 1 || h[0].Role != RoleUser {
		t.Errorf("history after provider failure = %+v, want just the user message", h)
	}
}

func TestAgentMaxToolRoundsExhaustion(t *testing.T) {
	// A provider that always asks for another tool call.
	p := &mockProvider{}
	for i := 0; i < 100; i++ {
		p.responses = append(p.responses,
			toolCallResponse(ToolCall{ID: NewID(), Name: "echo", Args: mustArgs(`{"text":"again"}`)}))
	}
	reg := NewRegistry(nil)
	reg.Register(echoTool{})
	cfg := DefaultConfig("looper", "test-model")
	cfg.MaxToolRounds = 3
	a := NewAgent(cfg, p, WithRegistry(reg))

	_, err := a.Execute(context.Background(), "never stops")
	var pe *ErrProtocol
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ErrProtocol on round exhaustion", err)
	}
}

func TestAgentCancellationDuringDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// cancelTool cancels the run from inside the dispatch, then succeeds.
	cancelTool := toolFunc{
		def: ToolDefinition{Name: "cancel", Description: "Cancels the run."},
		fn: func(c context.Context, _ []byte) (ToolResult, error) {
			cancel()
			return ToolResult{Content: "done before cancel"}, nil
		},
	}

	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "cancel", Args: mustArgs(`{}`)}),
		textResponse("should never be reached"),
	}}
	a := newTestAgent(p, cancelTool)

	_, err := a.Execute(ctx, "go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The round's tool message is still committed so the history stays
	// well-formed for a later resume.
	h := a.History()
	var sawTool bool
	for _, m := range h {
		if m.Role == RoleTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Errorf("tool message missing from history after cancellation: %+v", h)
	}
	if p.requestCount() != 1 {
		t.Errorf("requests = %d, want 1 (no round after cancellation)", p.requestCount())
	}
}

func TestAgentExecuteStreamEvents(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo", Args: mustArgs(`{"text":"hi"}`)}),
		textResponse("streamed"),
	}}
	a := newTestAgent(p, echoTool{})

	ch := make(chan StreamEvent, 64)
	done := make(chan struct{})
	var events []StreamEvent
	go func() {
		defer close(done)
		for ev := range ch {
			events = append(events, ev)
		}
	}()

	res, err := a.ExecuteStream(context.Background(), "go", ch)
	<-done
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	if res.Output != "streamed" {
		t.Errorf("output = %q", res.Output)
	}

	var sawStart, sawResult, sawComplete bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCallStart:
			sawStart = true
			if sawResult {
				t.Errorf("tool-call-start after tool-call-result")
			}
		case EventToolCallResult:
			sawResult = true
			if ev.Content != "hi" {
				t.Errorf("tool result event content = %q", ev.Content)
			}
		case EventComplete:
			sawComplete = true
		}
	}
	if !sawStart || !sawResult || !sawComplete {
		t.Errorf("missing events: start=%v result=%v complete=%v", sawStart, sawResult, sawComplete)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Errorf("last event = %s, want complete", events[len(events)-1].Type)
	}
}

func TestAgentTerminate(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{textResponse("ok")}}
	a := newTestAgent(p)
	a.Terminate()
	if a.Status() != StatusTerminated {
		t.Errorf("status = %v, want terminated", a.Status())
	}
	if _, err := a.Execute(context.Background(), "hi"); err == nil {
		t.Error("Execute on a terminated agent must fail")
	}
}

func TestAgentPersistence(t *testing.T) {
	store := &memStore{}
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "c1", Name: "echo", Args: mustArgs(`{"text":"x"}`)}),
		textResponse("bye"),
	}}
	reg := NewRegistry(nil)
	reg.Register(echoTool{})
	a := NewAgent(DefaultConfig("keeper", "test-model"), p,
		WithRegistry(reg), WithStore(store))

	if _, err := a.Execute(context.Background(), "hello"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.SessionID() == "" {
		t.Error("session id not set after run with store")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(store.sessions))
	}
	// user, assistant(tool_calls), assistant(final).
	if len(store.messages) != 3 {
		t.Errorf("messages persisted = %d, want 3", len(store.messages))
	}
	if len(store.toolCalls) != 1 || store.toolCalls[0] != "echo" {
		t.Errorf("tool calls persisted = %v", store.toolCalls)
	}
}

func TestAgentStoreFailureIsBestEffort(t *testing.T) {
	store := &memStore{failAll: true}
	p := &mockProvider{responses: []ChatResponse{textResponse("fine")}}
	a := NewAgent(DefaultConfig("lossy", "test-model"), p, WithStore(store))

	res, err := a.Execute(context.Background(), "hi")
	if err != nil {
		t.Fatalf("store failure must not abort the run: %v", err)
	}
	if res.Output != "fine" {
		t.Errorf("output = %q", res.Output)
	}
	if a.SessionID() != "" {
		t.Errorf("session id = %q, want empty when creation failed", a.SessionID())
	}
}

func TestTrimHistory(t *testing.T) {
	msgs := []ChatMessage{
		SystemMessage("sys"),
		UserMessage("1"),
		AssistantMessage("2"),
		UserMessage("3"),
		AssistantMessage("4"),
	}

	got := trimHistory(msgs, 3)
	if len(got) != 3 {
		t.Fatalf("trimmed length = %d, want 3", len(got))
	}
	if got[0].Role != RoleSystem {
		t.Errorf("system message not preserved first")
	}
	if got[1].Content != "3" || got[2].Content != "4" {
		t.Errorf("kept wrong tail: %+v", got[1:])
	}

	// Under the cap: untouched.
	if got := trimHistory(msgs, 10); len(got) != len(msgs) {
		t.Errorf("under-cap trim changed length: %d", len(got))
	}

	// System messages alone exceed the cap: all kept anyway.
	sys := []ChatMessage{SystemMessage("a"), SystemMessage("b"), UserMessage("u")}
	if got := trimHistory(sys, 1); len(got) != 2 {
		t.Errorf("system overflow trim = %d messages, want 2 system kept", len(got))
	}
}

func TestAgentHistoryTrimAppliedToRequests(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		textResponse("one"), textResponse("two"),
	}}
	reg := NewRegistry(nil)
	cfg := DefaultConfig("trimmer", "test-model")
	cfg.MaxHistoryMessages = 2
	a := NewAgent(cfg, p, WithRegistry(reg))

	ctx := context.Background()
	if _, err := a.Execute(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Execute(ctx, "second"); err != nil {
		t.Fatal(err)
	}

	req := p.lastRequest()
	if len(req.Messages) > 2 {
		t.Errorf("request carried %d messages, want <= 2", len(req.Messages))
	}
	// Full history is retained internally even when requests are trimmed.
	if len(a.History()) != 4 {
		t.Errorf("history = %d messages, want 4", len(a.History()))
	}
}

// toolFunc adapts a function to the Tool interface for one-off test tools.
type toolFunc struct {
	def ToolDefinition
	fn  func(ctx context.Context, args []byte) (ToolResult, error)
}

func (t toolFunc) Definition() ToolDefinition { return t.def }

func (t toolFunc) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return t.fn(ctx, args)
}

func (toolFunc) ConcurrencySafe() bool { return true }

func TestAgentConcurrentRunsSerialized(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{
		toolCallResponse(ToolCall{ID: "a1", Name: "echo", Args: mustArgs(`{"text":"one"}`)}),
		textResponse("first done"),
		toolCallResponse(ToolCall{ID: "b1", Name: "echo", Args: mustArgs(`{"text":"two"}`)}),
		textResponse("second done"),
	}}
	a := newTestAgent(p, echoTool{})

	var wg sync.WaitGroup
	wg.Add(2)
	for _, input := range []string{"task one", "task two"} {
		go func() {
			defer wg.Done()
			if _, err := a.Execute(context.Background(), input); err != nil {
				t.Errorf("Execute(%q): %v", input, err)
			}
		}()
	}
	wg.Wait()

	// Runs must not interleave: every assistant message that requests tool
	// calls is immediately followed by its tool messages, in call order.
	history := a.History()
	for i := 0; i < len(history); i++ {
		m := history[i]
		if m.Role != RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		for j, tc := range m.ToolCalls {
			k := i + 1 + j
			if k >= len(history) {
				t.Fatalf("history ends before tool results of %s", tc.ID)
			}
			got := history[k]
			if got.Role != RoleTool || got.ToolCallID != tc.ID {
				t.Fatalf("history[%d] = %s/%s, want tool result for %s",
					k, got.Role, got.ToolCallID, tc.ID)
			}
		}
		i += len(m.ToolCalls)
	}
	if len(history) != 8 {
		t.Errorf("history length = %d, want 8 (2 runs of user/assistant/tool/assistant)", len(history))
	}
}
