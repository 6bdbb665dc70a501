package saturn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// continuationNudge is appended to the outgoing request (never to history)
// after a round of tool results, prompting the model to continue.
const continuationNudge = "Please continue with your response."

// maxToolResultMessageLen caps the rune length of a tool result stored in the
// conversation history. Stream events retain the full content since they are
// transient and not accumulated across rounds.
const maxToolResultMessageLen = 100_000

// maxParallelDispatch caps concurrent tool-call goroutines within one round.
const maxParallelDispatch = 10

// run is the agent execution loop: build a request, stream the model's turn,
// dispatch any tool calls, commit their results in emission order, and go
// around again until the model stops. When ch is non-nil the run emits
// StreamEvent values; the caller owns and closes ch.
func (a *Agent) run(ctx context.Context, input string, ch chan<- StreamEvent) (Result, error) {
	// One loop at a time per agent: a second caller blocks here until the
	// first run finishes, keeping history appends causally ordered.
	a.runMu.Lock()
	defer a.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if a.status == StatusTerminated {
		a.mu.Unlock()
		return Result{}, fmt.Errorf("agent %s is terminated", a.cfg.Name)
	}
	a.status = StatusBusy
	a.cancelRun = cancel
	if len(a.history) == 0 && a.cfg.SystemPrompt != "" {
		a.history = append(a.history, SystemMessage(a.cfg.SystemPrompt))
	}
	a.history = append(a.history, UserMessage(input))
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.status == StatusBusy {
			a.status = StatusIdle
		}
		a.cancelRun = nil
		a.mu.Unlock()
	}()

	a.ensureSession(runCtx)
	a.persistMessage(runCtx, UserMessage(input))

	var span Span
	if a.tracer != nil {
		runCtx, span = a.tracer.Start(runCtx, "agent.execute",
			StringAttr("agent.name", a.cfg.Name),
			StringAttr("agent.model", a.cfg.Model))
		defer span.End()
	}

	maxRounds := a.cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	var total Usage
	for round := 0; round <= maxRounds; round++ {
		if err := runCtx.Err(); err != nil {
			return Result{Usage: total, Rounds: round, SessionID: a.SessionID()}, err
		}

		req := a.buildRequest()

		var resp ChatResponse
		var err error
		if ch != nil {
			resp, err = a.provider.ChatStream(runCtx, req, ch)
		} else {
			resp, err = a.provider.Chat(runCtx, req)
		}
		if err != nil {
			// Partial assistant content from an aborted stream is discarded;
			// history keeps everything committed up to the last round.
			if span != nil && !errors.Is(err, context.Canceled) {
				span.Error(err)
			}
			return Result{Usage: total, Rounds: round, SessionID: a.SessionID()}, err
		}
		total.Add(resp.Usage)

		// Terminal turn: no tool calls requested.
		if len(resp.ToolCalls) == 0 {
			assistant := AssistantMessage(resp.Content)
			a.appendHistory(assistant)
			a.persistMessage(runCtx, assistant)
			a.emit(runCtx, ch, StreamEvent{Type: EventComplete, FinishReason: resp.FinishReason})
			if span != nil {
				span.SetAttr(IntAttr("agent.rounds", round),
					IntAttr("tokens.input", total.InputTokens),
					IntAttr("tokens.output", total.OutputTokens))
			}
			a.logger.Info("run completed", "agent", a.cfg.Name, "rounds", round,
				"tokens.input", total.InputTokens, "tokens.output", total.OutputTokens)
			return Result{Output: resp.Content, Usage: total, Rounds: round, SessionID: a.SessionID()}, nil
		}

		assistant := ChatMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		a.appendHistory(assistant)
		msgID := a.persistMessage(runCtx, assistant)

		for _, tc := range resp.ToolCalls {
			a.emit(runCtx, ch, StreamEvent{Type: EventToolCallStart, ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}

		results := a.dispatchTools(runCtx, resp.ToolCalls)

		// Commit tool results in emission order regardless of how they ran.
		for i, tc := range resp.ToolCalls {
			res := results[i]
			a.emit(runCtx, ch, StreamEvent{
				Type:     EventToolCallResult,
				ID:       tc.ID,
				Name:     tc.Name,
				Content:  res.content,
				Duration: res.duration,
			})
			msgContent := res.content
			if len([]rune(msgContent)) > maxToolResultMessageLen {
				msgContent = truncateStr(msgContent, maxToolResultMessageLen) +
					"\n\n[output truncated — original was longer]"
			}
			a.appendHistory(ToolResultMessage(tc.ID, tc.Name, msgContent))
			a.persistToolCall(runCtx, msgID, tc, res.result, res.duration)
		}

		// Cancellation observed during dispatch: the round's tool messages
		// are committed to keep the conversation shape intact, but no
		// further rounds run.
		if err := runCtx.Err(); err != nil {
			return Result{Usage: total, Rounds: round + 1, SessionID: a.SessionID()}, err
		}
	}

	if span != nil {
		span.SetAttr(BoolAttr("agent.rounds_exhausted", true))
	}
	a.logger.Warn("tool-call round budget exhausted", "agent", a.cfg.Name, "rounds", maxRounds)
	return Result{Usage: total, Rounds: maxRounds, SessionID: a.SessionID()},
		&ErrProtocol{Detail: fmt.Sprintf("model did not stop after %d tool-call rounds", maxRounds)}
}

// buildRequest assembles the outgoing chat request from the agent's history,
// applying the history cap and the transient continuation nudge.
func (a *Agent) buildRequest() ChatRequest {
	a.mu.Lock()
	messages := make([]ChatMessage, len(a.history))
	copy(messages, a.history)
	a.mu.Unlock()

	if a.cfg.MaintainHistory && a.cfg.MaxHistoryMessages > 0 {
		messages = trimHistory(messages, a.cfg.MaxHistoryMessages)
	}

	// After a round of tool results the request ends with tool messages;
	// nudge the model to continue. The nudge is request-only state.
	if len(messages) > 0 && messages[len(messages)-1].Role == RoleTool {
		messages = append(messages, UserMessage(continuationNudge))
	}

	req := ChatRequest{
		Model:    a.cfg.Model,
		Messages: messages,
	}
	if a.cfg.Temperature != nil || a.cfg.TopP != nil || a.cfg.MaxTokens > 0 {
		req.GenerationParams = &GenerationParams{
			Temperature: a.cfg.Temperature,
			TopP:        a.cfg.TopP,
			MaxTokens:   a.cfg.MaxTokens,
		}
	}
	if a.cfg.EnableTools {
		req.Tools = a.registry.Definitions(a.cfg.ToolAllowlist)
	}
	return req
}

// trimHistory drops the oldest non-system messages until the total length is
// within cap. System messages are always preserved; when system messages
// alone exceed the cap they are still all kept.
func trimHistory(messages []ChatMessage, limit int) []ChatMessage {
	if len(messages) <= limit {
		return messages
	}
	var system, rest []ChatMessage
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	keep := limit - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}
	out := make([]ChatMessage, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

func (a *Agent) appendHistory(m ChatMessage) {
	a.mu.Lock()
	a.history = append(a.history, m)
	a.mu.Unlock()
}

// emit sends a stream event without blocking past cancellation.
func (a *Agent) emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// --- tool dispatch ---

type toolExecResult struct {
	result   ToolResult
	content  string
	duration time.Duration
}

// dispatchTools runs one round of tool calls and returns results aligned with
// the input order. Single calls run inline; multiple calls use a fixed worker
// pool of min(len(calls), maxParallelDispatch) goroutines. The runtime itself
// serializes tools that are not concurrency-safe.
func (a *Agent) dispatchTools(ctx context.Context, calls []ToolCall) []toolExecResult {
	runOne := func(tc ToolCall) toolExecResult {
		start := time.Now()
		res := a.runner.Execute(ctx, tc.Name, tc.Args)
		content := res.Content
		if res.Error != "" {
			content = "error: " + res.Error
		}
		return toolExecResult{result: res, content: content, duration: time.Since(start)}
	}

	if len(calls) == 1 {
		return []toolExecResult{runOne(calls[0])}
	}

	type workItem struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	results := make([]toolExecResult, len(calls))
	var mu sync.Mutex
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				var r toolExecResult
				if err := ctx.Err(); err != nil {
					r = toolExecResult{
						result:  ToolResult{Error: err.Error()},
						content: "error: " + err.Error(),
					}
				} else {
					r = runOne(w.tc)
				}
				mu.Lock()
				results[w.idx] = r
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
