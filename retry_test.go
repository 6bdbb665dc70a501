package saturn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyProvider fails the first failCount calls with err, then delegates to a
// scripted response.
type flakyProvider struct {
	mu        sync.Mutex
	failCount int
	failErr   error
	calls     int
	response  ChatResponse
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) attempt() (ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failCount {
		return ChatResponse{}, f.failErr
	}
	return f.response, nil
}

func (f *flakyProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f.attempt()
}

func (f *flakyProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	resp, err := f.attempt()
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

func (f *flakyProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRetryChatRecoversFromTransientError(t *testing.T) {
	inner := &flakyProvider{
		failCount: 2,
		failErr:   &ErrHTTP{Status: 429},
		response:  textResponse("eventually"),
	}
	p := WithRetry(inner, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "eventually" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.callCount() != 3 {
		t.Errorf("calls = %d, want 3", inner.callCount())
	}
}

func TestRetryChatGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{
		failCount: 100,
		failErr:   &ErrHTTP{Status: 503},
	}
	p := WithRetry(inner, RetryMaxAttempts(2), RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var he *ErrHTTP
	if !errors.As(err, &he) || he.Status != 503 {
		t.Fatalf("err = %v, want final ErrHTTP 503", err)
	}
	if inner.callCount() != 2 {
		t.Errorf("calls = %d, want 2", inner.callCount())
	}
}

func TestRetryChatDoesNotRetryPermanentError(t *testing.T) {
	inner := &flakyProvider{
		failCount: 100,
		failErr:   &ErrHTTP{Status: 401, Body: "bad key"},
	}
	p := WithRetry(inner, RetryMaxAttempts(5), RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 401)", inner.callCount())
	}
}

func TestRetryStreamRetriesBeforeFirstEvent(t *testing.T) {
	inner := &flakyProvider{
		failCount: 1,
		failErr:   &ErrHTTP{Status: 429},
		response:  textResponse("streamed"),
	}
	p := WithRetry(inner, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	ch := make(chan StreamEvent, 16)
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "streamed" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.callCount() != 2 {
		t.Errorf("calls = %d, want 2", inner.callCount())
	}
	// The forwarded event arrives exactly once.
	select {
	case ev := <-ch:
		if ev.Content != "streamed" {
			t.Errorf("event content = %q", ev.Content)
		}
	default:
		t.Error("no event forwarded")
	}
	select {
	case ev := <-ch:
		t.Errorf("duplicate event forwarded: %+v", ev)
	default:
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: time.Hour}
	if d := retryDelay(time.Millisecond, 0, err); d != time.Hour {
		t.Errorf("delay = %v, want the Retry-After floor", d)
	}
	// Without Retry-After the exponential backoff applies.
	if d := retryDelay(time.Second, 1, &ErrHTTP{Status: 429}); d < 2*time.Second || d > 3*time.Second {
		t.Errorf("backoff delay = %v, want [2s, 3s]", d)
	}
}

func TestRetryCancelledContext(t *testing.T) {
	inner := &flakyProvider{
		failCount: 100,
		failErr:   &ErrHTTP{Status: 429},
	}
	p := WithRetry(inner, RetryMaxAttempts(5), RetryBaseDelay(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled during backoff", err)
	}
}
