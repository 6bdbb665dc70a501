package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spotty118/saturn"
)

func TestProviderChat(t *testing.T) {
	var gotAuth, gotReferer string
	var gotBody ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		resp := ChatResponse{
			ID: "chatcmpl-1",
			Choices: []Choice{
				{Message: &ChoiceMessage{Role: "assistant", Content: "pong"}, FinishReason: "stop"},
			},
			Usage: &Usage{PromptTokens: 4, CompletionTokens: 2},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewProvider("sk-or-test-key", "test-model", srv.URL,
		WithAttribution("https://example.com", "saturn"))

	resp, err := p.Chat(context.Background(), saturn.ChatRequest{
		Messages: []saturn.ChatMessage{saturn.UserMessage("ping")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotAuth != "Bearer sk-or-test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReferer != "https://example.com" {
		t.Errorf("referer header = %q", gotReferer)
	}
	if gotBody.Model != "test-model" {
		t.Errorf("wire model = %q, want the provider default", gotBody.Model)
	}
}

func TestProviderChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("stream not requested on the wire")
		}
		if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Error("stream usage not requested")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"id\":\"c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"}}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewProvider("key-not-checked", "m", srv.URL)
	ch := make(chan saturn.StreamEvent, 16)
	resp, err := p.ChatStream(context.Background(), saturn.ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q", resp.Content)
	}
	close(ch)
	var n int
	for range ch {
		n++
	}
	if n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}

func TestProviderErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error":{"code":402,"message":"insufficient credits"}}`)
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL, WithName("openrouter"))
	_, err := p.Chat(context.Background(), saturn.ChatRequest{})
	var pe *saturn.ErrProvider
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if pe.Status != 402 || pe.Code != "402" || pe.Message != "insufficient credits" {
		t.Errorf("provider error = %+v", pe)
	}
	if pe.Provider != "openrouter" {
		t.Errorf("provider name = %q", pe.Provider)
	}
}

func TestProviderHTTPErrorWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "rate limited")
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), saturn.ChatRequest{})
	var he *saturn.ErrHTTP
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
	if he.Status != 429 {
		t.Errorf("status = %d", he.Status)
	}
	if he.RetryAfter.Seconds() != 7 {
		t.Errorf("retry after = %v", he.RetryAfter)
	}
	if !saturn.IsRetryable(err) {
		t.Error("429 must be retryable")
	}
}

func TestProviderContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	p := NewProvider("k", "m", srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, saturn.ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestProviderMalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json at all")
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), saturn.ChatRequest{})
	var pe *saturn.ErrProtocol
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}
