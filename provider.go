package saturn

import "context"

// Provider abstracts the chat-completions backend.
type Provider interface {
	// Chat sends a request and returns the complete response. When req.Tools
	// is non-empty the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams events into ch and returns the accumulated response.
	// The provider does not close ch; the caller owns the channel.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "openrouter").
	Name() string
}
