package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spotty118/saturn"
)

// maxErrSnippet caps how much of a raw error payload an error carries.
const maxErrSnippet = 2048

// Provider implements saturn.Provider for any OpenAI-compatible endpoint.
// It composes the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse).
//
// Works with OpenRouter, OpenAI, Groq, DeepSeek, Ollama, vLLM, and any other
// provider that implements the chat completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	logger  *slog.Logger

	// Attribution headers some gateways use for app rankings.
	referer string
	title   string
}

// ProviderOption configures a Provider instance.
type ProviderOption func(*Provider)

// WithName sets the provider name returned by Name() (default "openrouter").
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithAttribution sets the HTTP-Referer and X-Title headers sent with every
// request.
func WithAttribution(referer, title string) ProviderOption {
	return func(p *Provider) { p.referer = referer; p.title = title }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://openrouter.ai/api/v1",
// "https://api.openai.com/v1"). The /chat/completions path is appended
// automatically. model is the fallback for requests that do not name one.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openrouter",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req saturn.ChatRequest) (saturn.ChatResponse, error) {
	body := BuildBody(req, p.model)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return saturn.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return saturn.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return saturn.ChatResponse{}, &saturn.ErrProtocol{Detail: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp)
}

// ChatStream streams delta events into ch, then returns the final accumulated
// response. The caller owns ch; it is never closed here.
func (p *Provider) ChatStream(ctx context.Context, req saturn.ChatRequest, ch chan<- saturn.StreamEvent) (saturn.ChatResponse, error) {
	body := BuildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return saturn.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return saturn.ChatResponse{}, p.httpErr(resp)
	}

	return StreamSSE(ctx, resp.Body, ch)
}

// sendHTTP marshals the request body and posts it to the chat completions
// endpoint. Context cancellation aborts the underlying connection.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		httpReq.Header.Set("X-Title", p.title)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return resp, nil
}

// httpErr reads a non-2xx response and maps it to a typed error: a parseable
// provider envelope becomes ErrProvider; anything else becomes ErrHTTP with
// the Retry-After header parsed for retry middleware.
func (p *Provider) httpErr(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrSnippet+1))
	snippet := string(raw)
	if len(snippet) > maxErrSnippet {
		snippet = snippet[:maxErrSnippet]
	}

	var env ErrorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return &saturn.ErrProvider{
			Status:   resp.StatusCode,
			Code:     fmt.Sprint(env.Error.Code),
			Message:  env.Error.Message,
			Provider: p.name,
			Snippet:  snippet,
		}
	}

	return &saturn.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       snippet,
		RetryAfter: saturn.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ saturn.Provider = (*Provider)(nil)
