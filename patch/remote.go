package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spotty118/saturn"
)

// DefaultRemoteTimeout bounds one fast-apply request.
const DefaultRemoteTimeout = 30 * time.Second

// RemoteClient talks to a fast-apply service that speaks the chat
// completions shape: the user message packs the instructions, the target
// file, and the edit; the response content is the entire updated file.
type RemoteClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	timeout  time.Duration
}

// RemoteOption configures a RemoteClient.
type RemoteOption func(*RemoteClient)

// WithRemoteTimeout overrides the per-request timeout.
func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(c *RemoteClient) { c.timeout = d }
}

// WithRemoteHTTPClient sets a custom HTTP client.
func WithRemoteHTTPClient(hc *http.Client) RemoteOption {
	return func(c *RemoteClient) { c.client = hc }
}

// NewRemoteClient creates a fast-apply client. endpoint is the API base; the
// /chat/completions path is appended.
func NewRemoteClient(endpoint, apiKey, model string, opts ...RemoteOption) *RemoteClient {
	c := &RemoteClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
		timeout:  DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type remoteRequest struct {
	Model    string          `json:"model"`
	Messages []remoteMessage `json:"messages"`
}

type remoteMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type remoteResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// buildEnvelope packs instructions, the current file, and the edit into the
// fast-apply message format.
func buildEnvelope(instructions, file, edit string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n<<<FILE>>>\n")
	b.WriteString(file)
	b.WriteString("\n<<<EDIT>>>\n")
	b.WriteString(edit)
	return b.String()
}

// Apply sends one fast-apply request and returns the full updated file
// content.
func (c *RemoteClient) Apply(ctx context.Context, instructions, file, edit string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(remoteRequest{
		Model: c.model,
		Messages: []remoteMessage{
			{Role: "user", Content: buildEnvelope(instructions, file, edit)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("patch: marshal remote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("patch: create remote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("patch: remote apply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &saturn.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: saturn.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &saturn.ErrProtocol{Detail: fmt.Sprintf("decode fast-apply response: %v", err)}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &Error{Detail: "remote apply returned empty content"}
	}
	return parsed.Choices[0].Message.Content, nil
}
