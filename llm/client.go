// Package llm provides the chat-completions client the bot talks to its
// language model through, with usage accounting and an optional
// persistent usage ledger.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	parley "github.com/ostramo/parley"
)

// DefaultTimeout bounds a single chat request.
const DefaultTimeout = 30 * time.Second

// Client implements parley.ChatProvider against any OpenAI-compatible
// chat completions API. Retries belong to parley.WithRetry, not here.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	name    string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	usage   *Usage
	ledger  *Ledger
}

var _ parley.ChatProvider = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client, typically for tests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.client = c }
}

// WithName overrides the provider name reported in errors and stats.
func WithName(name string) ClientOption {
	return func(cl *Client) { cl.name = name }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithLedger enables persistent usage recording. Ledger writes are
// best-effort; failures are logged and never fail the chat call.
func WithLedger(l *Ledger) ClientOption {
	return func(cl *Client) { cl.ledger = l }
}

// NewClient creates a chat client. baseURL is the API base; the
// /chat/completions path is appended.
func NewClient(apiKey, model, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		name:    "openai",
		timeout: DefaultTimeout,
		client:  &http.Client{},
		logger:  slog.New(slog.DiscardHandler),
		usage:   NewUsage(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Usage returns the client's usage counters.
func (c *Client) Usage() *Usage { return c.usage }

// wireResponse is the chat completions response shape.
type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request and returns the first choice.
func (c *Client) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	resp, err := c.chat(ctx, req)
	if err != nil {
		c.usage.recordFailure()
		c.appendLedger(ctx, LedgerEntry{Model: req.Model})
		return parley.ChatResponse{}, err
	}
	c.usage.recordSuccess(resp.Model, resp.Usage)
	c.appendLedger(ctx, LedgerEntry{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          c.usage.Cost(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Success:          true,
	})
	return resp, nil
}

func (c *Client) appendLedger(ctx context.Context, e LedgerEntry) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Append(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn("ledger append failed", "error", err)
	}
}

func (c *Client) chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: c.name, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return parley.ChatResponse{}, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: parley.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(wire.Choices) == 0 {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: c.name, Message: "response contains no choices"}
	}

	c.logger.Debug("chat completion",
		"model", wire.Model,
		"total_tokens", wire.Usage.TotalTokens,
		"duration", time.Since(start))

	return parley.ChatResponse{
		Content: wire.Choices[0].Message.Content,
		Model:   wire.Model,
		Usage: parley.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}, nil
}
