package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	parley "github.com/ostramo/parley"
)

// DefaultAPIBase is the chat service's REST API base URL.
const DefaultAPIBase = "https://slack.com/api"

// Client is the REST side of the transport: Socket Mode URL acquisition
// and message sending.
type Client struct {
	apiBase    string
	botToken   string
	appToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ parley.Sender = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIBase overrides the REST base URL, typically for tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = base }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a REST client. botToken authorises message sends,
// appToken authorises Socket Mode connection requests.
func NewClient(botToken, appToken string, opts ...ClientOption) *Client {
	c := &Client{
		apiBase:    DefaultAPIBase,
		botToken:   botToken,
		appToken:   appToken,
		httpClient: &http.Client{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type connectionsOpenResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ConnectionsOpen requests a fresh Socket Mode WebSocket URL.
func (c *Client) ConnectionsOpen(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/apps.connections.open", nil)
	if err != nil {
		return "", fmt.Errorf("connections.open: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.appToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("connections.open: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &parley.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed connectionsOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("connections.open: decode: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("connections.open: service error: %s", parsed.Error)
	}
	return parsed.URL, nil
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	AsUser  bool   `json:"as_user"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage sends text to a channel verbatim. Failures are returned,
// not retried; the caller decides whether they matter.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	payload, err := json.Marshal(postMessageRequest{Channel: channel, Text: text, AsUser: true})
	if err != nil {
		return fmt.Errorf("chat.postMessage: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &parley.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("chat.postMessage: decode: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("chat.postMessage: service error: %s", parsed.Error)
	}
	return nil
}

// Send renders text from Markdown to mrkdwn and posts it. It satisfies
// parley.Sender for the orchestrator.
func (c *Client) Send(ctx context.Context, channel, text string) error {
	return c.PostMessage(ctx, channel, ToMrkdwn(text))
}
