package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	parley "github.com/ostramo/parley"
)

// External is an HTTP client for an OpenAI-compatible embeddings
// endpoint. There is no default endpoint: deployments that route
// anything externally must configure one explicitly.
type External struct {
	endpoint   string
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

var _ parley.EmbeddingProvider = (*External)(nil)

// ExternalOption configures an External client.
type ExternalOption func(*External)

// ExternalHTTPClient replaces the HTTP client, typically for tests.
func ExternalHTTPClient(c *http.Client) ExternalOption {
	return func(e *External) { e.httpClient = c }
}

// NewExternal creates an external embedding client for the given
// endpoint (the full embeddings URL) and model.
func NewExternal(endpoint, apiKey, model string, dims int, opts ...ExternalOption) (*External, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("external embedder: endpoint is required")
	}
	e := &External{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns "external".
func (e *External) Name() string { return "external" }

// Dimensions returns the configured embedding dimensionality.
func (e *External) Dimensions() int { return e.dims }

type externalRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type externalResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends all texts in a single request and returns one vector per
// input, in order.
func (e *External) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(externalRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, &parley.ErrLLM{Provider: "external", Message: "marshal embed body: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &parley.ErrLLM{Provider: "external", Message: "create embed request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &parley.ErrLLM{Provider: "external", Message: "embed request failed: " + err.Error()}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &parley.ErrLLM{Provider: "external", Message: "failed to read embed response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: parley.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed externalResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &parley.ErrLLM{Provider: "external", Message: "failed to parse embed response: " + err.Error()}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &parley.ErrLLM{
			Provider: "external",
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)),
		}
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
