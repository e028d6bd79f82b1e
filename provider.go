package parley

import "context"

// ChatProvider abstracts the LLM backend.
type ChatProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// Sender delivers outbound chat messages. The transport implements it;
// the orchestrator holds it as a callback so no component needs a
// back-reference to the transport.
type Sender interface {
	Send(ctx context.Context, channel, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, channel, text string) error

func (f SenderFunc) Send(ctx context.Context, channel, text string) error {
	return f(ctx, channel, text)
}
