// Package parley is a team-chat assistant bot with private semantic memory.
//
// It attaches to a chat workspace over Socket Mode, indexes every visible
// message into a local vector database, and answers mentions with
// context-aware replies from an LLM gateway.
//
// The root package defines the contracts and shared types that all
// components use:
//
//   - [ChatProvider]: LLM backend (chat completions)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Sender]: outbound chat message delivery
//   - [Record], [Metadata]: the stored message model
//
// # Included Implementations
//
// LLM: llm (OpenAI-compatible chat completions with retry and usage
// accounting). Embedding: embed (privacy-tiered router over a local
// TF-IDF / word-vector embedder and an external HTTP embedder).
// Storage: store/badger (local), store/postgres (shared); both plug into
// the vectordb facade with LSH and metadata indexes.
// Transport: slack (Socket Mode WebSocket plus REST send).
//
// See cmd/parleyd for the complete wired application.
package parley
