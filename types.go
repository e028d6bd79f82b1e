package parley

import "fmt"

// --- Stored message model ---

// Metadata is the per-record metadata mapping. Values are restricted to
// string, numeric, and boolean scalars; the store rejects anything else
// at insert time. Recognised keys are accessed through the typed getters;
// everything else rides along as opaque extras.
type Metadata map[string]any

// Recognised metadata keys.
const (
	MetaText            = "text"
	MetaUserID          = "user_id"
	MetaChannel         = "channel"
	MetaTimestamp       = "timestamp"
	MetaThreadID        = "thread_id"
	MetaEmbeddingMethod = "embedding_method"
	MetaPrivacyLevel    = "privacy_level"
	MetaSourceURL       = "source_url"
)

// Text returns the message text, or "".
func (m Metadata) Text() string { return m.str(MetaText) }

// UserID returns the author id, or "".
func (m Metadata) UserID() string { return m.str(MetaUserID) }

// Channel returns the channel id, or "".
func (m Metadata) Channel() string { return m.str(MetaChannel) }

// ThreadID returns the thread id, or "".
func (m Metadata) ThreadID() string { return m.str(MetaThreadID) }

// Timestamp returns the message time as Unix seconds, or 0.
// Numeric JSON values decode as float64; both forms are accepted.
func (m Metadata) Timestamp() float64 {
	switch v := m[MetaTimestamp].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (m Metadata) str(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ValidateScalars rejects metadata values that are not string, numeric,
// or boolean scalars. Nested maps and slices never reach the codec.
func (m Metadata) ValidateScalars() error {
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, int64, float64, float32:
		default:
			return fmt.Errorf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// Record is one indexed chat message: an embedding plus its metadata.
// Records are created on ingest, never mutated, and deleted only by an
// explicit purge.
type Record struct {
	ID     string
	Vector []float32
	Meta   Metadata
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature,omitempty"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// --- Inbound chat events ---

// Event is the minimum chat event shape the orchestrator consumes.
// Events with BotID set or any Subtype are ignored.
type Event struct {
	Type     string `json:"type"` // "message" or "app_mention"
	Text     string `json:"text"`
	User     string `json:"user"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
}

// --- Actions ---

// Action is a classified intent extracted from an LLM reply.
type Action struct {
	Type       string  `json:"type"`    // create, update, delete, search, help, schedule
	Keyword    string  `json:"keyword"` // the matched keyword
	Context    string  `json:"context"` // ±50-char window around the match
	Confidence float64 `json:"confidence"`
}
