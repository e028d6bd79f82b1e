// Package config loads the bot configuration: defaults, then a TOML
// file, then environment variables (env wins). Validation failures
// abort startup; there is no partial-config mode.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	parley "github.com/ostramo/parley"
)

type Config struct {
	Chat      ChatConfig      `toml:"chat"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Privacy   PrivacyConfig   `toml:"privacy"`
	AI        AIConfig        `toml:"ai"`
	Actions   ActionsConfig   `toml:"actions"`
	Response  ResponseConfig  `toml:"response"`
	Transport TransportConfig `toml:"transport"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ChatConfig struct {
	BotToken         string   `toml:"chat_bot_token"`
	AppToken         string   `toml:"chat_app_token"`
	BotUserID        string   `toml:"bot_user_id"`
	ChannelWhitelist []string `toml:"channel_whitelist"`
}

type LLMConfig struct {
	APIKey  string `toml:"llm_api_key"`
	Model   string `toml:"llm_model"`
	BaseURL string `toml:"llm_base_url"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
	// PostgresURL switches the vector store to the PostgreSQL backend
	// when set; DBPath then only hosts the LLM usage ledger.
	PostgresURL string `toml:"postgres_url"`
}

type PrivacyConfig struct {
	Level            string `toml:"privacy_level"`
	UseEnterpriseZDR bool   `toml:"use_enterprise_zdr"`
	EmbedEndpoint    string `toml:"embed_endpoint"`
	EmbedAPIKey      string `toml:"embed_api_key"`
	EmbedModel       string `toml:"embed_model"`
	EmbedDimensions  int    `toml:"embed_dimensions"`
}

type AIConfig struct {
	Enabled             bool    `toml:"ai_enabled"`
	ResponseMaxTokens   int     `toml:"ai_response_max_tokens"`
	Temperature         float64 `toml:"ai_temperature"`
	ConversationStyle   string  `toml:"conversation_style"`
	MaxContextMessages  int     `toml:"max_context_messages"`
	ContextWindowHours  float64 `toml:"context_window_hours"`
	ConversationSummary bool    `toml:"enable_conversation_summary"`
}

type ActionsConfig struct {
	Enabled              bool `toml:"enable_actions"`
	ConfirmationRequired bool `toml:"action_confirmation_required"`
}

type ResponseConfig struct {
	AutoRespondToMentions bool     `toml:"auto_respond_to_mentions"`
	DelayMS               int      `toml:"response_delay_ms"`
	MentionKeywords       []string `toml:"mention_keywords"`
}

type TransportConfig struct {
	PingIntervalS     int `toml:"socket_ping_interval_s"`
	ReconnectAttempts int `toml:"socket_reconnect_attempts"`
	ReconnectDelayS   int `toml:"socket_reconnect_delay_s"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:     LLMConfig{Model: "anthropic/claude-3.5-sonnet"},
		Storage: StorageConfig{DBPath: "./data/bot.db"},
		Privacy: PrivacyConfig{Level: "high", EmbedDimensions: 1536},
		AI: AIConfig{
			Enabled:             true,
			ResponseMaxTokens:   800,
			Temperature:         0.7,
			ConversationStyle:   "helpful",
			MaxContextMessages:  8,
			ContextWindowHours:  24,
			ConversationSummary: true,
		},
		Actions: ActionsConfig{Enabled: true, ConfirmationRequired: true},
		Response: ResponseConfig{
			AutoRespondToMentions: true,
			DelayMS:               1000,
		},
		Transport: TransportConfig{
			PingIntervalS:     30,
			ReconnectAttempts: 5,
			ReconnectDelayS:   5,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "parley.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("PARLEY_CHAT_BOT_TOKEN"); v != "" {
		cfg.Chat.BotToken = v
	}
	if v := os.Getenv("PARLEY_CHAT_APP_TOKEN"); v != "" {
		cfg.Chat.AppToken = v
	}
	if v := os.Getenv("PARLEY_BOT_USER_ID"); v != "" {
		cfg.Chat.BotUserID = v
	}
	if v := os.Getenv("PARLEY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PARLEY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PARLEY_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("PARLEY_PRIVACY_LEVEL"); v != "" {
		cfg.Privacy.Level = v
	}
	if v := os.Getenv("PARLEY_EMBED_ENDPOINT"); v != "" {
		cfg.Privacy.EmbedEndpoint = v
	}
	if v := os.Getenv("PARLEY_EMBED_API_KEY"); v != "" {
		cfg.Privacy.EmbedAPIKey = v
	}
	if v := os.Getenv("PARLEY_CHANNEL_WHITELIST"); v != "" {
		cfg.Chat.ChannelWhitelist = splitList(v)
	}
	if v := os.Getenv("PARLEY_AI_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AI.Enabled = b
		}
	}
	return cfg
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration. Any error aborts startup.
func (c Config) Validate() error {
	if c.Chat.BotToken == "" {
		return &parley.ErrConfig{Field: "chat_bot_token", Reason: "required"}
	}
	if c.Chat.AppToken == "" {
		return &parley.ErrConfig{Field: "chat_app_token", Reason: "required for Socket Mode"}
	}
	if c.Chat.BotUserID == "" {
		return &parley.ErrConfig{Field: "bot_user_id", Reason: "required"}
	}

	switch c.Privacy.Level {
	case "high", "medium", "low":
	default:
		return &parley.ErrConfig{Field: "privacy_level", Reason: "must be high, medium, or low"}
	}
	if c.Privacy.Level != "high" && c.Privacy.EmbedEndpoint == "" {
		return &parley.ErrConfig{Field: "embed_endpoint", Reason: "required when privacy_level permits external embedding"}
	}

	if c.AI.Enabled {
		if c.LLM.APIKey == "" {
			return &parley.ErrConfig{Field: "llm_api_key", Reason: "required when ai_enabled"}
		}
		if c.LLM.BaseURL == "" {
			return &parley.ErrConfig{Field: "llm_base_url", Reason: "required when ai_enabled"}
		}
		if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
			return &parley.ErrConfig{Field: "ai_temperature", Reason: "must be in [0, 2]"}
		}
	}

	switch c.AI.ConversationStyle {
	case "helpful", "casual", "professional":
	default:
		return &parley.ErrConfig{Field: "conversation_style", Reason: "must be helpful, casual, or professional"}
	}

	if c.Transport.PingIntervalS <= 0 {
		return &parley.ErrConfig{Field: "socket_ping_interval_s", Reason: "must be positive"}
	}
	if c.Transport.ReconnectAttempts <= 0 {
		return &parley.ErrConfig{Field: "socket_reconnect_attempts", Reason: "must be positive"}
	}
	return nil
}
