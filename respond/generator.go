// Package respond builds LLM prompts from conversation context,
// generates replies, and extracts actionable intents from them.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	parley "github.com/ostramo/parley"
)

// Conversation styles.
const (
	StyleHelpful      = "helpful"
	StyleCasual       = "casual"
	StyleProfessional = "professional"
)

// Config tunes prompt construction and generation.
type Config struct {
	Model              string
	Style              string
	MaxTokens          int
	Temperature        float64
	MaxContextMessages int
	ContextWindowHours float64
	Scoring            ScoringConfig
}

// DefaultConfig returns the standard generator settings.
func DefaultConfig() Config {
	return Config{
		Style:              StyleHelpful,
		MaxTokens:          800,
		Temperature:        0.7,
		MaxContextMessages: 8,
		ContextWindowHours: 24,
		Scoring:            DefaultScoring(),
	}
}

// Generator turns a query plus retrieved context into a reply and a set
// of parsed actions.
type Generator struct {
	provider parley.ChatProvider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// GeneratorLogger sets the logger. Defaults to a discarding logger.
func GeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// GeneratorClock overrides the time source, for tests.
func GeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a response generator over the given chat
// provider.
func NewGenerator(provider parley.ChatProvider, cfg Config, opts ...GeneratorOption) *Generator {
	if cfg.MaxContextMessages <= 0 {
		cfg.MaxContextMessages = 8
	}
	if cfg.ContextWindowHours <= 0 {
		cfg.ContextWindowHours = 24
	}
	if cfg.Scoring == (ScoringConfig{}) {
		cfg.Scoring = DefaultScoring()
	}
	g := &Generator{
		provider: provider,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request is one generation call.
type Request struct {
	Query    string
	Context  []parley.Record // candidate context, any order
	Channel  string
	UserID   string
	ThreadID string
}

// Result is the outcome of one generation call.
type Result struct {
	Reply        string          `json:"reply"`
	Actions      []parley.Action `json:"actions"`
	Model        string          `json:"model"`
	Tokens       int             `json:"tokens"`
	ResponseMS   int64           `json:"response_ms"`
	ContextCount int             `json:"context_count"`
}

// Generate builds the prompt, calls the model, and parses actions from
// the reply.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	now := g.now()
	messages := []parley.ChatMessage{parley.SystemMessage(g.systemPrompt(req, now))}

	contextLines := g.contextLines(req.Context, now)
	for _, line := range contextLines {
		messages = append(messages, parley.UserMessage(line))
	}
	messages = append(messages, parley.UserMessage(req.Query))

	start := now
	resp, err := g.provider.Chat(ctx, parley.ChatRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	elapsed := g.now().Sub(start).Milliseconds()

	actions := ParseActions(resp.Content, g.cfg.Scoring)
	g.logger.Debug("generated reply",
		"channel", req.Channel,
		"context_count", len(contextLines),
		"actions", len(actions),
		"tokens", resp.Usage.TotalTokens)

	return Result{
		Reply:        resp.Content,
		Actions:      actions,
		Model:        resp.Model,
		Tokens:       resp.Usage.TotalTokens,
		ResponseMS:   elapsed,
		ContextCount: len(contextLines),
	}, nil
}

// systemPrompt pins style, channel, time, user, and ground rules.
func (g *Generator) systemPrompt(req Request, now time.Time) string {
	var tone string
	switch g.cfg.Style {
	case StyleCasual:
		tone = "Keep the tone relaxed and conversational."
	case StyleProfessional:
		tone = "Keep the tone formal and precise."
	default:
		tone = "Be friendly and helpful."
	}

	var b strings.Builder
	b.WriteString("You are a team chat assistant. ")
	b.WriteString(tone)
	fmt.Fprintf(&b, "\nChannel: %s", req.Channel)
	fmt.Fprintf(&b, "\nCurrent time: %s", now.Format(time.RFC1123))
	fmt.Fprintf(&b, "\nYou are replying to user %s.", req.UserID)
	if req.ThreadID != "" {
		fmt.Fprintf(&b, "\nThread: %s", req.ThreadID)
	}
	b.WriteString("\nRules: keep replies concise; surface actionable suggestions when appropriate; never repeat sensitive details from the context.")
	return b.String()
}

// contextLines renders the usable context records newest first, capped
// at MaxContextMessages and the context window.
func (g *Generator) contextLines(records []parley.Record, now time.Time) []string {
	cutoff := float64(now.Unix()) - g.cfg.ContextWindowHours*3600

	usable := make([]parley.Record, 0, len(records))
	for _, rec := range records {
		if rec.Meta.Text() == "" {
			continue
		}
		if ts := rec.Meta.Timestamp(); ts > 0 && ts < cutoff {
			continue
		}
		usable = append(usable, rec)
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Meta.Timestamp() > usable[j].Meta.Timestamp()
	})
	if len(usable) > g.cfg.MaxContextMessages {
		usable = usable[:g.cfg.MaxContextMessages]
	}

	lines := make([]string, 0, len(usable))
	for _, rec := range usable {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			relativeTime(rec.Meta.Timestamp(), now), rec.Meta.UserID(), rec.Meta.Text()))
	}
	return lines
}

// relativeTime renders a timestamp as a coarse age label.
func relativeTime(ts float64, now time.Time) string {
	if ts <= 0 {
		return "recently"
	}
	age := now.Sub(time.Unix(int64(ts), 0))
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// Summarise condenses the records into at most maxChars characters
// using a low-temperature completion.
func (g *Generator) Summarise(ctx context.Context, records []parley.Record, maxChars int) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarise the following conversation in at most %d characters. Capture decisions and open questions.\n\n", maxChars)
	for _, rec := range records {
		fmt.Fprintf(&b, "%s: %s\n", rec.Meta.UserID(), rec.Meta.Text())
	}

	resp, err := g.provider.Chat(ctx, parley.ChatRequest{
		Model:       g.cfg.Model,
		Messages:    []parley.ChatMessage{parley.UserMessage(b.String())},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}

	summary := resp.Content
	if maxChars > 0 && len(summary) > maxChars {
		summary = summary[:maxChars]
	}
	return summary, nil
}
