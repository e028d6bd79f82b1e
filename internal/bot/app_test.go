package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/embed"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/memory"
	"github.com/ostramo/parley/respond"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/store/badger"
	"github.com/ostramo/parley/vectordb"
)

type recordingSender struct {
	mu    sync.Mutex
	sends []struct{ Channel, Text string }
}

func (s *recordingSender) Send(_ context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, struct{ Channel, Text string }{channel, text})
	return nil
}

func (s *recordingSender) all() []struct{ Channel, Text string } {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]struct{ Channel, Text string }(nil), s.sends...)
}

type scriptedProvider struct {
	reply    string
	requests []parley.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	p.requests = append(p.requests, req)
	return parley.ChatResponse{Content: p.reply, Model: req.Model,
		Usage: parley.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type fixture struct {
	app      *App
	db       *vectordb.DB
	router   *embed.Router
	sender   *recordingSender
	provider *scriptedProvider
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	db := vectordb.New(store.New(backend), vectordb.WithLSH(index.LSHConfig{Seed: 7}))
	t.Cleanup(func() { db.Close() })

	router, err := embed.NewRouter(embed.PrivacyHigh, embed.RouterSeed(7))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	provider := &scriptedProvider{reply: "All systems are green."}
	genCfg := respond.DefaultConfig()
	genCfg.Model = "test-model"
	clock := func() time.Time { return time.Unix(400, 0) }
	gen := respond.NewGenerator(provider, genCfg, respond.GeneratorClock(clock))

	sender := &recordingSender{}
	app := New(cfg, db, router, memory.NewRecency(0), gen, sender, WithClock(clock))
	return &fixture{app: app, db: db, router: router, sender: sender, provider: provider}
}

func messageEvent(text, ts string) parley.Event {
	return parley.Event{Type: "message", Text: text, User: "U1", Channel: "C1", TS: ts}
}

func TestIngestStoresRecord(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT"})
	ctx := context.Background()

	f.app.HandleEvent(ctx, messageEvent("hello team", "100.0"))

	if n, _ := f.db.Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	rec, err := f.db.Get(ctx, "chat_100.0_C1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	method := rec.Meta[parley.MetaEmbeddingMethod]
	if method != embed.MethodTFIDF && method != embed.MethodSimple {
		t.Errorf("embedding_method = %v", method)
	}
	if rec.Meta[parley.MetaPrivacyLevel] != embed.PrivacyHigh {
		t.Errorf("privacy_level = %v", rec.Meta[parley.MetaPrivacyLevel])
	}
	if rec.Meta.Text() != "hello team" || rec.Meta.Timestamp() != 100 {
		t.Errorf("meta = %+v", rec.Meta)
	}
	if stats := f.router.Stats(); stats.External != 0 {
		t.Errorf("external embeds = %d, want 0", stats.External)
	}
	if got := f.app.Stats().MessagesIngested; got != 1 {
		t.Errorf("MessagesIngested = %d", got)
	}
}

func TestEventFiltering(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ev   parley.Event
	}{
		{"bot authored", Config{}, parley.Event{Type: "message", Text: "hi", Channel: "C1", TS: "1.0", BotID: "B1"}},
		{"subtyped", Config{}, parley.Event{Type: "message", Text: "hi", Channel: "C1", TS: "1.0", Subtype: "message_changed"}},
		{"outside whitelist", Config{ChannelWhitelist: []string{"C2"}}, messageEvent("hi", "1.0")},
		{"unknown type", Config{}, parley.Event{Type: "reaction_added", Channel: "C1", TS: "1.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			f.app.HandleEvent(context.Background(), tt.ev)
			if n, _ := f.db.Count(context.Background()); n != 0 {
				t.Errorf("Count = %d, want 0", n)
			}
			if got := f.app.Stats().EventsSkipped; got != 1 {
				t.Errorf("EventsSkipped = %d, want 1", got)
			}
		})
	}
}

func TestEmptyWhitelistMeansAllChannels(t *testing.T) {
	f := newFixture(t, Config{})
	f.app.HandleEvent(context.Background(), messageEvent("open channel", "1.0"))
	if n, _ := f.db.Count(context.Background()); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestMentionGeneratesResponse(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT", AutoRespondToMentions: true})
	ctx := context.Background()

	seed := []struct{ text, ts string }{
		{"deploy tomorrow", "100"},
		{"tests passing", "200"},
		{"db migration done", "300"},
	}
	for _, m := range seed {
		f.app.HandleEvent(ctx, messageEvent(m.text, m.ts))
	}

	f.app.HandleEvent(ctx, parley.Event{
		Type: "app_mention", Text: "<@UBOT> status?", User: "U2", Channel: "C1", TS: "400",
	})

	sends := f.sender.all()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].Channel != "C1" || sends[0].Text == "" {
		t.Errorf("send = %+v", sends[0])
	}

	if len(f.provider.requests) != 1 {
		t.Fatalf("LLM requests = %d", len(f.provider.requests))
	}
	msgs := f.provider.requests[0].Messages
	// 1 system + up to 3 context + 1 user query.
	if len(msgs) < 2 || len(msgs) > 5 {
		t.Errorf("message count = %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first role = %q", msgs[0].Role)
	}
	if last := msgs[len(msgs)-1]; last.Role != "user" || last.Content != "status?" {
		t.Errorf("query message = %+v", last)
	}

	if got := f.app.Stats().AIResponsesGenerated; got != 1 {
		t.Errorf("AIResponsesGenerated = %d", got)
	}
}

func TestMentionContextIsNewestFirstAndCapped(t *testing.T) {
	cfg := Config{BotUserID: "UBOT", AutoRespondToMentions: true, MaxContextMessages: 2}
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		f.app.HandleEvent(ctx, messageEvent(fmt.Sprintf("update number %d", i), fmt.Sprintf("%d00", i)))
	}
	f.app.HandleEvent(ctx, parley.Event{
		Type: "app_mention", Text: "<@UBOT> any updates?", User: "U2", Channel: "C1", TS: "500",
	})

	if len(f.provider.requests) != 1 {
		t.Fatalf("LLM requests = %d", len(f.provider.requests))
	}
	msgs := f.provider.requests[0].Messages
	var prompt strings.Builder
	for _, m := range msgs[1 : len(msgs)-1] {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}
	// The two newest messages survive the cap; the oldest two do not.
	joined := prompt.String()
	if !strings.Contains(joined, "update number 4") || !strings.Contains(joined, "update number 3") {
		t.Errorf("newest context missing:\n%s", joined)
	}
	if strings.Contains(joined, "update number 1") {
		t.Errorf("capped context leaked:\n%s", joined)
	}
}

func TestOverflowContextSummarised(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT", AutoRespondToMentions: true, MaxContextMessages: 2, ConversationSummary: true})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		f.app.HandleEvent(ctx, messageEvent(fmt.Sprintf("update number %d", i), fmt.Sprintf("%d00", i)))
	}
	f.app.HandleEvent(ctx, parley.Event{
		Type: "app_mention", Text: "<@UBOT> any updates?", User: "U2", Channel: "C1", TS: "500",
	})

	// First LLM call compacts the overflow, second generates the reply.
	if len(f.provider.requests) != 2 {
		t.Fatalf("LLM requests = %d, want 2", len(f.provider.requests))
	}
	summariseReq := f.provider.requests[0]
	if len(summariseReq.Messages) != 1 || !strings.Contains(summariseReq.Messages[0].Content, "Summarise") {
		t.Errorf("summarise request = %+v", summariseReq.Messages)
	}
	if summariseReq.Temperature != 0.3 {
		t.Errorf("summarise temperature = %v", summariseReq.Temperature)
	}

	msgs := f.provider.requests[1].Messages
	var prompt strings.Builder
	for _, m := range msgs[1 : len(msgs)-1] {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}
	joined := prompt.String()
	if !strings.Contains(joined, "Earlier conversation summary: All systems are green.") {
		t.Errorf("summary line missing:\n%s", joined)
	}
	if !strings.Contains(joined, "update number 4") {
		t.Errorf("newest context missing:\n%s", joined)
	}
}

func TestAutoRespondDisabledSkipsAppMentions(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT"})

	f.app.HandleEvent(context.Background(), parley.Event{
		Type: "app_mention", Text: "<@UBOT> status?", User: "U1", Channel: "C1", TS: "1.0",
	})

	if sends := f.sender.all(); len(sends) != 0 {
		t.Errorf("sends = %d, want 0", len(sends))
	}
	if len(f.provider.requests) != 0 {
		t.Errorf("LLM requests = %d, want 0", len(f.provider.requests))
	}
	if got := f.app.Stats().EventsSkipped; got != 1 {
		t.Errorf("EventsSkipped = %d, want 1", got)
	}
}

func TestEmptyQueryDropped(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT", AutoRespondToMentions: true, MentionKeywords: []string{"hey bot"}})
	ctx := context.Background()

	for _, text := range []string{"<@UBOT>", "<@UBOT> hey bot,"} {
		f.app.HandleEvent(ctx, parley.Event{Type: "app_mention", Text: text, User: "U1", Channel: "C1", TS: "1.0"})
	}
	if sends := f.sender.all(); len(sends) != 0 {
		t.Errorf("sends = %d, want 0", len(sends))
	}
	if len(f.provider.requests) != 0 {
		t.Errorf("LLM requests = %d, want 0", len(f.provider.requests))
	}
}

func TestKeywordTriggersResponseOnPlainMessage(t *testing.T) {
	f := newFixture(t, Config{
		BotUserID:             "UBOT",
		MentionKeywords:       []string{"hey bot"},
		AutoRespondToMentions: true,
	})
	ctx := context.Background()

	f.app.HandleEvent(ctx, messageEvent("hey bot, what shipped today?", "100.0"))

	// Ingested as a message and answered as a mention.
	if n, _ := f.db.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if sends := f.sender.all(); len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if len(f.provider.requests) != 1 {
		t.Fatalf("LLM requests = %d", len(f.provider.requests))
	}
	if last := f.provider.requests[0].Messages[len(f.provider.requests[0].Messages)-1]; last.Content != "what shipped today?" {
		t.Errorf("query = %q", last.Content)
	}
}

func TestActionDispatchAndConfirmation(t *testing.T) {
	f := newFixture(t, Config{
		BotUserID:             "UBOT",
		AutoRespondToMentions: true,
		ActionsEnabled:        true,
		ActionConfirmation:    true,
	})
	f.provider.reply = "I can help: let me create a ticket"

	var handled []parley.Action
	f.app.RegisterAction("create", func(_ context.Context, action parley.Action, _ parley.Event) error {
		handled = append(handled, action)
		return nil
	})

	f.app.HandleEvent(context.Background(), parley.Event{
		Type: "app_mention", Text: "<@UBOT> file a ticket please", User: "U1", Channel: "C1", TS: "1.0",
	})

	if len(handled) != 1 {
		t.Fatalf("handled actions = %d, want 1", len(handled))
	}
	if handled[0].Type != "create" || handled[0].Confidence < 0.8 {
		t.Errorf("action = %+v", handled[0])
	}

	sends := f.sender.all()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want reply + confirmation", len(sends))
	}
	if !strings.HasPrefix(sends[1].Text, confirmationPrefix) {
		t.Errorf("confirmation = %q", sends[1].Text)
	}
	if got := f.app.Stats().ActionsDispatched; got != 1 {
		t.Errorf("ActionsDispatched = %d", got)
	}
}

func TestLowConfidenceActionsNotDispatched(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT", AutoRespondToMentions: true, ActionsEnabled: true, ActionConfirmation: true})
	// "might" pulls create below the dispatch threshold.
	f.provider.reply = "I might create something later"

	called := false
	f.app.RegisterAction("create", func(context.Context, parley.Action, parley.Event) error {
		called = true
		return nil
	})
	f.app.HandleEvent(context.Background(), parley.Event{
		Type: "app_mention", Text: "<@UBOT> thoughts?", User: "U1", Channel: "C1", TS: "1.0",
	})

	if called {
		t.Error("low-confidence action dispatched")
	}
	if sends := f.sender.all(); len(sends) != 1 {
		t.Errorf("sends = %d, want reply only", len(sends))
	}
}

func TestStatsHandler(t *testing.T) {
	f := newFixture(t, Config{BotUserID: "UBOT"})
	f.app.HandleEvent(context.Background(), messageEvent("hello", "1.0"))

	h := NewStatsHandler(StatsSources{App: f.app, Router: f.router, DB: f.db})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Bot     *Stats `json:"bot"`
		Privacy *struct {
			Level           string  `json:"level"`
			Total           int64   `json:"total_requests"`
			ComplianceScore float64 `json:"compliance_score"`
		} `json:"privacy"`
		DB *struct {
			Records int `json:"records"`
		} `json:"db"`
		Transport any `json:"transport"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Bot == nil || body.Bot.MessagesIngested != 1 {
		t.Errorf("bot stats = %+v", body.Bot)
	}
	if body.Privacy == nil || body.Privacy.Level != embed.PrivacyHigh || body.Privacy.Total != 1 {
		t.Errorf("privacy stats = %+v", body.Privacy)
	}
	if body.DB == nil || body.DB.Records != 1 {
		t.Errorf("db stats = %+v", body.DB)
	}
	if body.Transport != nil {
		t.Errorf("transport should be omitted when no socket is wired")
	}

	health, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != 200 {
		t.Errorf("healthz status = %d", health.StatusCode)
	}

	rebuild, err := srv.Client().Post(srv.URL+"/admin/rebuild", "", nil)
	if err != nil {
		t.Fatalf("POST /admin/rebuild: %v", err)
	}
	rebuild.Body.Close()
	if rebuild.StatusCode != 200 {
		t.Errorf("rebuild status = %d", rebuild.StatusCode)
	}
}
