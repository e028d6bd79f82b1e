// Package bot wires the pipeline together: inbound chat events flow in
// from the transport, get embedded and indexed, and mentions come back
// out as LLM-generated replies. The App owns the vector DB, the privacy
// router, the recency buffer, and the response generator; the transport
// is reached only through the injected Sender callback.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/embed"
	"github.com/ostramo/parley/enrich"
	"github.com/ostramo/parley/memory"
	"github.com/ostramo/parley/respond"
	"github.com/ostramo/parley/slack"
	"github.com/ostramo/parley/vectordb"
)

// DefaultActionThreshold is the minimum confidence at which a parsed
// action is dispatched to its handler.
const DefaultActionThreshold = 0.7

// confirmationPrefix starts every action confirmation follow-up.
const confirmationPrefix = "Actions detected"

// summaryMaxChars bounds the compacted-context summary length.
const summaryMaxChars = 600

// Config carries the orchestration knobs. Zero values are filled with
// defaults by New.
type Config struct {
	BotUserID             string
	ChannelWhitelist      []string
	MentionKeywords       []string
	AutoRespondToMentions bool
	ResponseDelay         time.Duration
	MaxContextMessages    int
	ContextWindowHours    float64
	ActionsEnabled        bool
	ActionConfirmation    bool
	ActionThreshold       float64
	// ConversationSummary compacts context that overflows the cap into
	// a single LLM-generated summary line instead of dropping it.
	ConversationSummary bool
}

// ActionHandler executes one classified action. Handlers run on the
// event's goroutine; returning an error only logs it.
type ActionHandler func(ctx context.Context, action parley.Action, ev parley.Event) error

// App is the orchestrator. It implements slack.EventHandler.
type App struct {
	cfg      Config
	db       *vectordb.DB
	router   *embed.Router
	recency  *memory.Recency
	gen      *respond.Generator
	sender   parley.Sender
	enricher *enrich.Enricher
	logger   *slog.Logger
	now      func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]ActionHandler

	// sendMu serialises outbound sends so replies and their
	// confirmation follow-ups keep issue order.
	sendMu sync.Mutex

	messagesIngested     atomic.Int64
	mentionsHandled      atomic.Int64
	aiResponsesGenerated atomic.Int64
	actionsDispatched    atomic.Int64
	eventsSkipped        atomic.Int64
	errorCount           atomic.Int64
}

var _ slack.EventHandler = (*App)(nil)

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithEnricher enables background link ingestion for inbound messages.
func WithEnricher(e *enrich.Enricher) Option {
	return func(a *App) { a.enricher = e }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New assembles the orchestrator from its already-constructed parts.
func New(cfg Config, db *vectordb.DB, router *embed.Router, recency *memory.Recency, gen *respond.Generator, sender parley.Sender, opts ...Option) *App {
	if cfg.MaxContextMessages <= 0 {
		cfg.MaxContextMessages = 8
	}
	if cfg.ContextWindowHours <= 0 {
		cfg.ContextWindowHours = 24
	}
	if cfg.ActionThreshold <= 0 {
		cfg.ActionThreshold = DefaultActionThreshold
	}
	a := &App{
		cfg:      cfg,
		db:       db,
		router:   router,
		recency:  recency,
		gen:      gen,
		sender:   sender,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		handlers: make(map[string]ActionHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterAction installs the handler for one action type. Registering
// the same type twice replaces the handler.
func (a *App) RegisterAction(actionType string, h ActionHandler) {
	a.handlersMu.Lock()
	a.handlers[actionType] = h
	a.handlersMu.Unlock()
}

// HandleEvent routes one inbound chat event. Bot-authored and subtyped
// events are dropped, as is anything outside the channel whitelist.
func (a *App) HandleEvent(ctx context.Context, ev parley.Event) {
	if ev.BotID != "" || ev.Subtype != "" {
		a.eventsSkipped.Add(1)
		return
	}
	if !a.channelAllowed(ev.Channel) {
		a.eventsSkipped.Add(1)
		return
	}

	switch ev.Type {
	case "message":
		a.ingest(ctx, ev)
		if a.cfg.AutoRespondToMentions && a.addressed(ev.Text) {
			a.respond(ctx, ev)
		}
	case "app_mention":
		// The same flag gates both mention paths.
		if !a.cfg.AutoRespondToMentions {
			a.eventsSkipped.Add(1)
			return
		}
		a.respond(ctx, ev)
	default:
		a.eventsSkipped.Add(1)
	}
}

// channelAllowed applies the whitelist. Empty whitelist means all
// channels, never none.
func (a *App) channelAllowed(channel string) bool {
	if len(a.cfg.ChannelWhitelist) == 0 {
		return true
	}
	for _, c := range a.cfg.ChannelWhitelist {
		if c == channel {
			return true
		}
	}
	return false
}

// ingest embeds one message, stores it, and pushes it into the recency
// buffer. Link enrichment runs in the background when configured.
func (a *App) ingest(ctx context.Context, ev parley.Event) {
	if strings.TrimSpace(ev.Text) == "" {
		a.eventsSkipped.Add(1)
		return
	}

	vec, method, err := a.router.Embed(ctx, ev.Text)
	if err != nil {
		a.errorCount.Add(1)
		a.logger.Error("ingest embed failed", "channel", ev.Channel, "error", err)
		return
	}

	meta := parley.Metadata{
		parley.MetaText:            ev.Text,
		parley.MetaUserID:          ev.User,
		parley.MetaChannel:         ev.Channel,
		parley.MetaTimestamp:       parley.ParseTS(ev.TS),
		parley.MetaEmbeddingMethod: method,
		parley.MetaPrivacyLevel:    a.router.Level(),
	}
	if ev.ThreadTS != "" {
		meta[parley.MetaThreadID] = ev.ThreadTS
	}

	id := parley.MessageID(ev.TS, ev.Channel)
	if err := a.db.Insert(ctx, id, vec, meta); err != nil {
		a.errorCount.Add(1)
		a.logger.Error("ingest insert failed", "id", id, "error", err)
		return
	}
	a.recency.Record(ev.Channel, parley.Record{ID: id, Vector: vec, Meta: meta})
	a.messagesIngested.Add(1)
	a.logger.Debug("message ingested", "id", id, "method", method)

	if a.enricher != nil {
		go a.enricher.ProcessMessage(context.WithoutCancel(ctx), ev)
	}
}

// respond runs the mention flow: query extraction, context recall,
// generation, delivery, action dispatch.
func (a *App) respond(ctx context.Context, ev parley.Event) {
	// No generator means AI responses are disabled; ingest still runs.
	if a.gen == nil {
		a.eventsSkipped.Add(1)
		return
	}
	a.mentionsHandled.Add(1)

	query := a.stripMention(ev.Text)
	if query == "" {
		a.eventsSkipped.Add(1)
		return
	}

	records := a.recallContext(ctx, ev.Channel, query)

	result, err := a.gen.Generate(ctx, respond.Request{
		Query:    query,
		Context:  records,
		Channel:  ev.Channel,
		UserID:   ev.User,
		ThreadID: ev.ThreadTS,
	})
	if err != nil {
		a.errorCount.Add(1)
		a.logger.Error("response generation failed", "channel", ev.Channel, "error", err)
		return
	}

	if a.cfg.ResponseDelay > 0 {
		select {
		case <-time.After(a.cfg.ResponseDelay):
		case <-ctx.Done():
			return
		}
	}

	if err := a.send(ctx, ev.Channel, result.Reply); err != nil {
		a.errorCount.Add(1)
		a.logger.Error("reply send failed", "channel", ev.Channel, "error", err)
		return
	}
	a.aiResponsesGenerated.Add(1)
	a.logger.Info("reply sent", "channel", ev.Channel,
		"context", result.ContextCount, "actions", len(result.Actions), "ms", result.ResponseMS)

	if a.cfg.ActionsEnabled {
		a.dispatchActions(ctx, ev, result.Actions)
	}
}

// recallContext merges vector search hits with the channel's recency
// buffer, deduplicated by id, newest first, capped at the context limit.
func (a *App) recallContext(ctx context.Context, channel, query string) []parley.Record {
	var records []parley.Record
	seen := make(map[string]bool)

	vec, _, err := a.router.Embed(ctx, query)
	if err != nil {
		a.errorCount.Add(1)
		a.logger.Warn("query embed failed, using recency only", "error", err)
	} else {
		cutoff := float64(a.now().Unix()) - a.cfg.ContextWindowHours*3600
		results, err := a.db.Search(ctx, vectordb.SearchQuery{
			Vector: vec,
			Limit:  a.cfg.MaxContextMessages,
			Filters: map[string]any{
				parley.MetaChannel: channel,
				"timestamp_after":  cutoff,
			},
		})
		if err != nil {
			a.errorCount.Add(1)
			a.logger.Warn("context search failed, using recency only", "error", err)
		}
		for _, r := range results {
			if !seen[r.ID] {
				seen[r.ID] = true
				records = append(records, parley.Record{ID: r.ID, Meta: r.Meta})
			}
		}
	}

	for _, rec := range a.recency.Recent(channel) {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			records = append(records, rec)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Meta.Timestamp() > records[j].Meta.Timestamp()
	})
	if len(records) > a.cfg.MaxContextMessages {
		overflow := records[a.cfg.MaxContextMessages:]
		records = records[:a.cfg.MaxContextMessages]
		if a.cfg.ConversationSummary && a.gen != nil {
			if rec, ok := a.summariseOverflow(ctx, channel, overflow); ok {
				records[len(records)-1] = rec
			}
		}
	}
	return records
}

// summariseOverflow compacts the records that fell off the context cap
// into a single synthetic record, timestamped to sort oldest among the
// kept context.
func (a *App) summariseOverflow(ctx context.Context, channel string, overflow []parley.Record) (parley.Record, bool) {
	summary, err := a.gen.Summarise(ctx, overflow, summaryMaxChars)
	if err != nil {
		a.logger.Warn("context summary failed", "channel", channel, "error", err)
		return parley.Record{}, false
	}
	if summary == "" {
		return parley.Record{}, false
	}
	return parley.Record{
		ID: "summary_" + channel,
		Meta: parley.Metadata{
			parley.MetaText:      "Earlier conversation summary: " + summary,
			parley.MetaUserID:    "assistant",
			parley.MetaChannel:   channel,
			parley.MetaTimestamp: overflow[0].Meta.Timestamp(),
		},
	}, true
}

// stripMention removes the leading bot-mention token and any configured
// trigger keywords from the event text.
func (a *App) stripMention(text string) string {
	q := strings.TrimSpace(text)
	if a.cfg.BotUserID != "" {
		q = strings.TrimSpace(strings.TrimPrefix(q, "<@"+a.cfg.BotUserID+">"))
	}
	for _, kw := range a.cfg.MentionKeywords {
		if kw == "" {
			continue
		}
		if len(q) >= len(kw) && strings.EqualFold(q[:len(kw)], kw) {
			q = q[len(kw):]
		}
	}
	return strings.TrimSpace(strings.TrimLeft(q, ",:;!"))
}

// addressed reports whether a plain message event is directed at the
// bot, either by inline mention or by a configured trigger keyword.
func (a *App) addressed(text string) bool {
	if a.cfg.BotUserID != "" && strings.Contains(text, "<@"+a.cfg.BotUserID+">") {
		return true
	}
	trimmed := strings.TrimSpace(text)
	for _, kw := range a.cfg.MentionKeywords {
		if kw == "" {
			continue
		}
		if len(trimmed) >= len(kw) && strings.EqualFold(trimmed[:len(kw)], kw) {
			return true
		}
	}
	return false
}

// dispatchActions runs registered handlers for every action above the
// confidence threshold, then sends the confirmation follow-up when
// configured.
func (a *App) dispatchActions(ctx context.Context, ev parley.Event, actions []parley.Action) {
	var confirmed []parley.Action
	for _, action := range actions {
		if action.Confidence <= a.cfg.ActionThreshold {
			continue
		}
		confirmed = append(confirmed, action)

		a.handlersMu.RLock()
		handler := a.handlers[action.Type]
		a.handlersMu.RUnlock()
		if handler == nil {
			a.logger.Debug("no handler registered", "type", action.Type)
			continue
		}
		if err := handler(ctx, action, ev); err != nil {
			a.errorCount.Add(1)
			a.logger.Error("action handler failed", "type", action.Type, "error", err)
			continue
		}
		a.actionsDispatched.Add(1)
	}

	if !a.cfg.ActionConfirmation || len(confirmed) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", confirmationPrefix, len(confirmed))
	for _, action := range confirmed {
		fmt.Fprintf(&b, "- %s (%.0f%% confidence)\n", action.Type, action.Confidence*100)
	}
	if err := a.send(ctx, ev.Channel, b.String()); err != nil {
		a.errorCount.Add(1)
		a.logger.Error("confirmation send failed", "channel", ev.Channel, "error", err)
	}
}

func (a *App) send(ctx context.Context, channel, text string) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.sender.Send(ctx, channel, text)
}

// Stats is a point-in-time snapshot of the orchestrator counters.
type Stats struct {
	MessagesIngested     int64 `json:"messages_ingested"`
	MentionsHandled      int64 `json:"mentions_handled"`
	AIResponsesGenerated int64 `json:"ai_responses_generated"`
	ActionsDispatched    int64 `json:"actions_dispatched"`
	EventsSkipped        int64 `json:"events_skipped"`
	Errors               int64 `json:"errors"`
}

// Stats returns the current counter values.
func (a *App) Stats() Stats {
	return Stats{
		MessagesIngested:     a.messagesIngested.Load(),
		MentionsHandled:      a.mentionsHandled.Load(),
		AIResponsesGenerated: a.aiResponsesGenerated.Load(),
		ActionsDispatched:    a.actionsDispatched.Load(),
		EventsSkipped:        a.eventsSkipped.Load(),
		Errors:               a.errorCount.Load(),
	}
}
