// Command parleyd runs the team chat assistant: it connects to the chat
// service over Socket Mode, indexes channel history into the local
// vector database, and answers mentions with LLM-generated replies.
//
// Configuration comes from parley.toml (or $PARLEY_CONFIG) plus PARLEY_*
// env overrides.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/embed"
	"github.com/ostramo/parley/enrich"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/internal/bot"
	"github.com/ostramo/parley/internal/config"
	"github.com/ostramo/parley/llm"
	"github.com/ostramo/parley/memory"
	"github.com/ostramo/parley/observer"
	"github.com/ostramo/parley/respond"
	"github.com/ostramo/parley/slack"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/store/badger"
	"github.com/ostramo/parley/store/postgres"
	"github.com/ostramo/parley/vectordb"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// 1. Load and validate config; invalid config aborts startup.
	cfg := config.Load(os.Getenv("PARLEY_CONFIG"))
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage backend: badger on disk by default, postgres when a
	// connection URL is configured.
	backend, cleanup, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer cleanup()

	vs := store.New(backend)
	db := vectordb.New(vs,
		vectordb.WithLSH(index.LSHConfig{}),
		vectordb.WithLogger(logger),
	)
	defer db.Close()
	if err := db.Load(ctx); err != nil {
		log.Fatalf("load index: %v", err)
	}

	// 3. Observer (opt-in via config).
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]llm.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = llm.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(context.Background())
		logger.Info("OTEL observability enabled")
	}

	// 4. Privacy router, trained on whatever history is already stored.
	router, err := buildRouter(cfg, logger)
	if err != nil {
		log.Fatalf("embedding router: %v", err)
	}
	trainRouter(ctx, router, vs, logger)

	// 5. LLM client and response generator, unless AI is disabled.
	var gen *respond.Generator
	var usage *llm.Usage
	ledger := llm.NewLedger(cfg.Storage.DBPath)
	if err := ledger.Init(ctx); err != nil {
		log.Fatalf("usage ledger: %v", err)
	}
	if cfg.AI.Enabled {
		client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			llm.WithLogger(logger), llm.WithLedger(ledger))
		usage = client.Usage()

		var chat parley.ChatProvider = client
		if inst != nil {
			chat = observer.WrapProvider(chat, cfg.LLM.Model, inst)
		}
		chat = parley.WithRetry(chat, parley.RetryLogger(logger))

		gen = respond.NewGenerator(chat, respond.Config{
			Model:              cfg.LLM.Model,
			Style:              cfg.AI.ConversationStyle,
			MaxTokens:          cfg.AI.ResponseMaxTokens,
			Temperature:        cfg.AI.Temperature,
			MaxContextMessages: cfg.AI.MaxContextMessages,
			ContextWindowHours: cfg.AI.ContextWindowHours,
			Scoring:            respond.DefaultScoring(),
		}, respond.GeneratorLogger(logger))
	}

	// 6. Chat service client, link enricher, orchestrator.
	api := slack.NewClient(cfg.Chat.BotToken, cfg.Chat.AppToken, slack.WithLogger(logger))

	var embedder enrich.Embedder = router
	if inst != nil {
		embedder = observer.WrapEmbedder(router, inst)
	}
	enricher := enrich.New(db, embedder, enrich.WithLogger(logger))

	app := bot.New(bot.Config{
		BotUserID:             cfg.Chat.BotUserID,
		ChannelWhitelist:      cfg.Chat.ChannelWhitelist,
		MentionKeywords:       cfg.Response.MentionKeywords,
		AutoRespondToMentions: cfg.Response.AutoRespondToMentions,
		ResponseDelay:         time.Duration(cfg.Response.DelayMS) * time.Millisecond,
		MaxContextMessages:    cfg.AI.MaxContextMessages,
		ContextWindowHours:    cfg.AI.ContextWindowHours,
		ActionsEnabled:        cfg.Actions.Enabled,
		ActionConfirmation:    cfg.Actions.ConfirmationRequired,
		ConversationSummary:   cfg.AI.ConversationSummary,
	}, db, router, memory.NewRecency(0), gen, api,
		bot.WithLogger(logger), bot.WithEnricher(enricher))

	socket := slack.NewSocket(api, app,
		slack.SocketLogger(logger),
		slack.SocketPingInterval(time.Duration(cfg.Transport.PingIntervalS)*time.Second),
		slack.SocketReconnect(time.Duration(cfg.Transport.ReconnectDelayS)*time.Second, cfg.Transport.ReconnectAttempts),
	)

	// 7. Stats surface, served alongside the transport loop.
	statsAddr := os.Getenv("PARLEY_STATS_ADDR")
	if statsAddr == "" {
		statsAddr = ":8090"
	}
	statsSrv := &http.Server{
		Addr: statsAddr,
		Handler: bot.NewStatsHandler(bot.StatsSources{
			App:    app,
			Router: router,
			Usage:  usage,
			Ledger: ledger,
			DB:     db,
			Socket: socket,
			Logger: logger,
		}),
	}
	go func() {
		logger.Info("stats surface listening", "addr", statsAddr)
		if err := statsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stats server failed", "error", err)
		}
	}()

	// 8. Run until the transport gives up or a signal arrives.
	runErr := socket.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = statsSrv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("transport: %v", runErr)
	}
	logger.Info("shutdown complete")
}

// openBackend selects the KV backend from config.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	if cfg.Storage.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		backend := postgres.New(pool)
		if err := backend.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return backend, pool.Close, nil
	}

	dir := filepath.Dir(cfg.Storage.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	backend, err := badger.New(filepath.Join(dir, "vectors"))
	if err != nil {
		return nil, nil, err
	}
	return backend, func() {}, nil
}

// buildRouter assembles the privacy router for the configured tier.
func buildRouter(cfg config.Config, logger *slog.Logger) (*embed.Router, error) {
	opts := []embed.RouterOption{
		embed.RouterLogger(logger),
		embed.RouterZDR(cfg.Privacy.UseEnterpriseZDR),
	}
	if cfg.Privacy.Level != embed.PrivacyHigh {
		external, err := embed.NewExternal(
			cfg.Privacy.EmbedEndpoint,
			cfg.Privacy.EmbedAPIKey,
			cfg.Privacy.EmbedModel,
			cfg.Privacy.EmbedDimensions,
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, embed.RouterExternal(
			parley.WithEmbeddingRetry(external, parley.RetryLogger(logger))))
	}
	return embed.NewRouter(cfg.Privacy.Level, opts...)
}

// trainRouter fits the local embedders on already-stored message text so
// TF-IDF quality survives restarts. Best-effort.
func trainRouter(ctx context.Context, router *embed.Router, vs *store.VectorStore, logger *slog.Logger) {
	ids, err := vs.AllIDs(ctx)
	if err != nil || len(ids) == 0 {
		return
	}
	corpus := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, err := vs.Get(ctx, id)
		if err != nil {
			continue
		}
		if text := rec.Meta.Text(); text != "" {
			corpus = append(corpus, text)
		}
	}
	if len(corpus) > 0 {
		router.Train(corpus)
		logger.Info("local embedders trained", "corpus", len(corpus))
	}
}
