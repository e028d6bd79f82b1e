package bot

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ostramo/parley/embed"
	"github.com/ostramo/parley/llm"
	"github.com/ostramo/parley/slack"
	"github.com/ostramo/parley/vectordb"
)

// StatsSources aggregates the components the stats surface reports on.
// Nil fields are simply omitted from the response.
type StatsSources struct {
	App    *App
	Router *embed.Router
	Usage  *llm.Usage
	Ledger *llm.Ledger
	DB     *vectordb.DB
	Socket *slack.Socket
	Logger *slog.Logger
}

type privacyStats struct {
	embed.RouterStats
	Level           string  `json:"level"`
	ComplianceScore float64 `json:"compliance_score"`
}

type transportStats struct {
	State     string `json:"state"`
	Envelopes int64  `json:"envelopes"`
	Acks      int64  `json:"acks"`
}

type statsResponse struct {
	Bot       *Stats             `json:"bot,omitempty"`
	Privacy   *privacyStats      `json:"privacy,omitempty"`
	LLM       *llm.UsageSnapshot `json:"llm,omitempty"`
	Spend     *llm.LedgerTotals  `json:"spend,omitempty"`
	DB        *vectordb.Stats    `json:"db,omitempty"`
	Transport *transportStats    `json:"transport,omitempty"`
}

// NewStatsHandler serves the read-only operational surface:
// GET /stats for the counters, GET /healthz for liveness.
func NewStatsHandler(src StatsSources) http.Handler {
	logger := src.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	// Index rebuild is an explicit administrative action: it re-derives
	// the LSH dimension from the stored corpus, e.g. after the local
	// embedder was retrained.
	mux.HandleFunc("POST /admin/rebuild", func(w http.ResponseWriter, r *http.Request) {
		if src.DB == nil {
			http.Error(w, "no database wired", http.StatusServiceUnavailable)
			return
		}
		if err := src.DB.RebuildIndexes(r.Context()); err != nil {
			logger.Error("index rebuild failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info("indexes rebuilt")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("rebuilt"))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		var resp statsResponse

		if src.App != nil {
			s := src.App.Stats()
			resp.Bot = &s
		}
		if src.Router != nil {
			resp.Privacy = &privacyStats{
				RouterStats:     src.Router.Stats(),
				Level:           src.Router.Level(),
				ComplianceScore: src.Router.ComplianceScore(),
			}
		}
		if src.Usage != nil {
			s := src.Usage.Snapshot()
			resp.LLM = &s
		}
		if src.Ledger != nil {
			if totals, err := src.Ledger.Totals(r.Context()); err == nil {
				resp.Spend = &totals
			} else {
				logger.Warn("ledger totals unavailable", "error", err)
			}
		}
		if src.DB != nil {
			if s, err := src.DB.Stats(r.Context()); err == nil {
				resp.DB = &s
			} else {
				logger.Warn("db stats unavailable", "error", err)
			}
		}
		if src.Socket != nil {
			envelopes, acks := src.Socket.Counters()
			resp.Transport = &transportStats{
				State:     src.Socket.State(),
				Envelopes: envelopes,
				Acks:      acks,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("stats encode failed", "error", err)
		}
	})
	return mux
}
