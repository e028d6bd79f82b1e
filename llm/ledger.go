package llm

import (
	"context"
	"database/sql"

	parley "github.com/ostramo/parley"
	_ "modernc.org/sqlite"
)

// Ledger persists per-request LLM usage to a local SQLite file so cost
// accounting survives restarts. Connections are opened per operation;
// write volume is one row per chat request.
type Ledger struct {
	dbPath string
}

// NewLedger creates a usage ledger backed by the SQLite file at dbPath.
func NewLedger(dbPath string) *Ledger {
	return &Ledger{dbPath: dbPath}
}

func (l *Ledger) openDB() (*sql.DB, error) {
	return sql.Open("sqlite", l.dbPath)
}

// Init creates the ledger table if needed.
func (l *Ledger) Init(ctx context.Context) error {
	db, err := l.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS llm_usage (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		model TEXT NOT NULL,
		channel TEXT,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		success INTEGER NOT NULL
	)`)
	return err
}

// LedgerEntry is one recorded chat request.
type LedgerEntry struct {
	Model            string
	Channel          string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Success          bool
}

// Append records one request.
func (l *Ledger) Append(ctx context.Context, e LedgerEntry) error {
	db, err := l.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO llm_usage
		(id, created_at, model, channel, prompt_tokens, completion_tokens, cost_usd, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		parley.NewID(), parley.NowUnix(), e.Model, e.Channel,
		e.PromptTokens, e.CompletionTokens, e.CostUSD, boolToInt(e.Success))
	return err
}

// LedgerTotals aggregates the ledger.
type LedgerTotals struct {
	Requests         int64   `json:"requests"`
	Successes        int64   `json:"successes"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Totals returns lifetime aggregates across all recorded requests.
func (l *Ledger) Totals(ctx context.Context) (LedgerTotals, error) {
	db, err := l.openDB()
	if err != nil {
		return LedgerTotals{}, err
	}
	defer db.Close()

	var t LedgerTotals
	err = db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(success), 0),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(cost_usd), 0)
		FROM llm_usage`).Scan(
		&t.Requests, &t.Successes, &t.PromptTokens, &t.CompletionTokens, &t.CostUSD)
	if err != nil {
		return LedgerTotals{}, err
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
