// Package vectordb is the facade over the vector store and its two
// indexes. It owns the store, the LSH index, and the metadata indexes,
// serialises access with a single RWMutex, and exposes the search and
// maintenance operations the bot builds on.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/vector"
)

// DB wires the persistent store to the in-memory indexes. The LSH index
// is created lazily on the first insert, which fixes the vector
// dimension; later vectors of a different dimension are rejected.
type DB struct {
	mu     sync.RWMutex
	store  *store.VectorStore
	meta   *index.Metadata
	lsh    *index.LSH
	lshCfg index.LSHConfig
	useLSH bool
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLSH enables approximate search with the given LSH configuration.
func WithLSH(cfg index.LSHConfig) Option {
	return func(db *DB) {
		db.useLSH = true
		db.lshCfg = cfg
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithMetadataFields overrides the indexed-field schema.
func WithMetadataFields(fields map[string]index.FieldType) Option {
	return func(db *DB) { db.meta = index.NewMetadata(fields) }
}

// New creates a DB over the given vector store.
func New(s *store.VectorStore, opts ...Option) *DB {
	db := &DB{
		store:  s,
		meta:   index.NewMetadata(nil),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Load replays every stored record into the in-memory indexes. Call
// once after New when reopening an existing database.
func (db *DB) Load(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids, err := db.store.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			db.logger.Warn("skipping unreadable record", "id", id, "error", err)
			continue
		}
		if err := db.indexRecord(rec); err != nil {
			db.logger.Warn("skipping unindexable record", "id", id, "error", err)
		}
	}
	db.logger.Info("vector db loaded", "records", len(ids))
	return nil
}

// indexRecord adds rec to both indexes. Caller holds the write lock.
func (db *DB) indexRecord(rec parley.Record) error {
	if db.useLSH {
		if db.lsh == nil {
			l, err := index.NewLSH(len(rec.Vector), db.lshCfg)
			if err != nil {
				return err
			}
			db.lsh = l
		}
		if err := db.lsh.Insert(rec.ID, rec.Vector); err != nil {
			return err
		}
	}
	db.meta.Add(rec.ID, rec.Meta)
	return nil
}

// unindexRecord removes rec from both indexes. Caller holds the write
// lock.
func (db *DB) unindexRecord(rec parley.Record) {
	if db.lsh != nil {
		db.lsh.Remove(rec.ID, rec.Vector)
	}
	db.meta.Remove(rec.ID, rec.Meta)
}

// Insert stores a record and indexes it. When LSH is enabled the first
// insert fixes the vector dimension and mismatched vectors fail.
func (db *DB) Insert(ctx context.Context, id string, v []float32, meta parley.Metadata) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.useLSH && db.lsh != nil && len(v) != db.lsh.Dimension() {
		return fmt.Errorf("insert %s: dimension mismatch: index holds %d-dim vectors, got %d",
			id, db.lsh.Dimension(), len(v))
	}
	if err := db.store.Put(ctx, id, v, meta); err != nil {
		return err
	}
	return db.indexRecord(parley.Record{ID: id, Vector: v, Meta: meta})
}

// InsertBatch inserts entries best-effort and returns the number
// stored.
func (db *DB) InsertBatch(ctx context.Context, entries []parley.Record) (int, error) {
	inserted := 0
	for _, e := range entries {
		if err := db.Insert(ctx, e.ID, e.Vector, e.Meta); err != nil {
			db.logger.Warn("batch insert skipped record", "id", e.ID, "error", err)
			continue
		}
		inserted++
	}
	return inserted, nil
}

// Update applies metadata changes, and optionally a new vector, to an
// existing record.
func (db *DB) Update(ctx context.Context, id string, newVector []float32, changes parley.Metadata) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec, err := db.store.Get(ctx, id)
	if err != nil {
		return err
	}

	db.unindexRecord(rec)
	if newVector != nil {
		if db.useLSH && db.lsh != nil && len(newVector) != db.lsh.Dimension() {
			db.meta.Add(rec.ID, rec.Meta)
			if db.lsh != nil {
				db.lsh.Insert(rec.ID, rec.Vector)
			}
			return fmt.Errorf("update %s: dimension mismatch: index holds %d-dim vectors, got %d",
				id, db.lsh.Dimension(), len(newVector))
		}
		rec.Vector = newVector
	}
	if rec.Meta == nil {
		rec.Meta = parley.Metadata{}
	}
	for k, val := range changes {
		rec.Meta[k] = val
	}

	if err := db.store.Put(ctx, id, rec.Vector, rec.Meta); err != nil {
		return err
	}
	return db.indexRecord(rec)
}

// Delete removes a record from the store and both indexes.
func (db *DB) Delete(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rec, err := db.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := db.store.Delete(ctx, id); err != nil {
		return err
	}
	db.unindexRecord(rec)
	return nil
}

// DeleteWhere removes every record matching the filters and returns the
// number deleted.
func (db *DB) DeleteWhere(ctx context.Context, filters map[string]any) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids, constrained := db.meta.Candidates(filters)
	if !constrained {
		all, err := db.store.AllIDs(ctx)
		if err != nil {
			return 0, err
		}
		ids = all
	}

	deleted := 0
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !index.MatchNot(rec.Meta, filters) {
			continue
		}
		if err := db.store.Delete(ctx, id); err != nil {
			db.logger.Warn("delete_where failed for record", "id", id, "error", err)
			continue
		}
		db.unindexRecord(rec)
		deleted++
	}
	return deleted, nil
}

// Get fetches a record by id.
func (db *DB) Get(ctx context.Context, id string) (parley.Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.store.Get(ctx, id)
}

// Exists reports whether a record with the id is stored.
func (db *DB) Exists(ctx context.Context, id string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, err := db.store.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, parley.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Count returns the number of stored records.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.store.Count(ctx)
}

// ValidationReport is the result of a Validate pass.
type ValidationReport struct {
	Total      int      `json:"total"`
	Valid      int      `json:"valid"`
	InvalidIDs []string `json:"invalid_ids"`
	Integrity  float64  `json:"integrity"`
}

// Validate scans every record and reports store integrity. A record is
// invalid when it cannot be read or its vector contains NaN or infinite
// components.
func (db *DB) Validate(ctx context.Context) (ValidationReport, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ids, err := db.store.AllIDs(ctx)
	if err != nil {
		return ValidationReport{}, err
	}

	report := ValidationReport{Total: len(ids)}
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil || !vector.IsValid(rec.Vector) {
			report.InvalidIDs = append(report.InvalidIDs, id)
			continue
		}
		report.Valid++
	}
	if report.Total > 0 {
		report.Integrity = float64(report.Valid) / float64(report.Total)
	} else {
		report.Integrity = 1
	}
	return report, nil
}

// RebuildIndexes drops both in-memory indexes and rebuilds them from
// the store. The LSH dimension is re-derived from the stored vectors,
// so this is also the administrative path for dimension changes.
func (db *DB) RebuildIndexes(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids, err := db.store.AllIDs(ctx)
	if err != nil {
		return err
	}

	db.meta.Clear()
	vectors := make(map[string][]float32, len(ids))
	dimension := 0
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			db.logger.Warn("rebuild skipping unreadable record", "id", id, "error", err)
			continue
		}
		vectors[id] = rec.Vector
		if dimension == 0 {
			dimension = len(rec.Vector)
		}
		db.meta.Add(rec.ID, rec.Meta)
	}

	if db.useLSH && dimension > 0 {
		if db.lsh == nil {
			l, err := index.NewLSH(dimension, db.lshCfg)
			if err != nil {
				return err
			}
			db.lsh = l
		}
		if err := db.lsh.Rebuild(dimension, vectors); err != nil {
			return err
		}
	}
	db.logger.Info("indexes rebuilt", "records", len(vectors), "dimension", dimension)
	return nil
}

// Stats summarises the database.
type Stats struct {
	Records    int             `json:"records"`
	LSHEnabled bool            `json:"lsh_enabled"`
	LSH        *index.LSHStats `json:"lsh,omitempty"`
}

// Stats returns database statistics.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	n, err := db.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Records: n, LSHEnabled: db.useLSH}
	if db.lsh != nil {
		ls := db.lsh.Stats()
		s.LSH = &ls
	}
	return s, nil
}

// Close closes the underlying store.
func (db *DB) Close() error {
	return db.store.Close()
}
