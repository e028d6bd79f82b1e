package vectordb_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/store/badger"
	"github.com/ostramo/parley/vectordb"
)

func testDB(t *testing.T, opts ...vectordb.Option) *vectordb.DB {
	t.Helper()
	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	db := vectordb.New(store.New(backend), opts...)
	t.Cleanup(func() { db.Close() })
	return db
}

func lshDB(t *testing.T) *vectordb.DB {
	t.Helper()
	return testDB(t, vectordb.WithLSH(index.LSHConfig{Seed: 42}))
}

func mustInsert(t *testing.T, db *vectordb.DB, id string, v []float32, meta parley.Metadata) {
	t.Helper()
	if err := db.Insert(context.Background(), id, v, meta); err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
}

func TestInsertSearchRoundTrip(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	v := []float32{0.3, 0.1, 0.9, 0.2}
	mustInsert(t, db, "chat_100.0_C1", v, parley.Metadata{"text": "hello", "channel": "C1"})

	results, err := db.Search(ctx, vectordb.SearchQuery{Vector: v, Limit: 1, Threshold: 0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "chat_100.0_C1" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("self similarity = %v", results[0].Similarity)
	}
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	db := lshDB(t)
	mustInsert(t, db, "a", []float32{1, 0, 0}, nil)
	if err := db.Insert(context.Background(), "b", []float32{1, 0}, nil); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestSearchRoutesFilteredQueriesToScan(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	mustInsert(t, db, "m1", []float32{1, 0},
		parley.Metadata{"text": "deploy service", "channel": "C1", "timestamp": 100.0})
	mustInsert(t, db, "m2", []float32{0.9, 0.1},
		parley.Metadata{"text": "deploy database", "channel": "C1", "timestamp": 200.0})
	mustInsert(t, db, "m3", []float32{0.8, 0.2},
		parley.Metadata{"text": "lunch plans", "channel": "C2", "timestamp": 300.0})

	// Range filters force the exact path and bound the candidates.
	results, err := db.Search(ctx, vectordb.SearchQuery{
		Vector:  []float32{1, 0},
		Limit:   10,
		Filters: map[string]any{"channel": "C1", "timestamp_after": 100.0},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m2" {
		t.Errorf("results = %+v", results)
	}

	// Text filters likewise.
	results, err = db.Search(ctx, vectordb.SearchQuery{
		Vector:  []float32{1, 0},
		Limit:   10,
		Filters: map[string]any{"text_text": "deploy"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("text filter results = %+v", results)
	}
}

func TestSearchLSHPathAppliesExactFilters(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	mustInsert(t, db, "a", []float32{1, 0, 0},
		parley.Metadata{"text": "deploy service", "channel": "C1"})
	mustInsert(t, db, "b", []float32{0.99, 0.1, 0},
		parley.Metadata{"text": "deploy database", "channel": "C2"})

	// A plain equality filter keeps the approximate path; the hit from
	// the other channel must still be excluded.
	results, err := db.Search(ctx, vectordb.SearchQuery{
		Vector:  []float32{1, 0, 0},
		Limit:   10,
		Filters: map[string]any{"channel": "C1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("results = %+v, want only the C1 record", results)
	}
	for _, r := range results {
		if r.Meta["channel"] != "C1" {
			t.Errorf("record %q leaked from channel %v", r.ID, r.Meta["channel"])
		}
	}
}

func TestSearchThresholdAndLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, "close", []float32{1, 0.05}, nil)
	mustInsert(t, db, "far", []float32{0, 1}, nil)

	results, err := db.Search(ctx, vectordb.SearchQuery{
		Vector: []float32{1, 0}, Limit: 10, Threshold: 0.9,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "close" {
		t.Errorf("results = %+v", results)
	}
}

func TestUpdate(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	mustInsert(t, db, "a", []float32{1, 0}, parley.Metadata{"channel": "C1", "text": "old"})
	if err := db.Update(ctx, "a", nil, parley.Metadata{"channel": "C2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Meta.Channel() != "C2" || rec.Meta.Text() != "old" {
		t.Errorf("meta after update = %+v", rec.Meta)
	}

	// The metadata index must follow the new value.
	results, _ := db.Search(ctx, vectordb.SearchQuery{
		Vector: []float32{1, 0}, Limit: 10,
		Filters: map[string]any{"channel": "C1", "timestamp_after": 0.0},
	})
	if len(results) != 0 {
		t.Errorf("stale index entry: %+v", results)
	}

	if err := db.Update(ctx, "missing", nil, parley.Metadata{"x": "y"}); !errors.Is(err, parley.ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteAndExists(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	mustInsert(t, db, "a", []float32{1, 0}, nil)
	ok, err := db.Exists(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = db.Exists(ctx, "a")
	if err != nil || ok {
		t.Errorf("Exists after delete = %v, %v", ok, err)
	}
	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestDeleteWhere(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, "m1", []float32{1, 0}, parley.Metadata{"channel": "C1", "user_id": "U1"})
	mustInsert(t, db, "m2", []float32{0, 1}, parley.Metadata{"channel": "C1", "user_id": "U2"})
	mustInsert(t, db, "m3", []float32{1, 1}, parley.Metadata{"channel": "C2", "user_id": "U1"})

	n, err := db.DeleteWhere(ctx, map[string]any{"channel": "C1", "user_id_not": "U2"})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if ok, _ := db.Exists(ctx, "m1"); ok {
		t.Error("m1 should be deleted")
	}
	if ok, _ := db.Exists(ctx, "m2"); !ok {
		t.Error("m2 should remain")
	}
}

func TestKNNAndSearchByDistance(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, "a", []float32{1, 0}, nil)
	mustInsert(t, db, "b", []float32{0.9, 0.3}, nil)
	mustInsert(t, db, "c", []float32{0, 1}, nil)

	results, err := db.KNN(ctx, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("KNN results = %+v", results)
	}

	near, err := db.SearchByDistance(ctx, []float32{1, 0}, 0.1, nil)
	if err != nil {
		t.Fatalf("SearchByDistance: %v", err)
	}
	if len(near) != 2 {
		t.Errorf("near results = %+v", near)
	}
}

func TestFindOutliers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustInsert(t, db, fmt.Sprintf("n%d", i), []float32{1, float32(i) * 0.01}, nil)
	}
	mustInsert(t, db, "odd", []float32{-1, 0.2}, nil)

	outliers, err := db.FindOutliers(ctx, 0.5)
	if err != nil {
		t.Fatalf("FindOutliers: %v", err)
	}
	if len(outliers) != 1 || outliers[0].ID != "odd" {
		t.Errorf("outliers = %+v", outliers)
	}
}

func TestValidate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, "good", []float32{1, 2}, nil)

	report, err := db.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Total != 1 || report.Valid != 1 || report.Integrity != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRebuildIndexesPreservesSearch(t *testing.T) {
	db := lshDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mustInsert(t, db, fmt.Sprintf("v%d", i),
			[]float32{float32(i), 1, float32(10 - i)}, parley.Metadata{"channel": "C1"})
	}

	query := vectordb.SearchQuery{Vector: []float32{5, 1, 5}, Limit: 3, Threshold: 0}
	before, err := db.Search(ctx, query)
	if err != nil {
		t.Fatalf("Search before rebuild: %v", err)
	}

	if err := db.RebuildIndexes(ctx); err != nil {
		t.Fatalf("RebuildIndexes: %v", err)
	}
	after, err := db.Search(ctx, query)
	if err != nil {
		t.Fatalf("Search after rebuild: %v", err)
	}

	ids := func(rs []vectordb.SearchResult) map[string]bool {
		m := make(map[string]bool)
		for _, r := range rs {
			m[r.ID] = true
		}
		return m
	}
	beforeIDs, afterIDs := ids(before), ids(after)
	for id := range beforeIDs {
		if !afterIDs[id] {
			t.Errorf("id %s missing after rebuild: before=%v after=%v", id, before, after)
		}
	}
}

func TestLoadReplaysStore(t *testing.T) {
	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	s := store.New(backend)
	ctx := context.Background()

	if err := s.Put(ctx, "a", []float32{1, 0}, parley.Metadata{"channel": "C1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	db := vectordb.New(s, vectordb.WithLSH(index.LSHConfig{Seed: 42}))
	t.Cleanup(func() { db.Close() })
	if err := db.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	results, err := db.Search(ctx, vectordb.SearchQuery{Vector: []float32{1, 0}, Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("results = %+v", results)
	}
}
