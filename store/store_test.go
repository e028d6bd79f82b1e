package store_test

import (
	"context"
	"errors"
	"testing"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/store/badger"
)

func testStore(t *testing.T) *store.VectorStore {
	t.Helper()
	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	s := store.New(backend)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	meta := parley.Metadata{"text": "hello", "channel": "C1", "timestamp": 100.0}
	if err := s.Put(ctx, "chat_100.0_C1", []float32{0.1, 0.2, 0.3}, meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec, err := s.Get(ctx, "chat_100.0_C1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Meta.Text() != "hello" || len(rec.Vector) != 3 {
		t.Errorf("unexpected record: %+v", rec)
	}

	if err := s.Delete(ctx, "chat_100.0_C1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "chat_100.0_C1"); !errors.Is(err, parley.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPutValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "", []float32{1}, nil); err == nil {
		t.Error("expected error for empty id")
	}
	if err := s.Put(ctx, "x", nil, nil); err == nil {
		t.Error("expected error for empty vector")
	}
}

func TestRegistryTracksCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		err := s.Put(ctx, id, []float32{float32(i), 1}, parley.Metadata{"text": id})
		if err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	// Idempotent re-put must not duplicate the registry entry.
	if err := s.Put(ctx, "b", []float32{9, 9}, parley.Metadata{"text": "b2"}); err != nil {
		t.Fatalf("re-Put: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	all, _ := s.AllIDs(ctx)
	if len(all) != 3 || all[0] != "a" || all[1] != "b" || all[2] != "c" {
		t.Errorf("AllIDs order = %v", all)
	}

	s.Delete(ctx, "b")
	n, _ = s.Count(ctx)
	if n != 2 {
		t.Errorf("Count after delete = %d, want 2", n)
	}
}

func TestPutBatchBestEffort(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []parley.Record{
		{ID: "one", Vector: []float32{1, 0}, Meta: parley.Metadata{"text": "one"}},
		{ID: "", Vector: []float32{1, 1}, Meta: nil}, // invalid
		{ID: "two", Vector: []float32{0, 1}, Meta: parley.Metadata{"text": "two"}},
	}
	n, err := s.PutBatch(ctx, entries)
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("PutBatch wrote %d, want 2", n)
	}
}
