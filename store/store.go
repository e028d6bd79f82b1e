// Package store persists message records in a bucketed, ordered
// key/value backend. Three buckets hold the data: "vectors" keyed
// vec:<id>, "metadata" keyed meta:<id>, and "index" with the id registry
// under all_ids.
//
// Swap in a different backend (e.g. Postgres for a shared deployment) by
// implementing Backend with your own package.
package store

import (
	"context"
	"fmt"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/vector"
)

// Bucket names.
const (
	BucketVectors  = "vectors"
	BucketMetadata = "metadata"
	BucketIndex    = "index"
)

// Key prefixes and registry key.
const (
	vecKeyPrefix  = "vec:"
	metaKeyPrefix = "meta:"
	registryKey   = "all_ids"
)

// Backend is a bucketed ordered key/value store. Get returns (nil, nil)
// for a missing key; Delete of a missing key is a no-op.
type Backend interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// VectorStore stores records by id and maintains the id registry.
// It performs no locking of its own; the vectordb facade serialises
// writers and readers.
type VectorStore struct {
	backend Backend
}

// New creates a VectorStore over the given backend.
func New(backend Backend) *VectorStore {
	return &VectorStore{backend: backend}
}

// Put writes the vector and metadata blobs for id and ensures id is in
// the registry. Re-putting an existing id overwrites both blobs without
// duplicating the registry entry. Fails on an empty id or invalid vector.
func (s *VectorStore) Put(ctx context.Context, id string, vec []float32, meta parley.Metadata) error {
	if id == "" {
		return fmt.Errorf("put: empty id")
	}
	if !vector.IsValid(vec) {
		return fmt.Errorf("put %s: invalid vector", id)
	}
	if err := meta.ValidateScalars(); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}

	if err := s.backend.Put(ctx, BucketVectors, vecKeyPrefix+id, []byte(EncodeVector(vec))); err != nil {
		return fmt.Errorf("put %s: vector: %w", id, err)
	}
	metaBlob, err := EncodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("put %s: metadata: %w", id, err)
	}
	if err := s.backend.Put(ctx, BucketMetadata, metaKeyPrefix+id, metaBlob); err != nil {
		return fmt.Errorf("put %s: metadata: %w", id, err)
	}
	return s.registerID(ctx, id)
}

// PutBatch writes entries best-effort and returns the number successfully
// written. Individual failures do not abort the batch.
func (s *VectorStore) PutBatch(ctx context.Context, entries []parley.Record) (int, error) {
	var ok int
	var lastErr error
	for _, e := range entries {
		if err := s.Put(ctx, e.ID, e.Vector, e.Meta); err != nil {
			lastErr = err
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return 0, lastErr
	}
	return ok, nil
}

// Get returns the record for id, or parley.ErrNotFound.
func (s *VectorStore) Get(ctx context.Context, id string) (parley.Record, error) {
	vecBlob, err := s.backend.Get(ctx, BucketVectors, vecKeyPrefix+id)
	if err != nil {
		return parley.Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	if vecBlob == nil {
		return parley.Record{}, parley.ErrNotFound
	}
	vec, err := DecodeVector(string(vecBlob))
	if err != nil {
		return parley.Record{}, fmt.Errorf("get %s: %w", id, err)
	}

	metaBlob, err := s.backend.Get(ctx, BucketMetadata, metaKeyPrefix+id)
	if err != nil {
		return parley.Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	meta, err := DecodeMetadata(metaBlob)
	if err != nil {
		return parley.Record{}, fmt.Errorf("get %s: %w", id, err)
	}

	return parley.Record{ID: id, Vector: vec, Meta: meta}, nil
}

// Delete removes both blobs and the registry entry for id.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, BucketVectors, vecKeyPrefix+id); err != nil {
		return fmt.Errorf("delete %s: vector: %w", id, err)
	}
	if err := s.backend.Delete(ctx, BucketMetadata, metaKeyPrefix+id); err != nil {
		return fmt.Errorf("delete %s: metadata: %w", id, err)
	}
	return s.unregisterID(ctx, id)
}

// Count returns the cardinality of the id registry.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	ids, err := s.AllIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// AllIDs returns all stored ids in insertion order.
func (s *VectorStore) AllIDs(ctx context.Context) ([]string, error) {
	blob, err := s.backend.Get(ctx, BucketIndex, registryKey)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return DecodeIDs(string(blob)), nil
}

// Close closes the backend.
func (s *VectorStore) Close() error {
	return s.backend.Close()
}

func (s *VectorStore) registerID(ctx context.Context, id string) error {
	ids, err := s.AllIDs(ctx)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return s.backend.Put(ctx, BucketIndex, registryKey, []byte(EncodeIDs(ids)))
}

func (s *VectorStore) unregisterID(ctx context.Context, id string) error {
	ids, err := s.AllIDs(ctx)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return s.backend.Put(ctx, BucketIndex, registryKey, []byte(EncodeIDs(kept)))
}
