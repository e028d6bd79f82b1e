// Package index provides the two in-memory indexes behind the vector
// database: a random-hyperplane LSH index for approximate cosine recall
// and inverted metadata indexes for exact, range, and word-token filters.
package index

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/ostramo/parley/vector"
)

// LSHConfig contains configuration for the LSH index.
type LSHConfig struct {
	NumTables           int   // number of hash tables (more = better recall, more memory)
	HyperplanesPerTable int   // hash bits per table (more = more selective)
	BucketSizeLimit     int   // soft cap; oversized buckets are reported in Stats
	Seed                int64 // random seed for reproducibility; 0 = nondeterministic
}

// Defaults applied by NewLSH.
const (
	DefaultNumTables           = 5
	DefaultHyperplanesPerTable = 10
	DefaultBucketSizeLimit     = 100
)

// LSH implements random-hyperplane locality-sensitive hashing for
// approximate cosine search. The vector dimension is fixed at
// construction; vectors of any other dimension are rejected. Rebuild is
// the only operation that changes the hyperplanes.
//
// LSH performs no locking of its own; the vectordb facade serialises
// access.
type LSH struct {
	numTables   int
	numPlanes   int
	dimension   int
	bucketLimit int
	seed        int64

	hyperplanes [][][]float32         // [table][plane][dim], unit vectors
	tables      []map[uint64][]string // hash -> ids, per table
	insertSeq   map[string]int        // id -> insertion order, for tie-breaks
	nextSeq     int
}

// NewLSH creates an LSH index for vectors of the given dimension.
func NewLSH(dimension int, cfg LSHConfig) (*LSH, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("lsh: dimension must be positive, got %d", dimension)
	}
	if cfg.NumTables <= 0 {
		cfg.NumTables = DefaultNumTables
	}
	if cfg.HyperplanesPerTable <= 0 {
		cfg.HyperplanesPerTable = DefaultHyperplanesPerTable
	}
	if cfg.HyperplanesPerTable > 64 {
		return nil, fmt.Errorf("lsh: at most 64 hyperplanes per table, got %d", cfg.HyperplanesPerTable)
	}
	if cfg.BucketSizeLimit <= 0 {
		cfg.BucketSizeLimit = DefaultBucketSizeLimit
	}

	l := &LSH{
		numTables:   cfg.NumTables,
		numPlanes:   cfg.HyperplanesPerTable,
		dimension:   dimension,
		bucketLimit: cfg.BucketSizeLimit,
		seed:        cfg.Seed,
		insertSeq:   make(map[string]int),
	}
	l.generate()
	return l, nil
}

// generate samples fresh unit hyperplanes and resets the tables.
func (l *LSH) generate() {
	rng := rand.New(rand.NewSource(l.seed))
	if l.seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	l.hyperplanes = make([][][]float32, l.numTables)
	for t := 0; t < l.numTables; t++ {
		l.hyperplanes[t] = make([][]float32, l.numPlanes)
		for p := 0; p < l.numPlanes; p++ {
			plane := make([]float32, l.dimension)
			for d := 0; d < l.dimension; d++ {
				plane[d] = float32(rng.NormFloat64())
			}
			l.hyperplanes[t][p] = vector.Normalize(plane)
		}
	}

	l.tables = make([]map[uint64][]string, l.numTables)
	for t := 0; t < l.numTables; t++ {
		l.tables[t] = make(map[uint64][]string)
	}
}

// Dimension returns the fixed vector dimension.
func (l *LSH) Dimension() int { return l.dimension }

// hash computes the sign-bit hash of v for table t: bit i is set when
// dot(v, plane_i) >= 0.
func (l *LSH) hash(v []float32, t int) uint64 {
	var h uint64
	for i, plane := range l.hyperplanes[t] {
		if vector.Dot(v, plane) >= 0 {
			h |= 1 << uint(i)
		}
	}
	return h
}

// Insert adds id to the matching bucket in every table. Re-inserting an
// existing id is a no-op per bucket.
func (l *LSH) Insert(id string, v []float32) error {
	if len(v) != l.dimension {
		return fmt.Errorf("lsh insert %s: dimension mismatch: expected %d, got %d", id, l.dimension, len(v))
	}
	for t := 0; t < l.numTables; t++ {
		h := l.hash(v, t)
		bucket := l.tables[t][h]
		present := false
		for _, existing := range bucket {
			if existing == id {
				present = true
				break
			}
		}
		if !present {
			l.tables[t][h] = append(bucket, id)
		}
	}
	if _, ok := l.insertSeq[id]; !ok {
		l.insertSeq[id] = l.nextSeq
		l.nextSeq++
	}
	return nil
}

// Remove deletes id from its bucket in every table. The stored vector is
// needed to locate the buckets.
func (l *LSH) Remove(id string, v []float32) {
	if len(v) != l.dimension {
		return
	}
	for t := 0; t < l.numTables; t++ {
		h := l.hash(v, t)
		bucket, ok := l.tables[t][h]
		if !ok {
			continue
		}
		kept := bucket[:0]
		for _, existing := range bucket {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(l.tables[t], h)
		} else {
			l.tables[t][h] = kept
		}
	}
	delete(l.insertSeq, id)
}

// Candidates returns ids colliding with q in at least one table, ranked
// by the number of tables in which they collided (descending). Ties are
// broken by insertion order. At most max ids are returned.
func (l *LSH) Candidates(q []float32, max int) ([]string, error) {
	if len(q) != l.dimension {
		return nil, fmt.Errorf("lsh search: dimension mismatch: expected %d, got %d", l.dimension, len(q))
	}

	collisions := make(map[string]int)
	for t := 0; t < l.numTables; t++ {
		h := l.hash(q, t)
		for _, id := range l.tables[t][h] {
			collisions[id]++
		}
	}

	ids := make([]string, 0, len(collisions))
	for id := range collisions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := collisions[ids[i]], collisions[ids[j]]
		if ci != cj {
			return ci > cj
		}
		return l.insertSeq[ids[i]] < l.insertSeq[ids[j]]
	})

	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

// Rebuild clears the tables, regenerates the hyperplanes for the given
// dimension, and re-hashes every supplied vector. This is the explicit
// administrative path for dimension changes.
func (l *LSH) Rebuild(dimension int, vectors map[string][]float32) error {
	if dimension <= 0 {
		return fmt.Errorf("lsh rebuild: dimension must be positive, got %d", dimension)
	}
	l.dimension = dimension
	l.insertSeq = make(map[string]int)
	l.nextSeq = 0
	l.generate()

	// Re-insert in a stable order so tie-breaks stay deterministic.
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := vectors[id]
		if len(v) != dimension {
			continue
		}
		if err := l.Insert(id, v); err != nil {
			return err
		}
	}
	return nil
}

// LSHStats summarises table occupancy.
type LSHStats struct {
	NumTables      int     `json:"num_tables"`
	Hyperplanes    int     `json:"hyperplanes_per_table"`
	Dimension      int     `json:"dimension"`
	TotalBuckets   int     `json:"total_buckets"`
	AvgBucketSize  float64 `json:"avg_bucket_size"`
	MaxBucketSize  int     `json:"max_bucket_size"`
	OverLimitCount int     `json:"over_limit_buckets"`
	IndexedVectors int     `json:"indexed_vectors"`
}

// Stats returns occupancy statistics across all tables.
func (l *LSH) Stats() LSHStats {
	s := LSHStats{
		NumTables:      l.numTables,
		Hyperplanes:    l.numPlanes,
		Dimension:      l.dimension,
		IndexedVectors: len(l.insertSeq),
	}
	totalItems := 0
	for t := 0; t < l.numTables; t++ {
		s.TotalBuckets += len(l.tables[t])
		for _, bucket := range l.tables[t] {
			totalItems += len(bucket)
			if len(bucket) > s.MaxBucketSize {
				s.MaxBucketSize = len(bucket)
			}
			if len(bucket) > l.bucketLimit {
				s.OverLimitCount++
			}
		}
	}
	if s.TotalBuckets > 0 {
		s.AvgBucketSize = float64(totalItems) / float64(s.TotalBuckets)
	}
	return s
}
