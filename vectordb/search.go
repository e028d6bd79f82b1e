package vectordb

import (
	"context"
	"sort"
	"strings"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/vector"
)

// SearchQuery describes one similarity search.
type SearchQuery struct {
	Vector    []float32
	Limit     int
	Threshold float64        // minimum cosine similarity, inclusive
	Filters   map[string]any // metadata filters; nil means unfiltered
}

// SearchResult is one search hit.
type SearchResult struct {
	ID         string          `json:"id"`
	Similarity float64         `json:"similarity"`
	Meta       parley.Metadata `json:"metadata"`
}

// lshCandidateCap bounds the number of LSH candidates reranked with
// true cosine.
func lshCandidateCap(limit int) int {
	n := 3 * limit
	if n > 100 {
		n = 100
	}
	return n
}

// lshEligible reports whether the filter set permits the approximate
// path. Range and text filters need the metadata index, so their
// presence forces the exact scan.
func lshEligible(filters map[string]any) bool {
	for key := range filters {
		if strings.HasPrefix(key, "timestamp_") ||
			strings.HasSuffix(key, "_text") ||
			strings.HasSuffix(key, "_range") {
			return false
		}
	}
	return true
}

// Search runs a similarity search. With LSH enabled and no
// index-incompatible filters it reranks LSH candidates; otherwise it
// cosine-scans the metadata-filtered candidate set.
func (db *DB) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 10
	}

	if db.useLSH && db.lsh != nil && lshEligible(q.Filters) {
		return db.searchLSH(ctx, q)
	}
	return db.searchScan(ctx, q)
}

func (db *DB) searchLSH(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	ids, err := db.lsh.Candidates(q.Vector, lshCandidateCap(q.Limit))
	if err != nil {
		return nil, err
	}
	return db.rank(ctx, ids, q)
}

func (db *DB) searchScan(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	ids, constrained := db.meta.Candidates(q.Filters)
	if !constrained {
		all, err := db.store.AllIDs(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	}
	return db.rank(ctx, ids, q)
}

// rank fetches candidates, applies deferred and exact-match filters,
// scores them by cosine similarity, and returns the top results.
func (db *DB) rank(ctx context.Context, ids []string, q SearchQuery) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			db.logger.Warn("search skipping unreadable record", "id", id, "error", err)
			continue
		}
		if !index.MatchExact(rec.Meta, q.Filters) || !index.MatchNot(rec.Meta, q.Filters) {
			continue
		}
		sim := vector.Cosine(q.Vector, rec.Vector)
		if sim < q.Threshold {
			continue
		}
		results = append(results, SearchResult{ID: id, Similarity: sim, Meta: rec.Meta})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// KNN returns the k nearest records by cosine similarity, with no
// threshold cut.
func (db *DB) KNN(ctx context.Context, v []float32, k int, filters map[string]any) ([]SearchResult, error) {
	return db.Search(ctx, SearchQuery{Vector: v, Limit: k, Threshold: -1, Filters: filters})
}

// SearchByDistance returns records within maxDistance of v, where
// distance is 1 - cosine similarity, ordered nearest first.
func (db *DB) SearchByDistance(ctx context.Context, v []float32, maxDistance float64, filters map[string]any) ([]SearchResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ids, constrained := db.meta.Candidates(filters)
	if !constrained {
		all, err := db.store.AllIDs(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	}

	var results []SearchResult
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !index.MatchNot(rec.Meta, filters) {
			continue
		}
		sim := vector.Cosine(v, rec.Vector)
		if 1-sim > maxDistance {
			continue
		}
		results = append(results, SearchResult{ID: id, Similarity: sim, Meta: rec.Meta})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// FindOutliers returns records whose similarity to the centroid of all
// stored vectors falls below threshold, most dissimilar first. Records
// whose dimension differs from the centroid's are always outliers.
func (db *DB) FindOutliers(ctx context.Context, threshold float64) ([]SearchResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ids, err := db.store.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	records := make([]parley.Record, 0, len(ids))
	var centroid []float32
	for _, id := range ids {
		rec, err := db.store.Get(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, rec)
		if centroid == nil {
			centroid = make([]float32, len(rec.Vector))
		}
		if len(rec.Vector) == len(centroid) {
			for i, x := range rec.Vector {
				centroid[i] += x
			}
		}
	}
	for i := range centroid {
		centroid[i] /= float32(len(records))
	}

	var outliers []SearchResult
	for _, rec := range records {
		sim := vector.Cosine(centroid, rec.Vector)
		if sim < threshold {
			outliers = append(outliers, SearchResult{ID: rec.ID, Similarity: sim, Meta: rec.Meta})
		}
	}
	sort.SliceStable(outliers, func(i, j int) bool {
		return outliers[i].Similarity < outliers[j].Similarity
	})
	return outliers, nil
}
