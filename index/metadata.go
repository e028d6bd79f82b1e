package index

import (
	"fmt"
	"sort"
	"strings"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/embed"
)

// FieldType declares how a metadata field is indexed.
type FieldType string

const (
	FieldExact FieldType = "exact" // value -> ids
	FieldRange FieldType = "range" // numeric value, sorted for range scans
	FieldText  FieldType = "text"  // tokenised, each token indexed as <field>_word
)

// DefaultFields is the indexing schema for the recognised metadata keys.
func DefaultFields() map[string]FieldType {
	return map[string]FieldType{
		parley.MetaUserID:          FieldExact,
		parley.MetaChannel:         FieldExact,
		parley.MetaThreadID:        FieldExact,
		parley.MetaEmbeddingMethod: FieldExact,
		parley.MetaPrivacyLevel:    FieldExact,
		parley.MetaTimestamp:       FieldRange,
		parley.MetaText:            FieldText,
	}
}

// Metadata maintains inverted indexes over declared metadata fields and
// evaluates filter maps into candidate id sets. It performs no locking of
// its own; the vectordb facade serialises access.
type Metadata struct {
	fields map[string]FieldType

	exact map[string]map[string][]string // field -> value -> ids
	words map[string]map[string][]string // <field>_word -> token -> ids

	rangeVals map[string][]float64            // field -> sorted distinct values
	rangeIDs  map[string]map[float64][]string // field -> value -> ids
}

// NewMetadata creates a metadata index with the given schema. A nil
// schema uses DefaultFields.
func NewMetadata(fields map[string]FieldType) *Metadata {
	if fields == nil {
		fields = DefaultFields()
	}
	return &Metadata{
		fields:    fields,
		exact:     make(map[string]map[string][]string),
		words:     make(map[string]map[string][]string),
		rangeVals: make(map[string][]float64),
		rangeIDs:  make(map[string]map[float64][]string),
	}
}

// Add indexes every declared field present in meta for id.
func (m *Metadata) Add(id string, meta parley.Metadata) {
	for field, ftype := range m.fields {
		raw, ok := meta[field]
		if !ok {
			continue
		}
		switch ftype {
		case FieldExact:
			m.addExact(field, stringValue(raw), id)
		case FieldRange:
			if f, ok := numericValue(raw); ok {
				m.addRange(field, f, id)
			}
		case FieldText:
			for _, tok := range embed.Tokenize(stringValue(raw)) {
				m.addWord(field+"_word", tok, id)
			}
		}
	}
}

// Remove un-indexes id using the record's current metadata.
func (m *Metadata) Remove(id string, meta parley.Metadata) {
	for field, ftype := range m.fields {
		raw, ok := meta[field]
		if !ok {
			continue
		}
		switch ftype {
		case FieldExact:
			m.exact[field][stringValue(raw)] = without(m.exact[field][stringValue(raw)], id)
		case FieldRange:
			if f, ok := numericValue(raw); ok {
				if ids, exists := m.rangeIDs[field]; exists {
					ids[f] = without(ids[f], id)
					if len(ids[f]) == 0 {
						delete(ids, f)
						m.rangeVals[field] = withoutFloat(m.rangeVals[field], f)
					}
				}
			}
		case FieldText:
			for _, tok := range embed.Tokenize(stringValue(raw)) {
				key := field + "_word"
				if buckets, exists := m.words[key]; exists {
					buckets[tok] = without(buckets[tok], id)
				}
			}
		}
	}
}

// Clear drops all indexed entries.
func (m *Metadata) Clear() {
	m.exact = make(map[string]map[string][]string)
	m.words = make(map[string]map[string][]string)
	m.rangeVals = make(map[string][]float64)
	m.rangeIDs = make(map[string]map[float64][]string)
}

// Candidates evaluates the recognised filters and intersects their id
// sets. The second return reports whether any filter constrained the
// result; when false the caller must fall back to the full registry.
// Deferred filters (<field>_not) are not evaluated here; use MatchNot.
func (m *Metadata) Candidates(filters map[string]any) ([]string, bool) {
	var sets [][]string

	for key, raw := range filters {
		switch {
		case strings.HasSuffix(key, "_not"):
			// Deferred: applied as a post-filter over fetched records.
			continue
		case key == "timestamp_after":
			if t, ok := numericValue(raw); ok {
				sets = append(sets, m.rangeScan(parley.MetaTimestamp, t, true))
			}
		case key == "timestamp_before":
			if t, ok := numericValue(raw); ok {
				sets = append(sets, m.rangeScan(parley.MetaTimestamp, t, false))
			}
		case strings.HasSuffix(key, "_text"):
			field := strings.TrimSuffix(key, "_text")
			if m.fields[field] == FieldText {
				sets = append(sets, m.wordQuery(field+"_word", stringValue(raw)))
			}
		default:
			if m.fields[key] == FieldExact {
				sets = append(sets, m.exact[key][stringValue(raw)])
			}
		}
	}

	if len(sets) == 0 {
		return nil, false
	}
	return intersect(sets), true
}

// MatchExact evaluates the plain equality filters against a record's
// metadata, skipping the suffixed and range filter keys. Returns false
// when the record must be excluded. Candidate sets that bypass the
// metadata index, such as LSH candidates, must be post-filtered with
// this.
func MatchExact(meta parley.Metadata, filters map[string]any) bool {
	for key, raw := range filters {
		if strings.HasSuffix(key, "_not") ||
			strings.HasSuffix(key, "_text") ||
			strings.HasSuffix(key, "_range") ||
			strings.HasPrefix(key, "timestamp_") {
			continue
		}
		if stringValue(meta[key]) != stringValue(raw) {
			return false
		}
	}
	return true
}

// MatchNot evaluates the deferred <field>_not filters against a record's
// metadata. Returns false when the record must be excluded.
func MatchNot(meta parley.Metadata, filters map[string]any) bool {
	for key, raw := range filters {
		if !strings.HasSuffix(key, "_not") {
			continue
		}
		field := strings.TrimSuffix(key, "_not")
		if stringValue(meta[field]) == stringValue(raw) {
			return false
		}
	}
	return true
}

func (m *Metadata) addExact(field, value, id string) {
	if m.exact[field] == nil {
		m.exact[field] = make(map[string][]string)
	}
	m.exact[field][value] = appendUnique(m.exact[field][value], id)
}

func (m *Metadata) addWord(key, token, id string) {
	if m.words[key] == nil {
		m.words[key] = make(map[string][]string)
	}
	m.words[key][token] = appendUnique(m.words[key][token], id)
}

func (m *Metadata) addRange(field string, value float64, id string) {
	if m.rangeIDs[field] == nil {
		m.rangeIDs[field] = make(map[float64][]string)
	}
	if _, exists := m.rangeIDs[field][value]; !exists {
		vals := m.rangeVals[field]
		pos := sort.SearchFloat64s(vals, value)
		vals = append(vals, 0)
		copy(vals[pos+1:], vals[pos:])
		vals[pos] = value
		m.rangeVals[field] = vals
	}
	m.rangeIDs[field][value] = appendUnique(m.rangeIDs[field][value], id)
}

// rangeScan collects ids with value > pivot (after=true) or value < pivot
// (after=false). Both bounds are exclusive of the pivot itself.
func (m *Metadata) rangeScan(field string, pivot float64, after bool) []string {
	vals := m.rangeVals[field]
	ids := m.rangeIDs[field]
	var out []string
	if after {
		start := sort.SearchFloat64s(vals, pivot)
		for start < len(vals) && vals[start] == pivot {
			start++
		}
		for _, v := range vals[start:] {
			out = append(out, ids[v]...)
		}
	} else {
		end := sort.SearchFloat64s(vals, pivot)
		for _, v := range vals[:end] {
			out = append(out, ids[v]...)
		}
	}
	return out
}

// wordQuery ANDs the per-token id sets of the query's tokens.
func (m *Metadata) wordQuery(key, query string) []string {
	tokens := embed.Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	buckets := m.words[key]
	sets := make([][]string, 0, len(tokens))
	for _, tok := range tokens {
		sets = append(sets, buckets[tok])
	}
	return intersect(sets)
}

func intersect(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]bool, len(set))
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				counts[id]++
			}
		}
	}
	// Preserve the order of the first set for determinism.
	var out []string
	seen := make(map[string]bool)
	for _, id := range sets[0] {
		if counts[id] == len(sets) && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func without(ids []string, id string) []string {
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return kept
}

func withoutFloat(vals []float64, v float64) []float64 {
	kept := vals[:0]
	for _, existing := range vals {
		if existing != v {
			kept = append(kept, existing)
		}
	}
	return kept
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
