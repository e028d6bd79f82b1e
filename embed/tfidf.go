package embed

import (
	"math"
	"sort"

	"github.com/ostramo/parley/vector"
)

// tfidfMinDim is the floor on the TF-IDF vector length; untrained or
// tiny vocabularies still produce vectors of at least this size.
const tfidfMinDim = 100

// TFIDF is a deterministic term-frequency / inverse-document-frequency
// embedder trained on a corpus of documents. A token enters the
// vocabulary when it appears in at least two documents and in at most
// 80% of them.
type TFIDF struct {
	vocab   map[string]int // token -> vector position
	df      map[string]int // token -> document frequency
	numDocs int
	dim     int
}

// NewTFIDF returns an untrained embedder. Transform on an untrained
// embedder yields the zero vector; callers fall back to WordVec.
func NewTFIDF() *TFIDF {
	return &TFIDF{
		vocab: make(map[string]int),
		df:    make(map[string]int),
		dim:   tfidfMinDim,
	}
}

// Fit builds the vocabulary from the corpus, replacing any previous
// training.
func (t *TFIDF) Fit(corpus []string) {
	t.vocab = make(map[string]int)
	t.df = make(map[string]int)
	t.numDocs = len(corpus)

	for _, doc := range corpus {
		seen := make(map[string]bool)
		for _, tok := range Tokenize(doc) {
			if !seen[tok] {
				seen[tok] = true
				t.df[tok]++
			}
		}
	}

	maxDF := int(math.Floor(0.8 * float64(t.numDocs)))
	kept := make([]string, 0, len(t.df))
	for tok, df := range t.df {
		if df >= 2 && df <= maxDF {
			kept = append(kept, tok)
		}
	}
	sort.Strings(kept)
	for i, tok := range kept {
		t.vocab[tok] = i
	}

	t.dim = len(t.vocab)
	if t.dim < tfidfMinDim {
		t.dim = tfidfMinDim
	}
}

// Trained reports whether Fit produced a non-empty vocabulary.
func (t *TFIDF) Trained() bool { return len(t.vocab) > 0 }

// Dimensions returns the output vector length.
func (t *TFIDF) Dimensions() int { return t.dim }

// Transform embeds text as tf * log(N/df) over the vocabulary,
// L2-normalised. Text with no in-vocabulary tokens yields the zero
// vector.
func (t *TFIDF) Transform(text string) []float32 {
	out := make([]float32, t.dim)
	if !t.Trained() {
		return out
	}

	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}

	for tok, tf := range counts {
		pos, ok := t.vocab[tok]
		if !ok {
			continue
		}
		idf := math.Log(float64(t.numDocs) / float64(t.df[tok]))
		out[pos] = float32(float64(tf) * idf)
	}
	return vector.Normalize(out)
}
