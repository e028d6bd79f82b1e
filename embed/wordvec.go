package embed

import (
	"hash/fnv"
	"math/rand"

	"github.com/ostramo/parley/vector"
)

// wordVecDim is the default dimensionality of the averaged word-vector
// embedder.
const wordVecDim = 128

// wordVecScale bounds each component of a token vector.
const wordVecScale = 0.05

// WordVec embeds text by averaging fixed random vectors assigned to
// vocabulary tokens. Training keeps tokens with corpus frequency >= 3;
// before training, every token receives a deterministic vector derived
// from its hash so the embedder still produces stable output.
type WordVec struct {
	dim     int
	seed    int64
	vectors map[string][]float32
	trained bool
}

// NewWordVec creates an averaged word-vector embedder. dim <= 0 selects
// the default of 128.
func NewWordVec(dim int, seed int64) *WordVec {
	if dim <= 0 {
		dim = wordVecDim
	}
	return &WordVec{
		dim:     dim,
		seed:    seed,
		vectors: make(map[string][]float32),
	}
}

// Dimensions returns the output vector length.
func (w *WordVec) Dimensions() int { return w.dim }

// Trained reports whether Fit produced a non-empty vocabulary.
func (w *WordVec) Trained() bool { return w.trained && len(w.vectors) > 0 }

// Fit assigns a fixed random vector to every token with corpus
// frequency of at least 3, replacing any previous training.
func (w *WordVec) Fit(corpus []string) {
	freq := make(map[string]int)
	for _, doc := range corpus {
		for _, tok := range Tokenize(doc) {
			freq[tok]++
		}
	}

	w.vectors = make(map[string][]float32)
	for tok, n := range freq {
		if n >= 3 {
			w.vectors[tok] = w.tokenVector(tok)
		}
	}
	w.trained = true
}

// tokenVector derives the token's fixed vector from the embedder seed
// and the token's hash, so repeated fits agree.
func (w *WordVec) tokenVector(tok string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(tok))
	rng := rand.New(rand.NewSource(w.seed ^ int64(h.Sum64())))

	v := make([]float32, w.dim)
	for i := range v {
		v[i] = float32((rng.Float64()*2 - 1) * wordVecScale)
	}
	return v
}

// Transform averages the vectors of recognised tokens and
// L2-normalises. Trained embedders skip out-of-vocabulary tokens;
// untrained ones accept every token. Text with no usable tokens yields
// the zero vector.
func (w *WordVec) Transform(text string) []float32 {
	sum := make([]float32, w.dim)
	count := 0

	for _, tok := range Tokenize(text) {
		var v []float32
		if w.trained {
			v = w.vectors[tok]
			if v == nil {
				continue
			}
		} else {
			v = w.tokenVector(tok)
		}
		for i := range sum {
			sum[i] += v[i]
		}
		count++
	}

	if count == 0 {
		return sum
	}
	for i := range sum {
		sum[i] /= float32(count)
	}
	return vector.Normalize(sum)
}
