package embed

import (
	"math"
	"reflect"
	"testing"

	"github.com/ostramo/parley/vector"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "Deploy the new Service", []string{"deploy", "service"}},
		{"short tokens dropped", "go is ok", nil},
		{"punctuation splits", "retry-loop, again!", []string{"retry", "loop", "again"}},
		{"stopwords dropped", "this is about the deployment", []string{"deployment"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tokenize(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func fittedTFIDF(t *testing.T) *TFIDF {
	t.Helper()
	tf := NewTFIDF()
	tf.Fit([]string{
		"deploy service production",
		"deploy database staging",
		"restart service production",
		"database backup schedule",
	})
	return tf
}

func TestTFIDFVocabulary(t *testing.T) {
	tf := fittedTFIDF(t)
	if !tf.Trained() {
		t.Fatal("expected trained embedder")
	}
	// "deploy", "service", "production", "database" appear in 2 docs each
	// and under the 80% ceiling; single-occurrence tokens are excluded.
	if tf.Dimensions() != tfidfMinDim {
		t.Errorf("Dimensions = %d, want floor %d", tf.Dimensions(), tfidfMinDim)
	}
	v := tf.Transform("deploy the service")
	if vector.Magnitude(v) == 0 {
		t.Error("expected non-zero vector for in-vocabulary text")
	}
	if m := vector.Magnitude(v); math.Abs(m-1) > 1e-5 {
		t.Errorf("magnitude = %v, want 1", m)
	}
}

func TestTFIDFZeroCases(t *testing.T) {
	tf := fittedTFIDF(t)
	if v := tf.Transform("xyzzy unknown"); vector.Magnitude(v) != 0 {
		t.Error("expected zero vector for out-of-vocabulary text")
	}
	if v := tf.Transform("the and for"); vector.Magnitude(v) != 0 {
		t.Error("expected zero vector for stopword-only text")
	}

	untrained := NewTFIDF()
	v := untrained.Transform("deploy service")
	if len(v) != tfidfMinDim || vector.Magnitude(v) != 0 {
		t.Errorf("untrained transform: len=%d mag=%v", len(v), vector.Magnitude(v))
	}
}

func TestTFIDFDeterministic(t *testing.T) {
	a := fittedTFIDF(t).Transform("deploy service production")
	b := fittedTFIDF(t).Transform("deploy service production")
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical vectors across fits of the same corpus")
	}
}

func TestWordVecTrained(t *testing.T) {
	w := NewWordVec(0, 7)
	corpus := []string{
		"deploy deploy deploy service",
		"service service restart",
		"restart restart deploy",
	}
	w.Fit(corpus)
	if !w.Trained() {
		t.Fatal("expected trained embedder")
	}

	v := w.Transform("deploy service")
	if len(v) != 128 {
		t.Fatalf("len = %d, want 128", len(v))
	}
	if m := vector.Magnitude(v); math.Abs(m-1) > 1e-5 {
		t.Errorf("magnitude = %v, want 1", m)
	}

	// Low-frequency tokens are out of vocabulary after training.
	if v := w.Transform("xyzzy"); vector.Magnitude(v) != 0 {
		t.Error("expected zero vector for out-of-vocabulary text")
	}
}

func TestWordVecUntrainedIsStable(t *testing.T) {
	a := NewWordVec(0, 7).Transform("deploy service")
	b := NewWordVec(0, 7).Transform("deploy service")
	if vector.Magnitude(a) == 0 {
		t.Fatal("untrained embedder should still embed tokens")
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("expected deterministic untrained output for the same seed")
	}
}

func TestWordVecSimilarTextsCloser(t *testing.T) {
	w := NewWordVec(0, 7)
	a := w.Transform("deploy service production cluster")
	b := w.Transform("deploy service production rollout")
	c := w.Transform("lunch menu friday")
	if vector.Cosine(a, b) <= vector.Cosine(a, c) {
		t.Error("overlapping texts should score higher than disjoint ones")
	}
}
