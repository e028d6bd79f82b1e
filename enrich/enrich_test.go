package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/index"
	"github.com/ostramo/parley/store"
	"github.com/ostramo/parley/store/badger"
	"github.com/ostramo/parley/vectordb"
)

type stubEmbedder struct{ calls int }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, string, error) {
	s.calls++
	return []float32{1, 0.5, float32(len(text) % 10)}, "tfidf_local", nil
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "see https://example.com/doc for details", []string{"https://example.com/doc"}},
		{"wrapped", "see <https://example.com/doc|the doc>", []string{"https://example.com/doc"}},
		{"trailing punctuation", "read https://example.com/a.", []string{"https://example.com/a"}},
		{"dedupe", "https://a.test and https://a.test again", []string{"https://a.test"}},
		{"none", "no links here", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractURLs(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractURLs(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProcessMessageIndexesLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Doc</title></head><body><article><p>
			Rollback procedure: scale down, restore the snapshot, scale up again.
			This paragraph needs enough content for the extractor to keep it.
		</p></article></body></html>`))
	}))
	defer srv.Close()

	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	db := vectordb.New(store.New(backend), vectordb.WithLSH(index.LSHConfig{Seed: 1}))
	t.Cleanup(func() { db.Close() })

	emb := &stubEmbedder{}
	e := New(db, emb, WithHTTPClient(srv.Client()))

	ev := parley.Event{Type: "message", Text: "docs at " + srv.URL, User: "U1", Channel: "C1", TS: "100.0"}
	e.ProcessMessage(context.Background(), ev)

	if emb.calls != 1 {
		t.Fatalf("embedder calls = %d, want 1", emb.calls)
	}

	rec, err := db.Get(context.Background(), "link_100.0_C1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Meta[parley.MetaSourceURL] != srv.URL {
		t.Errorf("source_url = %v", rec.Meta[parley.MetaSourceURL])
	}
	if rec.Meta.Channel() != "C1" || rec.Meta.Text() == "" {
		t.Errorf("meta = %+v", rec.Meta)
	}
}

func TestProcessMessageSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	backend, err := badger.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	db := vectordb.New(store.New(backend))
	t.Cleanup(func() { db.Close() })

	e := New(db, &stubEmbedder{}, WithHTTPClient(srv.Client()))
	ev := parley.Event{Text: "broken " + srv.URL, Channel: "C1", TS: "100.0"}
	e.ProcessMessage(context.Background(), ev) // must not panic or abort

	if n, _ := db.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
