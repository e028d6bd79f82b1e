package observer

import (
	"context"
	"errors"
	"testing"

	parley "github.com/ostramo/parley"
)

// The default global OTEL providers are no-ops, so instruments can be
// built and exercised without an exporter.

type fakeProvider struct {
	resp parley.ChatResponse
	err  error
}

func (f *fakeProvider) Chat(context.Context, parley.ChatRequest) (parley.ChatResponse, error) {
	return f.resp, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, string, error) {
	return []float32{1, 2, 3}, "tfidf_local", nil
}

func TestWrapProviderPassesThrough(t *testing.T) {
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}

	want := parley.ChatResponse{
		Content: "hello",
		Model:   "m1",
		Usage:   parley.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
	}
	wrapped := WrapProvider(&fakeProvider{resp: want}, "m1", inst)

	if wrapped.Name() != "fake" {
		t.Errorf("Name = %q", wrapped.Name())
	}
	got, err := wrapped.Chat(context.Background(), parley.ChatRequest{Model: "m1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Content != want.Content || got.Usage != want.Usage {
		t.Errorf("response = %+v", got)
	}
}

func TestWrapProviderPropagatesError(t *testing.T) {
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}

	wantErr := errors.New("upstream down")
	wrapped := WrapProvider(&fakeProvider{err: wantErr}, "m1", inst)

	if _, err := wrapped.Chat(context.Background(), parley.ChatRequest{}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestWrapEmbedderPassesThrough(t *testing.T) {
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}

	vec, method, err := WrapEmbedder(fakeEmbedder{}, inst).Embed(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || method != "tfidf_local" {
		t.Errorf("vec = %v, method = %q", vec, method)
	}
}
