package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/beacon/internal/incident"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type fakeSearcher struct {
	matches   []incident.Match
	vecErr    error
	items     []incident.MemoryItem
	fbErr     error
	gotLimit  int
	gotThresh float64
}

func (f *fakeSearcher) SearchMemoryVectors(_ context.Context, _ []float32, threshold float64, limit int) ([]incident.Match, error) {
	f.gotThresh = threshold
	f.gotLimit = limit
	return f.matches, f.vecErr
}

func (f *fakeSearcher) SearchMemoryFallback(_ context.Context, _ string, _ []string, _ int) ([]incident.MemoryItem, error) {
	return f.items, f.fbErr
}

func TestSearch_EmbedFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeEmbedder{err: errors.New("quota")}, &fakeSearcher{}, 0, 0, nil)
	got := e.Search(context.Background(), Query{Text: "sql injection"}, 3)

	if len(got.Items) != 0 {
		t.Errorf("items = %d, want 0", len(got.Items))
	}
	if got.QueryVec != nil {
		t.Error("expected nil query vector on embed failure")
	}
}

func TestSearch_ZeroVectorYieldsEmpty(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeEmbedder{vec: make([]float32, 8)}, &fakeSearcher{}, 0, 0, nil)
	got := e.Search(context.Background(), Query{Text: "anything"}, 3)

	if len(got.Items) != 0 {
		t.Errorf("items = %d, want 0", len(got.Items))
	}
}

func TestSearch_EmptyQueryOrTopK(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, 0, 0, nil)

	if got := e.Search(context.Background(), Query{Text: ""}, 3); len(got.Items) != 0 {
		t.Error("expected empty result for empty query text")
	}
	if got := e.Search(context.Background(), Query{Text: "x"}, 0); len(got.Items) != 0 {
		t.Error("expected empty result for zero topK")
	}
}

func TestSearch_OversamplesAndFilters(t *testing.T) {
	t.Parallel()

	store := &fakeSearcher{matches: []incident.Match{
		{ID: "1", Summary: "union sql injection", Service: "checkout", Similarity: 0.95},
		{ID: "2", Summary: "union sql injection again", Service: "checkout", Similarity: 0.92},
		{ID: "3", Summary: "auth failure spike", Service: "checkout", Similarity: 0.90},
	}}
	e := NewEngine(&fakeEmbedder{vec: []float32{0.1, 0.2}}, store, 0, 0, nil)

	got := e.Search(context.Background(), Query{Text: "union sql injection", Service: "checkout"}, 3)

	if store.gotLimit != 9 {
		t.Errorf("vector limit = %d, want 3x topK", store.gotLimit)
	}
	if store.gotThresh != DefaultThreshold {
		t.Errorf("threshold = %g, want default %g", store.gotThresh, DefaultThreshold)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2 after diversity filter", len(got.Items))
	}
	if got.Items[0].ID != "1" || got.Items[1].ID != "3" {
		t.Errorf("items = [%s %s], want [1 3]", got.Items[0].ID, got.Items[1].ID)
	}
	if len(got.QueryVec) != 2 {
		t.Errorf("query vector not propagated")
	}
	if got.Fallback {
		t.Error("Fallback set on a vector-store result")
	}
}

func TestSearchWithThreshold_Override(t *testing.T) {
	t.Parallel()

	store := &fakeSearcher{}
	e := NewEngine(&fakeEmbedder{vec: []float32{1}}, store, 0.7, 1, nil)

	e.SearchWithThreshold(context.Background(), Query{Text: "x"}, 3, 0.85)
	if store.gotThresh != 0.85 {
		t.Errorf("threshold = %g, want 0.85", store.gotThresh)
	}

	e.SearchWithThreshold(context.Background(), Query{Text: "x"}, 3, 0)
	if store.gotThresh != 0.7 {
		t.Errorf("threshold = %g, want engine default 0.7", store.gotThresh)
	}
}

func TestSearch_VectorFailureFallsBack(t *testing.T) {
	t.Parallel()

	store := &fakeSearcher{
		vecErr: errors.New("extension missing"),
		items: []incident.MemoryItem{
			{ID: "9", Summary: "past timeout", Service: "gateway", Solution: "scaled pool"},
		},
	}
	e := NewEngine(&fakeEmbedder{vec: []float32{1}}, store, 0, 0, nil)

	got := e.Search(context.Background(), Query{Text: "timeout", Service: "gateway"}, 3)

	if len(got.Items) != 1 {
		t.Fatalf("items = %d, want 1 from fallback", len(got.Items))
	}
	if got.Items[0].Similarity != fallbackSimilarity {
		t.Errorf("similarity = %g, want fixed fallback %g", got.Items[0].Similarity, fallbackSimilarity)
	}
	if got.Items[0].Solution != "scaled pool" {
		t.Errorf("solution = %q", got.Items[0].Solution)
	}
	if len(got.QueryVec) == 0 {
		t.Error("query vector should survive the fallback path")
	}
	if !got.Fallback {
		t.Error("Fallback not set on relational fallback result")
	}
}

func TestSearch_FallbackFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	store := &fakeSearcher{
		vecErr: errors.New("down"),
		fbErr:  errors.New("also down"),
	}
	e := NewEngine(&fakeEmbedder{vec: []float32{1}}, store, 0, 0, nil)

	got := e.Search(context.Background(), Query{Text: "timeout"}, 3)
	if len(got.Items) != 0 {
		t.Errorf("items = %d, want 0", len(got.Items))
	}
}
