package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/srhkb/kbchat/internal/knowledge"
)

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFunc(ctx, text)
}

type mockSearcher struct {
	searchFunc func(vector []float32, filters knowledge.Filters, limit int) ([]knowledge.SearchResult, error)
}

func (m *mockSearcher) Search(vector []float32, filters knowledge.Filters, limit int) ([]knowledge.SearchResult, error) {
	return m.searchFunc(vector, filters, limit)
}

func result(id, content string, score float32) knowledge.SearchResult {
	return knowledge.SearchResult{
		Entry: knowledge.Entry{ID: id, Content: content},
		Score: score,
	}
}

func TestRetrieveMergesAndDeduplicates(t *testing.T) {
	// Both variants return entry "a"; only the first occurrence survives.
	byVariant := map[string][]knowledge.SearchResult{
		"srh admissions": {
			result("a", "admissions info", 0.9),
			result("b", "campus info", 0.5),
		},
		"srh hochschule heidelberg admissions": {
			result("a", "admissions info", 0.85),
			result("c", "tuition info", 0.7),
		},
	}

	embedder := &mockEmbedder{
		embedFunc: func(_ context.Context, text string) ([]float32, error) {
			return []float32{float32(len(text))}, nil
		},
	}
	searcher := &mockSearcher{
		searchFunc: func(vec []float32, _ knowledge.Filters, _ int) ([]knowledge.SearchResult, error) {
			for variant, set := range byVariant {
				if float32(len(variant)) == vec[0] {
					return set, nil
				}
			}
			return nil, nil
		},
	}

	r := NewRetriever(embedder, searcher)
	got := r.Retrieve(context.Background(), []string{"srh admissions", "srh hochschule heidelberg admissions"}, knowledge.Filters{}, 5)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(got), got)
	}
	// Global re-sort by descending score across variants.
	wantOrder := []string{"a", "c", "b"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("result %d = %q (score %.2f), want %q", i, got[i].ID, got[i].Score, id)
		}
	}
}

func TestRetrieveContentDeduplication(t *testing.T) {
	// Distinct IDs with identical content collapse to one result.
	embedder := &mockEmbedder{
		embedFunc: func(context.Context, string) ([]float32, error) { return []float32{1}, nil },
	}
	searcher := &mockSearcher{
		searchFunc: func([]float32, knowledge.Filters, int) ([]knowledge.SearchResult, error) {
			return []knowledge.SearchResult{
				result("a", "same text", 0.8),
				result("b", "same text", 0.6),
			}, nil
		},
	}

	r := NewRetriever(embedder, searcher)
	got := r.Retrieve(context.Background(), []string{"q"}, knowledge.Filters{}, 5)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %+v, want single result with ID a", got)
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(context.Context, string) ([]float32, error) { return []float32{1}, nil },
	}
	searcher := &mockSearcher{
		searchFunc: func(_ []float32, _ knowledge.Filters, limit int) ([]knowledge.SearchResult, error) {
			if limit != 4 {
				t.Errorf("per-variant limit = %d, want topK*2 = 4", limit)
			}
			return []knowledge.SearchResult{
				result("a", "one", 0.9),
				result("b", "two", 0.8),
				result("c", "three", 0.7),
			}, nil
		},
	}

	r := NewRetriever(embedder, searcher)
	got := r.Retrieve(context.Background(), []string{"q"}, knowledge.Filters{}, 2)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
}

func TestRetrieveSkipsFailedVariants(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(_ context.Context, text string) ([]float32, error) {
			if text == "bad" {
				return nil, errors.New("embed failed")
			}
			return []float32{1}, nil
		},
	}
	searcher := &mockSearcher{
		searchFunc: func([]float32, knowledge.Filters, int) ([]knowledge.SearchResult, error) {
			return []knowledge.SearchResult{result("a", "ok", 0.5)}, nil
		},
	}

	r := NewRetriever(embedder, searcher)
	got := r.Retrieve(context.Background(), []string{"bad", "good"}, knowledge.Filters{}, 5)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %+v, want the surviving variant's result", got)
	}
}

func TestRetrieveAllVariantsFail(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("down")
		},
	}
	r := NewRetriever(embedder, &mockSearcher{
		searchFunc: func([]float32, knowledge.Filters, int) ([]knowledge.SearchResult, error) {
			t.Error("search must not be called when embedding fails")
			return nil, nil
		},
	})

	if got := r.Retrieve(context.Background(), []string{"a", "b"}, knowledge.Filters{}, 5); len(got) != 0 {
		t.Fatalf("got %+v, want empty", got)
	}
}

func TestRetrieveZeroTopK(t *testing.T) {
	r := NewRetriever(&mockEmbedder{
		embedFunc: func(context.Context, string) ([]float32, error) {
			t.Error("embed must not be called")
			return nil, nil
		},
	}, nil)
	if got := r.Retrieve(context.Background(), []string{"q"}, knowledge.Filters{}, 0); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}
