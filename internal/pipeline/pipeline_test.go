package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/srhkb/kbchat/internal/composer"
	"github.com/srhkb/kbchat/internal/knowledge"
	"github.com/srhkb/kbchat/internal/query"
)

type mockGenerator struct {
	generateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generateFunc(ctx, prompt)
}

type mockVocab struct {
	keywordsFunc func() ([]string, error)
	summaryFunc  func() (string, error)
}

func (m *mockVocab) Keywords() ([]string, error) { return m.keywordsFunc() }
func (m *mockVocab) Summary() (string, error)    { return m.summaryFunc() }

type mockRetriever struct {
	retrieveFunc func(ctx context.Context, variants []string, filters knowledge.Filters, topK int) []knowledge.SearchResult
}

func (m *mockRetriever) Retrieve(ctx context.Context, variants []string, filters knowledge.Filters, topK int) []knowledge.SearchResult {
	return m.retrieveFunc(ctx, variants, filters, topK)
}

func newTestPipeline(vocab VocabularyProvider, retriever Retriever, generator Generator) *Pipeline {
	return New(
		query.NewClassifier(0),
		query.NewExpander(nil),
		vocab,
		retriever,
		composer.New(0),
		generator,
		5,
	)
}

func staticVocab(keywords ...string) *mockVocab {
	return &mockVocab{
		keywordsFunc: func() ([]string, error) { return keywords, nil },
		summaryFunc:  func() (string, error) { return "Knowledge base contains 1 entries.", nil },
	}
}

func echoGenerator() *mockGenerator {
	return &mockGenerator{
		generateFunc: func(_ context.Context, prompt string) (string, error) { return prompt, nil },
	}
}

func noRetrieval(t *testing.T) *mockRetriever {
	return &mockRetriever{
		retrieveFunc: func(context.Context, []string, knowledge.Filters, int) []knowledge.SearchResult {
			t.Error("retrieval must not run for this query")
			return nil
		},
	}
}

func TestAskGreeting(t *testing.T) {
	gen := &mockGenerator{
		generateFunc: func(context.Context, string) (string, error) {
			t.Error("generation must not run for greetings")
			return "", nil
		},
	}
	p := newTestPipeline(staticVocab("admissions"), noRetrieval(t), gen)

	for _, text := range []string{"hi", "Hello", "  HEY  "} {
		resp := p.Ask(context.Background(), Request{Text: text})
		if resp.Kind != KindGreeting {
			t.Errorf("Ask(%q) kind = %q, want greeting", text, resp.Kind)
		}
		if resp.Content != greetingText {
			t.Errorf("Ask(%q) content = %q", text, resp.Content)
		}
		if resp.FromKnowledgeBase {
			t.Errorf("Ask(%q) marked as from knowledge base", text)
		}
	}
}

func TestAskMetaQuery(t *testing.T) {
	p := newTestPipeline(staticVocab("admissions"), noRetrieval(t), echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "What do you know?"})
	if resp.Kind != KindSummary {
		t.Fatalf("kind = %q, want summary", resp.Kind)
	}
	if resp.Content != "Knowledge base contains 1 entries." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.RelevanceScore != 1.0 || !resp.FromKnowledgeBase {
		t.Errorf("meta query must report score 1.0 from the knowledge base, got %.2f/%v", resp.RelevanceScore, resp.FromKnowledgeBase)
	}
	if len(resp.Results) != 0 {
		t.Errorf("meta query must not carry search results, got %d", len(resp.Results))
	}
}

func TestAskGrounded(t *testing.T) {
	results := []knowledge.SearchResult{
		{Entry: knowledge.Entry{ID: "a", Content: "Admissions close in July."}, Score: 0.9},
	}
	var gotVariants []string
	retriever := &mockRetriever{
		retrieveFunc: func(_ context.Context, variants []string, _ knowledge.Filters, topK int) []knowledge.SearchResult {
			gotVariants = variants
			if topK != 5 {
				t.Errorf("topK = %d, want 5", topK)
			}
			return results
		},
	}
	p := newTestPipeline(staticVocab("admissions", "campus"), retriever, echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "srh admissions deadline?"})
	if resp.Kind != KindGrounded {
		t.Fatalf("kind = %q, want grounded", resp.Kind)
	}
	if !resp.FromKnowledgeBase {
		t.Error("grounded response must be marked from knowledge base")
	}
	if resp.RelevanceScore <= 0.05 {
		t.Errorf("relevance score = %.4f, want above threshold", resp.RelevanceScore)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "a" {
		t.Errorf("results = %+v", resp.Results)
	}
	if resp.SearchInfo != "Found 1 relevant results" {
		t.Errorf("search info = %q", resp.SearchInfo)
	}
	// The generator echoes the prompt: it must be grounded and carry the
	// retrieved context.
	if !strings.Contains(resp.Content, "Admissions close in July.") {
		t.Error("prompt missing retrieved context")
	}
	// Expansion ran on the normalized query.
	if len(gotVariants) == 0 || gotVariants[0] != "srh admissions deadline" {
		t.Errorf("variants = %v", gotVariants)
	}
}

func TestAskUngrounded(t *testing.T) {
	p := newTestPipeline(staticVocab("admissions"), noRetrieval(t), echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "how do volcanoes form"})
	if resp.Kind != KindUngrounded {
		t.Fatalf("kind = %q, want ungrounded", resp.Kind)
	}
	if resp.FromKnowledgeBase {
		t.Error("ungrounded response must not be marked from knowledge base")
	}
	if resp.SearchInfo != "No relevant results found in knowledge base" {
		t.Errorf("search info = %q", resp.SearchInfo)
	}
	if !strings.Contains(resp.Content, "was not found in our knowledge base") {
		t.Error("ungrounded prompt not used")
	}
}

func TestAskGenerationFailure(t *testing.T) {
	gen := &mockGenerator{
		generateFunc: func(context.Context, string) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	retriever := &mockRetriever{
		retrieveFunc: func(context.Context, []string, knowledge.Filters, int) []knowledge.SearchResult {
			return nil
		},
	}
	p := newTestPipeline(staticVocab("admissions"), retriever, gen)

	resp := p.Ask(context.Background(), Request{Text: "admissions info"})
	if resp.Kind != KindGrounded {
		t.Fatalf("kind = %q, want grounded", resp.Kind)
	}
	if resp.Content != apologyText {
		t.Errorf("content = %q, want apology", resp.Content)
	}
}

func TestAskVocabularyFailureFallsBackToUngrounded(t *testing.T) {
	vocab := &mockVocab{
		keywordsFunc: func() ([]string, error) { return nil, errors.New("store down") },
		summaryFunc:  func() (string, error) { return "", nil },
	}
	p := newTestPipeline(vocab, noRetrieval(t), echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "admissions info"})
	if resp.Kind != KindUngrounded {
		t.Fatalf("kind = %q, want ungrounded", resp.Kind)
	}
	if resp.RelevanceScore != 0 {
		t.Errorf("score = %v, want 0", resp.RelevanceScore)
	}
}

func TestAskSummaryFailure(t *testing.T) {
	vocab := &mockVocab{
		keywordsFunc: func() ([]string, error) { return nil, nil },
		summaryFunc:  func() (string, error) { return "", errors.New("store down") },
	}
	p := newTestPipeline(vocab, noRetrieval(t), echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "what do you know?"})
	if resp.Kind != KindSummary {
		t.Fatalf("kind = %q, want summary", resp.Kind)
	}
	if resp.Content != summaryUnavailableText {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestAskRecoversFromPanic(t *testing.T) {
	vocab := &mockVocab{
		keywordsFunc: func() ([]string, error) { panic("boom") },
		summaryFunc:  func() (string, error) { return "", nil },
	}
	p := newTestPipeline(vocab, noRetrieval(t), echoGenerator())

	resp := p.Ask(context.Background(), Request{Text: "admissions"})
	if resp.Kind != KindError {
		t.Fatalf("kind = %q, want error", resp.Kind)
	}
	if resp.Content != errorText {
		t.Errorf("content = %q", resp.Content)
	}
}
