// Package pipeline orchestrates one query end-to-end: short-circuits,
// relevance gating, expansion, retrieval, context assembly, and generation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/srhkb/kbchat/internal/composer"
	"github.com/srhkb/kbchat/internal/knowledge"
	"github.com/srhkb/kbchat/internal/query"
)

// Kind classifies a pipeline response.
type Kind string

const (
	KindGreeting   Kind = "greeting"
	KindSummary    Kind = "summary"
	KindGrounded   Kind = "grounded"
	KindUngrounded Kind = "ungrounded"
	KindError      Kind = "error"
)

const (
	greetingText = "Hello! How can I assist you with information about SRH Hochschule Heidelberg today?"
	apologyText  = "I apologize, but I'm unable to generate a response at the moment."
	errorText    = "An error occurred while processing your request. Please try again."

	summaryUnavailableText = "Unable to generate a knowledge base summary at the moment."
)

// greetings are matched case-insensitively against the trimmed raw query
// before any classification runs.
var greetings = map[string]struct{}{
	"hi":    {},
	"hello": {},
	"hey":   {},
}

// metaQueries ask what the system knows; they bypass retrieval and return
// the knowledge-base summary with relevance forced to 1.
var metaQueries = map[string]struct{}{
	"what is in your knowledge base?": {},
	"what do you know?":               {},
	"what information do you have?":   {},
}

// Request is one incoming user query.
type Request struct {
	Text    string
	Filters knowledge.Filters
}

// Response is the terminal output of the pipeline for one query.
type Response struct {
	Kind              Kind
	Content           string
	FromKnowledgeBase bool
	RelevanceScore    float64
	Results           []knowledge.SearchResult
	SearchInfo        string
}

// Generator produces the final answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VocabularyProvider supplies the keyword vocabulary and summary of the
// knowledge base.
type VocabularyProvider interface {
	Keywords() ([]string, error)
	Summary() (string, error)
}

// Retriever returns ranked search results for a set of query variants.
type Retriever interface {
	Retrieve(ctx context.Context, variants []string, filters knowledge.Filters, topK int) []knowledge.SearchResult
}

// Pipeline sequences normalization, relevance gating, expansion, retrieval,
// context assembly, and generation. It holds no mutable state beyond
// configuration and is safe for concurrent callers.
type Pipeline struct {
	classifier *query.Classifier
	expander   *query.Expander
	vocab      VocabularyProvider
	retriever  Retriever
	composer   *composer.Composer
	generator  Generator
	topK       int
	logger     *slog.Logger
}

// New creates a Pipeline wired to all collaborators.
// topK controls how many results are retrieved (default 5 if <= 0).
func New(
	classifier *query.Classifier,
	expander *query.Expander,
	vocab VocabularyProvider,
	retriever Retriever,
	comp *composer.Composer,
	generator Generator,
	topK int,
) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		classifier: classifier,
		expander:   expander,
		vocab:      vocab,
		retriever:  retriever,
		composer:   comp,
		generator:  generator,
		topK:       topK,
		logger:     slog.Default(),
	}
}

// Ask processes one query to a terminal Response. It never returns an error
// and never panics past its own boundary: provider failures degrade to a
// best-effort textual answer, anything unexpected becomes an error-kind
// Response.
func (p *Pipeline) Ask(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline: unexpected failure", "query", req.Text, "panic", r)
			resp = Response{Kind: KindError, Content: errorText}
		}
	}()

	lowered := strings.ToLower(strings.TrimSpace(req.Text))

	if _, ok := greetings[lowered]; ok {
		return Response{
			Kind:    KindGreeting,
			Content: greetingText,
		}
	}

	if _, ok := metaQueries[lowered]; ok {
		return p.summarize()
	}

	normalized := query.Normalize(req.Text)

	vocabulary, err := p.vocab.Keywords()
	if err != nil {
		// No vocabulary means no relevance possible; the query still gets
		// an answer via the ungrounded path.
		p.logger.Warn("pipeline: loading vocabulary failed", "query", req.Text, "error", err)
		vocabulary = nil
	}

	relevant, score := p.classifier.Classify(normalized, vocabulary)
	if !relevant {
		return p.answerUngrounded(ctx, req.Text, score)
	}

	variants := p.expander.Expand(normalized)
	results := p.retriever.Retrieve(ctx, variants, req.Filters, p.topK)

	contextBlock := p.composer.BuildContext(results)
	prompt := p.composer.BuildPrompt(req.Text, contextBlock, true)

	content, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		p.logger.Error("pipeline: generation failed", "query", req.Text, "stage", "grounded", "error", err)
		content = apologyText
	}

	return Response{
		Kind:              KindGrounded,
		Content:           content,
		FromKnowledgeBase: true,
		RelevanceScore:    score,
		Results:           results,
		SearchInfo:        fmt.Sprintf("Found %d relevant results", len(results)),
	}
}

func (p *Pipeline) answerUngrounded(ctx context.Context, text string, score float64) Response {
	prompt := p.composer.BuildPrompt(text, "", false)

	content, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		p.logger.Error("pipeline: generation failed", "query", text, "stage", "ungrounded", "error", err)
		content = apologyText
	}

	return Response{
		Kind:           KindUngrounded,
		Content:        content,
		RelevanceScore: score,
		SearchInfo:     "No relevant results found in knowledge base",
	}
}

func (p *Pipeline) summarize() Response {
	content, err := p.vocab.Summary()
	if err != nil {
		p.logger.Error("pipeline: summary failed", "error", err)
		content = summaryUnavailableText
	}

	return Response{
		Kind:              KindSummary,
		Content:           content,
		FromKnowledgeBase: true,
		RelevanceScore:    1.0,
	}
}
