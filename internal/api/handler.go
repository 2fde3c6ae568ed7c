package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/srhkb/kbchat/internal/analytics"
	"github.com/srhkb/kbchat/internal/cache"
	"github.com/srhkb/kbchat/internal/knowledge"
	"github.com/srhkb/kbchat/internal/pipeline"
)

const maxChatBodySize = 64 << 10  // 64KB
const maxEntryBodySize = 1 << 20  // 1MB

// Asker runs one query through the pipeline.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) pipeline.Response
}

// VocabularyInvalidator drops the cached keyword vocabulary after writes.
type VocabularyInvalidator interface {
	Invalidate()
}

// Summarizer produces the knowledge-base summary for GET /summary.
type Summarizer interface {
	Summary() (string, error)
}

// EntryEmbedder embeds new entry content at ingest time.
type EntryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Pipeline  Asker
	Responses *cache.ResponseCache // optional; nil disables response caching
	Store     knowledge.Store
	Vocab     VocabularyInvalidator
	Summary   Summarizer
	Embedder  EntryEmbedder
	Analytics *analytics.Recorder
	Token     string
}

// ChatRequest is the public query request body.
type ChatRequest struct {
	Text    string            `json:"text"`
	Filters map[string]string `json:"filters,omitempty"`
}

// ChatResult is one search result in the public response.
type ChatResult struct {
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
	Category string  `json:"category,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// ChatResponse is the public query response body.
type ChatResponse struct {
	SearchResults       []ChatResult `json:"search_results"`
	AIResponse          string       `json:"ai_response"`
	IsFromKnowledgeBase bool         `json:"is_from_knowledge_base"`
	RelevanceScore      float64      `json:"relevance_score"`
	SearchInfo          string       `json:"search_info,omitempty"`
}

// NewHandler builds the chi router: public chat/summary/health routes plus
// bearer-authenticated management routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps))
	r.Get("/summary", handleSummary(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/entries", handleCreateEntry(deps))
		r.Delete("/entries/{id}", handleDeleteEntry(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		filters := knowledge.Filters{
			Category: req.Filters["category"],
			Source:   req.Filters["source"],
		}

		if deps.Analytics != nil {
			deps.Analytics.RecordQuery(req.Text)
		}

		// Response cache is keyed by exact query text, so filtered queries
		// bypass it.
		useCache := deps.Responses != nil && filters == (knowledge.Filters{})
		if useCache {
			if resp, ok := deps.Responses.Get(req.Text); ok {
				writeJSON(w, http.StatusOK, toChatResponse(resp))
				return
			}
		}

		resp := deps.Pipeline.Ask(r.Context(), pipeline.Request{Text: req.Text, Filters: filters})
		if useCache {
			deps.Responses.Put(req.Text, resp)
		}

		writeJSON(w, http.StatusOK, toChatResponse(resp))
	}
}

func toChatResponse(resp pipeline.Response) ChatResponse {
	results := make([]ChatResult, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = ChatResult{
			Content:  res.Content,
			Score:    res.Score,
			Category: res.Category,
			Source:   res.Source,
		}
	}
	return ChatResponse{
		SearchResults:       results,
		AIResponse:          resp.Content,
		IsFromKnowledgeBase: resp.FromKnowledgeBase,
		RelevanceScore:      resp.RelevanceScore,
		SearchInfo:          resp.SearchInfo,
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Summary.Summary()
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to build summary: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

// EntryRequest is the ingest body for one knowledge entry.
type EntryRequest struct {
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Source   string   `json:"source"`
	Keywords []string `json:"keywords"`
}

func handleCreateEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxEntryBodySize)
		defer r.Body.Close()

		var req EntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		vec, err := deps.Embedder.Embed(r.Context(), req.Content)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to embed content: %v", err)
			return
		}

		entry := knowledge.Entry{
			ID:        uuid.New().String(),
			Content:   req.Content,
			Category:  req.Category,
			Source:    req.Source,
			Keywords:  req.Keywords,
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.Insert([]knowledge.Entry{entry}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store entry: %v", err)
			return
		}
		deps.Vocab.Invalidate()

		writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
	}
}

func handleDeleteEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.Delete(id); err != nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "failed to delete entry: %v", err)
			return
		}
		deps.Vocab.Invalidate()
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// FeedbackRequest rates a previous response.
type FeedbackRequest struct {
	Response string `json:"response"`
	Feedback string `json:"feedback"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		kind := analytics.FeedbackKind(req.Feedback)
		if kind != analytics.FeedbackPositive && kind != analytics.FeedbackNegative {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedback must be %q or %q", analytics.FeedbackPositive, analytics.FeedbackNegative)
			return
		}

		deps.Analytics.RecordFeedback(req.Response, kind)
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"feedback":        deps.Analytics.FeedbackStats(),
			"popular_queries": deps.Analytics.PopularQueries(5),
			"trends":          deps.Analytics.Trends(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
