package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/srhkb/kbchat/internal/knowledge"
)

// embedConcurrency bounds the variant fan-out so a wide expansion doesn't
// overwhelm the local embedding model.
const embedConcurrency = 4

// QueryEmbedder abstracts query embedding for the retriever.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the knowledge store the retriever needs.
type Searcher interface {
	Search(vector []float32, filters knowledge.Filters, limit int) ([]knowledge.SearchResult, error)
}

// Retriever runs one similarity search per expanded query variant and merges
// the results into a single ranked list.
type Retriever struct {
	embedder QueryEmbedder
	store    Searcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever backed by the given embedder and store.
func NewRetriever(embedder QueryEmbedder, store Searcher) *Retriever {
	return &Retriever{embedder: embedder, store: store, logger: slog.Default()}
}

// Retrieve embeds each query variant, searches the knowledge base per
// variant, merges and deduplicates the result sets, and returns the top-K
// entries by descending score.
//
// Expanded variants are semantically close, so the same entry routinely
// comes back from several searches: deduplication is by entry ID, then by
// content, first occurrence winning. A variant whose embedding or search
// fails is logged and skipped; if every variant fails the result is an empty
// list, not an error.
func (r *Retriever) Retrieve(ctx context.Context, variants []string, filters knowledge.Filters, topK int) []knowledge.SearchResult {
	if topK <= 0 || len(variants) == 0 {
		return nil
	}

	// Request more than topK per variant; the merged union is trimmed below.
	perVariant := topK * 2

	resultSets := make([][]knowledge.SearchResult, len(variants))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, variant := range variants {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gCtx, variant)
			if err != nil {
				r.logger.Warn("retrieval: embedding variant failed", "variant", variant, "error", err)
				return nil
			}
			results, err := r.store.Search(vec, filters, perVariant)
			if err != nil {
				r.logger.Warn("retrieval: search failed", "variant", variant, "error", err)
				return nil
			}
			resultSets[i] = results
			return nil
		})
	}
	// Workers only ever return nil; failures degrade to empty variant sets.
	g.Wait()

	merged := mergeResults(resultSets)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// mergeResults flattens per-variant result sets in variant order, drops
// duplicate entries, and re-sorts globally by descending score. Individual
// sets are only locally sorted, so the global sort is required.
func mergeResults(resultSets [][]knowledge.SearchResult) []knowledge.SearchResult {
	seenIDs := make(map[string]struct{})
	seenContent := make(map[string]struct{})

	var merged []knowledge.SearchResult
	for _, set := range resultSets {
		for _, res := range set {
			if _, ok := seenIDs[res.ID]; ok {
				continue
			}
			if _, ok := seenContent[res.Content]; ok {
				continue
			}
			seenIDs[res.ID] = struct{}{}
			seenContent[res.Content] = struct{}{}
			merged = append(merged, res)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}
