package query

import (
	"math"
	"strings"
)

// DefaultRelevanceThreshold is deliberately low: any shared vocabulary token
// between the query and the knowledge-base keywords should trigger retrieval.
const DefaultRelevanceThreshold = 0.05

// Classifier decides whether a query is in scope of the knowledge base by
// comparing it against the current keyword vocabulary.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a Classifier with the given relevance threshold.
// If threshold <= 0, DefaultRelevanceThreshold is used.
func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify builds a TF-IDF representation jointly over the keyword vocabulary
// (each keyword as a one-term document) and the query, computes cosine
// similarity between the query vector and every keyword vector, and returns
// the maximum as the relevance score. The verdict is score > threshold.
//
// An empty vocabulary or a query with no usable terms yields (false, 0);
// classification never fails.
func (c *Classifier) Classify(normalizedQuery string, vocabulary []string) (bool, float64) {
	if len(vocabulary) == 0 || normalizedQuery == "" {
		return false, 0
	}

	docs := make([][]string, 0, len(vocabulary)+1)
	for _, kw := range vocabulary {
		docs = append(docs, tokenize(kw))
	}
	queryTokens := tokenize(normalizedQuery)
	if len(queryTokens) == 0 {
		return false, 0
	}
	docs = append(docs, queryTokens)

	idf := inverseDocumentFrequency(docs)

	queryVec := tfidfVector(queryTokens, idf)
	if len(queryVec) == 0 {
		return false, 0
	}

	var max float64
	for i := range vocabulary {
		sim := cosine(queryVec, tfidfVector(docs[i], idf))
		if sim > max {
			max = sim
		}
	}

	return max > c.threshold, max
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// inverseDocumentFrequency computes smoothed IDF weights over the joint
// document set: ln((1+N)/(1+df)) + 1.
func inverseDocumentFrequency(docs [][]string) map[string]float64 {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, term := range doc {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((1+n)/(1+float64(count))) + 1
	}
	return idf
}

// tfidfVector returns the L2-normalized TF-IDF vector for a document as a
// sparse term -> weight map. Returns an empty map for an empty document.
func tfidfVector(doc []string, idf map[string]float64) map[string]float64 {
	vec := make(map[string]float64, len(doc))
	for _, term := range doc {
		vec[term] += idf[term]
	}

	var normSq float64
	for _, w := range vec {
		normSq += w * w
	}
	if normSq == 0 {
		return map[string]float64{}
	}

	norm := math.Sqrt(normSq)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

// cosine computes the dot product of two L2-normalized sparse vectors.
func cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a {
		dot += w * b[term]
	}
	return dot
}
